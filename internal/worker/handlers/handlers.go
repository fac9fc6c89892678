// Package handlers implements the built-in job types. Each handler validates
// its payload and delegates the actual work to a backend.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker"
	"github.com/cuongbtq/jobqueue/internal/worker/domain"
)

// Job types
const (
	TypeDocumentConvert = "document_convert"
	TypeVideoIngest     = "video_ingest"
	TypeAIGeneration    = "ai_generation"
	TypeTestJob         = "test_job"
)

// Conversion is the outcome of converting a document to markdown.
type Conversion struct {
	DocumentID    string
	Title         string
	ContentLength int
}

// Transcription is the outcome of ingesting a video.
type Transcription struct {
	DocumentID       string
	Title            string
	DurationMinutes  float64
	TranscriptLength int
	Method           string
}

// Generation is the outcome of an AI generation request.
type Generation struct {
	DocumentID   string
	Title        string
	Model        string
	Provider     string
	TokensInput  int
	TokensOutput int
}

// Converter turns an uploaded document into a markdown document.
type Converter interface {
	Convert(ctx context.Context, tenantID string, p DocumentConvertPayload) (Conversion, error)
}

// Transcriber turns a video into a transcript document.
type Transcriber interface {
	Transcribe(ctx context.Context, tenantID string, p VideoIngestPayload) (Transcription, error)
}

// Generator produces a document from a prompt.
type Generator interface {
	Generate(ctx context.Context, tenantID string, p AIGenerationPayload) (Generation, error)
}

// Backends bundles the collaborators the built-in handlers delegate to.
type Backends struct {
	Converter   Converter
	Transcriber Transcriber
	Generator   Generator
}

// Register adds every built-in job type to reg.
func Register(reg *worker.Registry, b Backends) {
	reg.Register(TypeDocumentConvert, worker.Typed(documentConvert(b.Converter)))
	reg.Register(TypeVideoIngest, worker.Typed(videoIngest(b.Transcriber)))
	reg.Register(TypeAIGeneration, worker.Typed(aiGeneration(b.Generator)))
	reg.Register(TypeTestJob, worker.Typed(testJob))
}

func documentConvert(c Converter) func(context.Context, worker.Task, DocumentConvertPayload) (worker.Result, error) {
	return func(ctx context.Context, task worker.Task, p DocumentConvertPayload) (worker.Result, error) {
		out, err := c.Convert(ctx, task.TenantID, p)
		if err != nil {
			return worker.Result{}, fmt.Errorf("failed to convert document: %w", err)
		}
		return worker.Result{Summary: map[string]any{
			"document_id":    out.DocumentID,
			"title":          out.Title,
			"content_length": out.ContentLength,
		}}, nil
	}
}

func videoIngest(t Transcriber) func(context.Context, worker.Task, VideoIngestPayload) (worker.Result, error) {
	return func(ctx context.Context, task worker.Task, p VideoIngestPayload) (worker.Result, error) {
		out, err := t.Transcribe(ctx, task.TenantID, p)
		if err != nil {
			return worker.Result{}, fmt.Errorf("failed to ingest video: %w", err)
		}
		return worker.Result{Summary: map[string]any{
			"document_id":          out.DocumentID,
			"title":                out.Title,
			"duration_minutes":     out.DurationMinutes,
			"transcript_length":    out.TranscriptLength,
			"is_youtube":           p.YoutubeURL != "",
			"transcription_method": out.Method,
		}}, nil
	}
}

func aiGeneration(g Generator) func(context.Context, worker.Task, AIGenerationPayload) (worker.Result, error) {
	return func(ctx context.Context, task worker.Task, p AIGenerationPayload) (worker.Result, error) {
		out, err := g.Generate(ctx, task.TenantID, p)
		if err != nil {
			return worker.Result{}, fmt.Errorf("failed to generate content: %w", err)
		}
		return worker.Result{Summary: map[string]any{
			"document_id": out.DocumentID,
			"title":       out.Title,
			"model":       out.Model,
			"provider":    out.Provider,
			// Keys containing "token" are redacted on persist.
			"usage": map[string]any{
				"input":  out.TokensInput,
				"output": out.TokensOutput,
			},
		}}, nil
	}
}

func testJob(ctx context.Context, task worker.Task, p TestJobPayload) (worker.Result, error) {
	if p.SleepMS > 0 {
		timer := time.NewTimer(time.Duration(p.SleepMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return worker.Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	switch p.Fail {
	case FailTransient:
		return worker.Result{}, domain.NewRetryableError(fmt.Errorf("simulated failure on attempt %d", task.Attempt))
	case FailPermanent:
		return worker.Result{}, domain.NewPermanentError(errors.New("simulated permanent failure"))
	}

	return worker.Result{Summary: map[string]any{
		"message": p.Message,
		"attempt": task.Attempt,
	}}, nil
}
