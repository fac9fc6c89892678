package handlers

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// LoggingBackend stands in for the document, media and model services. It
// logs each request, waits Delay and returns a plausible result.
type LoggingBackend struct {
	Logger *slog.Logger
	Delay  time.Duration
}

func (b *LoggingBackend) Convert(ctx context.Context, tenantID string, p DocumentConvertPayload) (Conversion, error) {
	b.Logger.InfoContext(ctx, "Converting document",
		slog.String("tenant_id", tenantID),
		slog.String("storage_path", p.StoragePath),
		slog.String("mimetype", p.Mimetype),
	)
	if err := b.wait(ctx); err != nil {
		return Conversion{}, err
	}

	return Conversion{
		DocumentID:    uuid.NewString(),
		Title:         DocumentTitle(p.OriginalFilename),
		ContentLength: int(p.FileSize),
	}, nil
}

func (b *LoggingBackend) Transcribe(ctx context.Context, tenantID string, p VideoIngestPayload) (Transcription, error) {
	b.Logger.InfoContext(ctx, "Transcribing video",
		slog.String("tenant_id", tenantID),
		slog.String("storage_path", p.StoragePath),
		slog.String("source_url", p.SourceURL()),
	)
	if err := b.wait(ctx); err != nil {
		return Transcription{}, err
	}

	title := DocumentTitle(p.OriginalFilename)
	if title == "" {
		title = "Video transcript"
	}
	return Transcription{
		DocumentID: uuid.NewString(),
		Title:      title,
		Method:     "logging",
	}, nil
}

func (b *LoggingBackend) Generate(ctx context.Context, tenantID string, p AIGenerationPayload) (Generation, error) {
	b.Logger.InfoContext(ctx, "Generating content",
		slog.String("tenant_id", tenantID),
		slog.String("model", p.Model),
		slog.Int("max_tokens", p.MaxTokens),
	)
	if err := b.wait(ctx); err != nil {
		return Generation{}, err
	}

	return Generation{
		DocumentID:  uuid.NewString(),
		Title:       promptTitle(p.Prompt),
		Model:       p.Model,
		Provider:    Provider(p.Model),
		TokensInput: utf8.RuneCountInString(p.Prompt) / 4,
	}, nil
}

func (b *LoggingBackend) wait(ctx context.Context) error {
	if b.Delay <= 0 {
		return nil
	}

	timer := time.NewTimer(b.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DocumentTitle derives a title from an uploaded file name:
// "q3_sales-report.pdf" becomes "q3 sales report".
func DocumentTitle(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

// Provider maps a model name to the company serving it.
func Provider(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt"):
		return "openai"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	default:
		return "unknown"
	}
}

func promptTitle(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}
