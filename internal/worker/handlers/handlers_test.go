package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/jobqueue/internal/testutil"
	"github.com/cuongbtq/jobqueue/internal/worker"
	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct{ err error }

func (f failingBackend) Convert(context.Context, string, DocumentConvertPayload) (Conversion, error) {
	return Conversion{}, f.err
}

func (f failingBackend) Transcribe(context.Context, string, VideoIngestPayload) (Transcription, error) {
	return Transcription{}, f.err
}

func (f failingBackend) Generate(context.Context, string, AIGenerationPayload) (Generation, error) {
	return Generation{}, f.err
}

func newRegistry(b Backends) *worker.Registry {
	reg := worker.NewRegistry()
	Register(reg, b)
	return reg
}

func loggingBackends() Backends {
	lb := &LoggingBackend{Logger: testutil.DiscardLogger()}
	return Backends{Converter: lb, Transcriber: lb, Generator: lb}
}

func run(t *testing.T, reg *worker.Registry, jobType string, payload any) (worker.Result, error) {
	t.Helper()

	h, err := reg.Lookup(jobType)
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	return h(context.Background(), worker.Task{
		JobID:    uuid.NewString(),
		TenantID: uuid.NewString(),
		Type:     jobType,
		Attempt:  1,
		Payload:  raw,
	})
}

func TestRegister_AllTypes(t *testing.T) {
	reg := newRegistry(loggingBackends())
	assert.Equal(t, []string{TypeAIGeneration, TypeDocumentConvert, TypeTestJob, TypeVideoIngest}, reg.Types())
}

func TestDocumentConvert(t *testing.T) {
	reg := newRegistry(loggingBackends())
	userID := uuid.NewString()

	tests := []struct {
		name        string
		payload     map[string]any
		wantInvalid bool
	}{
		{
			name: "pdf",
			payload: map[string]any{
				"storage_path": "tenant/q3_report.pdf", "original_filename": "q3_report.pdf",
				"file_size": 1024, "mimetype": MimePDF, "user_id": userID,
			},
		},
		{
			name: "unsupported mimetype",
			payload: map[string]any{
				"storage_path": "tenant/a.exe", "original_filename": "a.exe",
				"file_size": 10, "mimetype": "application/x-msdownload", "user_id": userID,
			},
			wantInvalid: true,
		},
		{
			name: "missing storage path",
			payload: map[string]any{
				"original_filename": "a.pdf", "file_size": 10, "mimetype": MimePDF, "user_id": userID,
			},
			wantInvalid: true,
		},
		{
			name: "bad user id",
			payload: map[string]any{
				"storage_path": "p", "original_filename": "a.pdf", "file_size": 10,
				"mimetype": MimePDF, "user_id": "bob",
			},
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := run(t, reg, TypeDocumentConvert, tt.payload)
			if tt.wantInvalid {
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "q3 report", res.Summary["title"])
			assert.Equal(t, 1024, res.Summary["content_length"])
			assert.NotEmpty(t, res.Summary["document_id"])
		})
	}
}

func TestVideoIngest(t *testing.T) {
	reg := newRegistry(loggingBackends())
	userID := uuid.NewString()

	t.Run("youtube source", func(t *testing.T) {
		res, err := run(t, reg, TypeVideoIngest, map[string]any{
			"user_id": userID, "youtube_url": "https://www.youtube.com/watch?v=abc",
		})
		require.NoError(t, err)
		assert.Equal(t, true, res.Summary["is_youtube"])
	})

	t.Run("storage source", func(t *testing.T) {
		res, err := run(t, reg, TypeVideoIngest, map[string]any{
			"user_id": userID, "storage_path": "tenant/demo.mp4", "original_filename": "demo.mp4",
		})
		require.NoError(t, err)
		assert.Equal(t, false, res.Summary["is_youtube"])
		assert.Equal(t, "demo", res.Summary["title"])
	})

	t.Run("no source", func(t *testing.T) {
		_, err := run(t, reg, TypeVideoIngest, map[string]any{"user_id": userID})
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	})

	t.Run("non http url", func(t *testing.T) {
		_, err := run(t, reg, TypeVideoIngest, map[string]any{"user_id": userID, "url": "file:///etc/passwd"})
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	})
}

func TestAIGeneration(t *testing.T) {
	reg := newRegistry(loggingBackends())
	userID := uuid.NewString()

	res, err := run(t, reg, TypeAIGeneration, map[string]any{
		"prompt": "Write an onboarding guide for new engineers", "model": "claude-sonnet-4.5",
		"user_id": userID, "estimated_credits": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", res.Summary["provider"])
	assert.Equal(t, "claude-sonnet-4.5", res.Summary["model"])

	_, err = run(t, reg, TypeAIGeneration, map[string]any{
		"prompt": "x", "model": "gpt-2", "user_id": userID, "estimated_credits": 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestBackendErrorsAreWrapped(t *testing.T) {
	cause := domain.NewRetryableError(errors.New("storage unavailable"))
	fb := failingBackend{err: cause}
	reg := newRegistry(Backends{Converter: fb, Transcriber: fb, Generator: fb})

	_, err := run(t, reg, TypeDocumentConvert, map[string]any{
		"storage_path": "p", "original_filename": "a.md", "file_size": 1,
		"mimetype": MimeMarkdown, "user_id": uuid.NewString(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to convert document")
}

func TestTestJob(t *testing.T) {
	reg := newRegistry(loggingBackends())

	res, err := run(t, reg, TypeTestJob, TestJobPayload{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Summary["message"])

	_, err = run(t, reg, TypeTestJob, TestJobPayload{Fail: FailTransient})
	var retryable *domain.RetryableError
	assert.ErrorAs(t, err, &retryable)

	_, err = run(t, reg, TypeTestJob, TestJobPayload{Fail: FailPermanent})
	assert.True(t, worker.IsPermanent(err))

	_, err = run(t, reg, TypeTestJob, map[string]any{"fail": "sometimes"})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestTestJob_HonorsTimeout(t *testing.T) {
	reg := newRegistry(loggingBackends())
	h, err := reg.Lookup(TypeTestJob)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = h(ctx, worker.Task{Payload: json.RawMessage(`{"message":"slow","sleep_ms":60000}`)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDocumentTitle(t *testing.T) {
	tests := map[string]string{
		"q3_sales-report.pdf": "q3 sales report",
		"notes.md":            "notes",
		"  spaced__name.docx": "spaced name",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, DocumentTitle(in), in)
	}
}

func TestProvider(t *testing.T) {
	assert.Equal(t, "openai", Provider("gpt-5.2"))
	assert.Equal(t, "google", Provider("gemini-3-flash"))
	assert.Equal(t, "unknown", Provider("llama"))
}
