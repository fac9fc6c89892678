package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/jobqueue/internal/testutil"
	"github.com/cuongbtq/jobqueue/internal/worker"
	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleJobStore hands out one job and records the result the runtime
// persists for it.
type singleJobStore struct {
	mu        sync.Mutex
	job       *domain.Job
	result    json.RawMessage
	lastError string
}

func (s *singleJobStore) ClaimJob(_ context.Context, workerID string, _ time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job.Status != domain.JobStatusPending {
		return nil, domain.ErrNoJobAvailable
	}
	s.job.Status = domain.JobStatusProcessing
	s.job.WorkerID = &workerID
	s.job.Attempts++

	claimed := *s.job
	return &claimed, nil
}

func (s *singleJobStore) CompleteJob(_ context.Context, _ domain.Lease, result map[string]any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = domain.JobStatusCompleted
	s.result = raw
	return nil
}

func (s *singleJobStore) RetryJob(ctx context.Context, lease domain.Lease, lastError string) error {
	return s.FailJob(ctx, lease, lastError)
}

func (s *singleJobStore) FailJob(_ context.Context, _ domain.Lease, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = domain.JobStatusFailed
	s.lastError = lastError
	return nil
}

func (s *singleJobStore) FailExpiredLeases(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (s *singleJobStore) status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Status
}

type fixedGenerator struct{ out Generation }

func (g fixedGenerator) Generate(context.Context, string, AIGenerationPayload) (Generation, error) {
	return g.out, nil
}

func TestRuntime_PersistsAIGenerationUsage(t *testing.T) {
	documentID := uuid.NewString()
	gen := fixedGenerator{out: Generation{
		DocumentID:   documentID,
		Title:        "Onboarding guide",
		Model:        "claude-sonnet-4.5",
		Provider:     "anthropic",
		TokensInput:  120,
		TokensOutput: 480,
	}}

	lb := &LoggingBackend{Logger: testutil.DiscardLogger()}
	reg := newRegistry(Backends{Converter: lb, Transcriber: lb, Generator: gen})

	payload, err := json.Marshal(map[string]any{
		"prompt": "Write an onboarding guide for new engineers", "model": "claude-sonnet-4.5",
		"user_id": uuid.NewString(), "estimated_credits": 2,
	})
	require.NoError(t, err)

	store := &singleJobStore{job: &domain.Job{
		ID:          uuid.NewString(),
		TenantID:    uuid.NewString(),
		Type:        TypeAIGeneration,
		Payload:     payload,
		Status:      domain.JobStatusPending,
		MaxAttempts: 3,
	}}

	rt, err := worker.NewRuntime(worker.Config{
		WorkerID:     "usage-worker",
		Store:        store,
		Registry:     reg,
		Logger:       testutil.DiscardLogger(),
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.status().IsTerminal()
	}, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, rt.Stop(ctx))
	require.NoError(t, <-runErr)

	require.Equal(t, domain.JobStatusCompleted, store.status(), store.lastError)
	assert.JSONEq(t, `{
		"document_id": "`+documentID+`",
		"title": "Onboarding guide",
		"model": "claude-sonnet-4.5",
		"provider": "anthropic",
		"usage": {"input": 120, "output": 480}
	}`, string(store.result))
}
