package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/google/uuid"
)

// fakeStore is an in-memory JobStore that claims pending jobs in insertion
// order and enforces the same lease fencing as the Postgres store.
type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	order       []string
	claimCalls  int
	sweepCalls  int
	claimErr    error
	rejectFinal bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*domain.Job)}
}

func (s *fakeStore) add(jobType string, payload string, maxAttempts int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.jobs[id] = &domain.Job{
		ID:          id,
		TenantID:    uuid.NewString(),
		Type:        jobType,
		Payload:     json.RawMessage(payload),
		Status:      domain.JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.order = append(s.order, id)
	return id
}

func (s *fakeStore) get(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeStore) claims() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimCalls
}

func (s *fakeStore) sweeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepCalls
}

func (s *fakeStore) ClaimJob(_ context.Context, workerID string, _ time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.claimCalls++
	if s.claimErr != nil {
		return nil, s.claimErr
	}

	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status != domain.JobStatusPending {
			continue
		}
		now := time.Now()
		job.Status = domain.JobStatusProcessing
		job.WorkerID = &workerID
		job.Attempts++
		job.ClaimedAt = &now
		claimed := *job
		return &claimed, nil
	}
	return nil, domain.ErrNoJobAvailable
}

func (s *fakeStore) owned(lease domain.Lease) (*domain.Job, error) {
	job, ok := s.jobs[lease.JobID]
	if !ok || s.rejectFinal || job.Status != domain.JobStatusProcessing ||
		job.WorkerID == nil || *job.WorkerID != lease.WorkerID || job.Attempts != lease.Attempt {
		return nil, domain.ErrJobNotOwned
	}
	return job, nil
}

func (s *fakeStore) CompleteJob(_ context.Context, lease domain.Lease, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(lease)
	if err != nil {
		return err
	}
	now := time.Now()
	job.Status = domain.JobStatusCompleted
	job.Result, _ = json.Marshal(result)
	job.CompletedAt = &now
	return nil
}

func (s *fakeStore) RetryJob(_ context.Context, lease domain.Lease, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(lease)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatusPending
	job.WorkerID = nil
	job.LastError = &lastError
	return nil
}

func (s *fakeStore) FailJob(_ context.Context, lease domain.Lease, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.owned(lease)
	if err != nil {
		return err
	}
	now := time.Now()
	job.Status = domain.JobStatusFailed
	job.LastError = &lastError
	job.CompletedAt = &now
	return nil
}

func (s *fakeStore) FailExpiredLeases(context.Context, time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepCalls++
	return 0, nil
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) record(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) JobStarted(_ context.Context, ev Event)   { o.record(ev) }
func (o *recordingObserver) JobCompleted(_ context.Context, ev Event) { o.record(ev) }
func (o *recordingObserver) JobFailed(_ context.Context, ev Event)    { o.record(ev) }

func (o *recordingObserver) names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, len(o.events))
	for i, ev := range o.events {
		names[i] = ev.Name
	}
	return names
}

func (o *recordingObserver) last() Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[len(o.events)-1]
}

// blockingSweepStore holds FailExpiredLeases until release is closed.
type blockingSweepStore struct {
	*fakeStore
	sweeping chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (s *blockingSweepStore) FailExpiredLeases(ctx context.Context, lease time.Duration) (int64, error) {
	s.once.Do(func() { close(s.sweeping) })
	<-s.release
	return s.fakeStore.FailExpiredLeases(ctx, lease)
}

// blockingClaimStore holds ClaimJob until its ctx is canceled.
type blockingClaimStore struct {
	*fakeStore
	claiming chan struct{}
	once     sync.Once
}

func (s *blockingClaimStore) ClaimJob(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	s.once.Do(func() { close(s.claiming) })
	<-ctx.Done()
	return nil, ctx.Err()
}
