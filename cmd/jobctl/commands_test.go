package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	jobs map[string]*domain.Job
}

func (f *fakeStore) EnqueueJob(_ context.Context, job domain.NewJob) (*domain.Job, error) {
	stored := &domain.Job{
		ID:          uuid.NewString(),
		TenantID:    job.TenantID,
		Type:        job.Type,
		Payload:     job.Payload,
		Status:      domain.JobStatusPending,
		MaxAttempts: job.MaxAttempts,
		CreatedAt:   time.Now(),
	}
	f.jobs[stored.ID] = stored
	return stored, nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeStore) RequeueFailedJob(_ context.Context, tenantID, id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	switch {
	case !ok:
		return nil, domain.ErrJobNotFound
	case job.TenantID != tenantID:
		return nil, domain.ErrTenantMismatch
	case job.Status != domain.JobStatusFailed:
		return nil, domain.ErrJobNotFailed
	}
	job.Status = domain.JobStatusPending
	job.Attempts = 0
	return job, nil
}

func runCmd(t *testing.T, store *fakeStore, args ...string) (string, error) {
	t.Helper()

	closed := false
	open := func(context.Context, string) (*session, error) {
		return &session{
			store:              store,
			migrate:            func() (uint, error) { return 1, nil },
			defaultMaxAttempts: 3,
			close:              func() { closed = true },
		}, nil
	}

	var out bytes.Buffer
	cmd := newRootCmd(open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		assert.True(t, closed, "session not closed")
	}
	return out.String(), err
}

func TestMigrateCmd(t *testing.T) {
	out, err := runCmd(t, &fakeStore{jobs: map[string]*domain.Job{}}, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema at version 1")
}

func TestEnqueueCmd(t *testing.T) {
	tenant := uuid.NewString()

	t.Run("sanitizes payload and applies default attempts", func(t *testing.T) {
		store := &fakeStore{jobs: map[string]*domain.Job{}}

		out, err := runCmd(t, store, "enqueue", "--tenant", tenant, "--type", "test_job",
			"--payload", `{"message":"hi","token":"abc"}`)
		require.NoError(t, err)
		assert.Contains(t, out, "Job enqueued:")

		require.Len(t, store.jobs, 1)
		for _, job := range store.jobs {
			assert.Equal(t, 3, job.MaxAttempts)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(job.Payload, &payload))
			assert.Equal(t, map[string]any{"message": "hi"}, payload)
		}
	})

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing tenant", args: []string{"enqueue", "--type", "test_job"}},
		{name: "invalid tenant", args: []string{"enqueue", "--tenant", "acme", "--type", "test_job"}},
		{name: "payload not an object", args: []string{"enqueue", "--tenant", tenant, "--type", "test_job", "--payload", "[1]"}},
		{name: "uppercase type", args: []string{"enqueue", "--tenant", tenant, "--type", "TestJob"}},
		{name: "type with dash", args: []string{"enqueue", "--tenant", tenant, "--type", "test-job"}},
		{name: "type too long", args: []string{"enqueue", "--tenant", tenant, "--type", "a" + strings.Repeat("b", 64)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{jobs: map[string]*domain.Job{}}
			_, err := runCmd(t, store, tt.args...)
			assert.Error(t, err)
			assert.Empty(t, store.jobs)
		})
	}
}

func TestGetCmd(t *testing.T) {
	lastError := "max attempts exceeded: upstream unavailable"
	job := &domain.Job{
		ID:          uuid.NewString(),
		TenantID:    uuid.NewString(),
		Type:        "video_ingest",
		Status:      domain.JobStatusFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   &lastError,
		Result:      json.RawMessage("null"),
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	}
	store := &fakeStore{jobs: map[string]*domain.Job{job.ID: job}}

	out, err := runCmd(t, store, "get", job.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Attempts:")
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, lastError)
	assert.NotContains(t, out, "Result:")

	_, err = runCmd(t, store, "get", uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestPrintJobResultSize(t *testing.T) {
	now := time.Now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusCompleted,
		Result:    json.RawMessage(`{"summary":"` + string(bytes.Repeat([]byte("x"), 2000)) + `"}`),
		CreatedAt: now.Add(-time.Minute),
	}

	var out bytes.Buffer
	require.NoError(t, printJob(&out, job, now))
	assert.Contains(t, out.String(), "2.0 kB")
}

func TestRequeueCmd(t *testing.T) {
	tenant := uuid.NewString()
	job := &domain.Job{ID: uuid.NewString(), TenantID: tenant, Status: domain.JobStatusPending}
	store := &fakeStore{jobs: map[string]*domain.Job{job.ID: job}}

	_, err := runCmd(t, store, "requeue", job.ID, "--tenant", tenant)
	assert.ErrorContains(t, err, "is not failed")

	job.Status = domain.JobStatusFailed
	job.Attempts = 3

	_, err = runCmd(t, store, "requeue", job.ID, "--tenant", uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	out, err := runCmd(t, store, "requeue", job.ID, "--tenant", tenant)
	require.NoError(t, err)
	assert.Contains(t, out, "Job returned to queue")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Zero(t, job.Attempts)
}

func TestJobIDValidation(t *testing.T) {
	tenant := uuid.NewString()

	tests := []struct {
		name string
		args []string
	}{
		{name: "get non-uuid id", args: []string{"get", "42"}},
		{name: "requeue non-uuid id", args: []string{"requeue", "not-a-job", "--tenant", tenant}},
		{name: "requeue non-uuid tenant", args: []string{"requeue", uuid.NewString(), "--tenant", "acme"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened := false
			cmd := newRootCmd(func(context.Context, string) (*session, error) {
				opened = true
				return nil, errors.New("unexpected database access")
			})
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			err := cmd.ExecuteContext(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid")
			assert.False(t, opened, "database opened for invalid input")
		})
	}
}
