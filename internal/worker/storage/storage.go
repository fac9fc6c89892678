package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LeaseExpiredError is stored as last_error when a job's final attempt lost its lease.
const LeaseExpiredError = "lease expired after final attempt"

// Columns is the projection scanned into domain.Job.
var Columns = []string{
	"id", "tenant_id", "type", "payload", "status", "worker_id", "attempts", "max_attempts", "last_error",
	"COALESCE(result, 'null'::jsonb) AS result", "created_at", "claimed_at", "completed_at", "updated_at",
}

var jobColumns = strings.Join(Columns, ", ")

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob atomically takes ownership of the oldest claimable job: a pending
// job, or a processing job whose lease is older than lease and which still has
// attempts left. Concurrent callers never receive the same row because locked
// candidates are skipped rather than waited on.
func (s *Storage) ClaimJob(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	query := `
		UPDATE job_queue
		SET status = $1,
		    worker_id = $2,
		    attempts = attempts + 1,
		    claimed_at = NOW(),
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = $3
			   OR (status = $1
			       AND claimed_at < NOW() - ($4::double precision * INTERVAL '1 second')
			       AND attempts < max_attempts)
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query,
		domain.JobStatusProcessing, workerID, domain.JobStatusPending, lease.Seconds())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Debug("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("worker_id", workerID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.Attempts),
	)

	return &job, nil
}

// CompleteJob marks the job completed with result, provided the caller still
// holds lease.
func (s *Storage) CompleteJob(ctx context.Context, lease domain.Lease, result map[string]any) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	query := `
		UPDATE job_queue
		SET status = $1,
		    result = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND worker_id = $5 AND attempts = $6
	`

	return s.finalize(ctx, "complete", lease, query,
		domain.JobStatusCompleted, nullJSON(resultJSON), lease.JobID,
		domain.JobStatusProcessing, lease.WorkerID, lease.Attempt)
}

// RetryJob releases the job back to pending so any worker may claim it again.
func (s *Storage) RetryJob(ctx context.Context, lease domain.Lease, lastError string) error {
	query := `
		UPDATE job_queue
		SET status = $1,
		    worker_id = NULL,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND worker_id = $5 AND attempts = $6
	`

	return s.finalize(ctx, "retry", lease, query,
		domain.JobStatusPending, lastError, lease.JobID,
		domain.JobStatusProcessing, lease.WorkerID, lease.Attempt)
}

// FailJob marks the job permanently failed.
func (s *Storage) FailJob(ctx context.Context, lease domain.Lease, lastError string) error {
	query := `
		UPDATE job_queue
		SET status = $1,
		    last_error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND worker_id = $5 AND attempts = $6
	`

	return s.finalize(ctx, "fail", lease, query,
		domain.JobStatusFailed, lastError, lease.JobID,
		domain.JobStatusProcessing, lease.WorkerID, lease.Attempt)
}

func (s *Storage) finalize(ctx context.Context, op string, lease domain.Lease, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s job: %w", op, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Finalize rejected - job no longer held by this lease",
			slog.String("op", op),
			slog.String("job_id", lease.JobID),
			slog.String("worker_id", lease.WorkerID),
			slog.Int("attempt", lease.Attempt),
		)
		return domain.ErrJobNotOwned
	}

	return nil
}

// FailExpiredLeases fails processing jobs whose lease has expired on their
// final attempt. Such jobs are no longer claimable, so without this sweep they
// would stay processing forever. It returns the number of jobs failed.
func (s *Storage) FailExpiredLeases(ctx context.Context, lease time.Duration) (int64, error) {
	query := `
		UPDATE job_queue
		SET status = $1,
		    last_error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = $3
		  AND claimed_at < NOW() - ($4::double precision * INTERVAL '1 second')
		  AND attempts >= max_attempts
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, LeaseExpiredError, domain.JobStatusProcessing, lease.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to fail expired leases: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Warn("Failed jobs whose final lease expired", slog.Int64("count", n))
	}

	return n, nil
}

// GetJob retrieves a job from the database by its ID
func (s *Storage) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job_queue WHERE id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// EnqueueJob inserts a new pending job and returns the stored row.
func (s *Storage) EnqueueJob(ctx context.Context, newJob domain.NewJob) (*domain.Job, error) {
	payload := newJob.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	maxAttempts := newJob.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	query := `
		INSERT INTO job_queue (id, tenant_id, type, payload, status, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query,
		uuid.NewString(), newJob.TenantID, newJob.Type, []byte(payload), domain.JobStatusPending, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("job_type", job.Type),
	)

	return &job, nil
}

// RequeueFailedJob moves a failed job of tenantID back to pending with a
// fresh attempt budget.
func (s *Storage) RequeueFailedJob(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	query := `
		UPDATE job_queue
		SET status = $1,
		    worker_id = NULL,
		    attempts = 0,
		    claimed_at = NULL,
		    completed_at = NULL,
		    updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3 AND status = $4
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusPending, id, tenantID, domain.JobStatusFailed)
	if err == nil {
		s.logger.Info("Job requeued",
			slog.String("job_id", job.ID),
			slog.String("tenant_id", job.TenantID),
		)
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}

	existing, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	return nil, domain.ErrJobNotFailed
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
