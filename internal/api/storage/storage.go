package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	workerstorage "github.com/cuongbtq/jobqueue/internal/worker/storage"
	"github.com/jmoiron/sqlx"
)

// Storage serves the producer API. Writes share the worker store's queries so
// both sides agree on the job row.
type Storage struct {
	db     *sqlx.DB
	jobs   *workerstorage.Storage
	logger *slog.Logger
}

func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		jobs:   workerstorage.NewStorage(db, logger),
		logger: logger,
	}
}

type JobFilter struct {
	TenantID string
	Type     string
	Status   domain.Status
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) CreateJob(ctx context.Context, job domain.NewJob) (*domain.Job, error) {
	return s.jobs.EnqueueJob(ctx, job)
}

func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

func (s *Storage) RequeueJob(ctx context.Context, tenantID, jobID string) (*domain.Job, error) {
	return s.jobs.RequeueFailedJob(ctx, tenantID, jobID)
}

// ListJobs returns up to PageSize+1 jobs of the filter's tenant, newest first.
// The extra row tells the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query, args, err := listQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

func listQuery(filter JobFilter) sq.SelectBuilder {
	q := sq.Select(workerstorage.Columns...).
		From("job_queue").
		Where(sq.Eq{"tenant_id": filter.TenantID}).
		PlaceholderFormat(sq.Dollar)

	if filter.Type != "" {
		q = q.Where(sq.Eq{"type": filter.Type})
	}

	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}

	if filter.Cursor != nil {
		q = q.Where(sq.Expr("(created_at, id) < (?, ?)", filter.Cursor.CreatedAt, filter.Cursor.JobID))
	}

	// Order by created_at DESC, id DESC for consistent pagination
	return q.OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.PageSize + 1))
}
