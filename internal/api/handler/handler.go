package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/jobqueue/internal/api/storage"
	"github.com/cuongbtq/jobqueue/internal/metrics"
	"github.com/cuongbtq/jobqueue/internal/worker/domain"
)

// JobStorage is the persistence the job endpoints need.
type JobStorage interface {
	CreateJob(ctx context.Context, job domain.NewJob) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	RequeueJob(ctx context.Context, tenantID, jobID string) (*domain.Job, error)
}

// Publisher sends wake-up nudges to idle workers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Storage     JobStorage
	Publisher   Publisher // optional
	Metrics     *metrics.Metrics
	HealthCheck func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	storage   JobStorage
	publisher Publisher
	metrics   *metrics.Metrics
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		storage:   deps.Storage,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
	}
}
