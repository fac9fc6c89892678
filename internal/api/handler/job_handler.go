package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/jobqueue/internal/api/dto"
	"github.com/cuongbtq/jobqueue/internal/api/storage"
	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/cuongbtq/jobqueue/shared/redact"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TenantKey is the gin context key holding the caller's tenant id.
const TenantKey = "tenant_id"

const (
	defaultPageSize = 20
	maxPageSize     = 100
	publishTimeout  = 2 * time.Second
)

func tenantID(c *gin.Context) string {
	return c.GetString(TenantKey)
}

// CreateJob handles POST /api/v1/jobs
// Creates a new background job for processing
func (h *JobHandler) CreateJob(c *gin.Context) {
	tenant := tenantID(c)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !domain.JobTypePattern.MatchString(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "type must match " + domain.JobTypePattern.String(),
		})
		return
	}

	payload := redact.Map(req.Payload)
	if payload == nil {
		payload = map[string]any{}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "payload must be a JSON object",
		})
		return
	}

	job, err := h.storage.CreateJob(c.Request.Context(), domain.NewJob{
		TenantID:    tenant,
		Type:        req.Type,
		Payload:     raw,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		h.logger.Error("Failed to create job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	if h.metrics != nil {
		h.metrics.JobsEnqueued.WithLabelValues(job.Type).Inc()
	}

	h.notify(c.Request.Context(), job)

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// notify nudges idle workers. Workers poll regardless, so a lost message only
// costs latency.
func (h *JobHandler) notify(ctx context.Context, job *domain.Job) {
	if h.publisher == nil {
		return
	}

	body, err := json.Marshal(domain.JobMessage{
		JobID:    job.ID,
		TenantID: job.TenantID,
		JobType:  job.Type,
	})
	if err != nil {
		h.logger.Error("Failed to encode job message", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, domain.RoutingKeyJobEnqueued, body); err != nil {
		h.logger.Warn("Failed to publish job message",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.storage.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, "Failed to get job", jobID, err)
		return
	}

	if job.TenantID != tenantID(c) {
		h.writeError(c, "Failed to get job", jobID, domain.ErrTenantMismatch)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	status := domain.Status(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		TenantID: tenantID(c),
		Type:     req.Type,
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Moves a failed job back to pending with a fresh attempt budget
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.storage.RequeueJob(c.Request.Context(), tenantID(c), jobID)
	if err != nil {
		h.writeError(c, "Failed to retry job", jobID, err)
		return
	}

	h.logger.Info("Job requeued by tenant",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
	)

	h.notify(c.Request.Context(), job)

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) writeError(c *gin.Context, msg, jobID string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrTenantMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "Job belongs to another tenant"})
	case errors.Is(err, domain.ErrJobNotFailed):
		c.JSON(http.StatusConflict, gin.H{"error": "Only failed jobs can be retried"})
	default:
		h.logger.Error(msg, slog.String("job_id", jobID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
