package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
)

type CreateJobRequest struct {
	Type        string         `json:"type" binding:"required"`
	Payload     map[string]any `json:"payload"`
	MaxAttempts int            `json:"max_attempts" binding:"omitempty,min=1,max=25"`
}

type ListJobsRequest struct {
	Type     string `form:"type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	TenantID    string          `json:"tenant_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   *string         `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	CompletedAt *string         `json:"completed_at,omitempty"`
}

// NewJobDTO renders the public projection of job. The claiming worker id is
// internal and not exposed.
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		Type:        job.Type,
		Payload:     job.Payload,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}

	if len(job.Result) > 0 && string(job.Result) != "null" {
		out.Result = job.Result
	}

	if job.CompletedAt != nil {
		completedAt := job.CompletedAt.Format(time.RFC3339)
		out.CompletedAt = &completedAt
	}

	return out
}
