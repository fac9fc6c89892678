package domain

import (
	"encoding/json"
	"regexp"
	"time"
)

// JobTypePattern is the accepted shape of a job type name.
var JobTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Job is a row of the job_queue table.
type Job struct {
	ID          string          `db:"id"`
	TenantID    string          `db:"tenant_id"`
	Type        string          `db:"type"`
	Payload     json.RawMessage `db:"payload"`
	Status      Status          `db:"status"`
	WorkerID    *string         `db:"worker_id"`
	Attempts    int             `db:"attempts"`
	MaxAttempts int             `db:"max_attempts"`
	LastError   *string         `db:"last_error"`
	Result      json.RawMessage `db:"result"`
	CreatedAt   time.Time       `db:"created_at"`
	ClaimedAt   *time.Time      `db:"claimed_at"`
	CompletedAt *time.Time      `db:"completed_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// Lease identifies one claim of a job. Attempt acts as a fencing token: once a
// lease expires and the job is reclaimed, the old lease no longer matches.
type Lease struct {
	JobID    string
	WorkerID string
	Attempt  int
}

// Lease returns the ownership held by the worker that claimed j.
func (j *Job) Lease() Lease {
	var workerID string
	if j.WorkerID != nil {
		workerID = *j.WorkerID
	}
	return Lease{JobID: j.ID, WorkerID: workerID, Attempt: j.Attempts}
}

// NewJob is what a producer submits.
type NewJob struct {
	TenantID    string
	Type        string
	Payload     json.RawMessage
	MaxAttempts int
}

// JobMessage is the body of a job.enqueued wake-up message.
type JobMessage struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	JobType  string `json:"job_type"`
}
