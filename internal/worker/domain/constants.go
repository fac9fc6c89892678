package domain

// Status is the lifecycle state of a job_queue row.
type Status string

// Job status constants
const (
	JobStatusPending    Status = "pending"
	JobStatusProcessing Status = "processing"
	JobStatusCompleted  Status = "completed"
	JobStatusFailed     Status = "failed"
)

// DefaultMaxAttempts is used when a producer does not set max_attempts.
const DefaultMaxAttempts = 3

// IsTerminal reports whether no worker will ever claim a job in this status again.
func (s Status) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// RabbitMQ routing keys
const (
	RoutingKeyJobEnqueued = "job.enqueued"
	RoutingKeyJobStart    = "job.start"
	RoutingKeyJobComplete = "job.complete"
	RoutingKeyJobFailed   = "job.failed"
)
