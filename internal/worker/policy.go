package worker

import (
	"errors"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
)

// Retry decision reasons
const (
	ReasonTransient         = "transient"
	ReasonPermanent         = "permanent"
	ReasonAttemptsExhausted = "attempts_exhausted"
)

// Decision is the outcome of classifying a failed attempt.
type Decision struct {
	Retry  bool
	Reason string
}

// Policy decides whether a failed job goes back to pending.
type Policy interface {
	Decide(job *domain.Job, err error) Decision
}

// RetryPolicy retries transient failures until the job's attempt budget is
// spent. Errors nobody classified are treated as transient.
type RetryPolicy struct{}

// Decide implements Policy.
func (RetryPolicy) Decide(job *domain.Job, err error) Decision {
	if IsPermanent(err) {
		return Decision{Retry: false, Reason: ReasonPermanent}
	}
	if job.Attempts >= job.MaxAttempts {
		return Decision{Retry: false, Reason: ReasonAttemptsExhausted}
	}
	return Decision{Retry: true, Reason: ReasonTransient}
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrUnregisteredHandler) {
		return true
	}

	var permanent *domain.PermanentError
	return errors.As(err, &permanent)
}
