package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobAvailable is returned by a claim when no job is eligible
	ErrNoJobAvailable = errors.New("no job available")

	// ErrJobNotOwned is returned when finalizing a job that is no longer
	// processing under the caller's lease
	ErrJobNotOwned = errors.New("job is not processing under this lease")

	// ErrJobNotFailed is returned when requeueing a job that is not failed
	ErrJobNotFailed = errors.New("job is not in failed status")

	// ErrTenantMismatch is returned when a job belongs to another tenant
	ErrTenantMismatch = errors.New("job belongs to another tenant")

	// ErrInvalidPayload is returned when a job payload cannot be decoded or validated
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnregisteredHandler is returned when no handler exists for a job type
	ErrUnregisteredHandler = errors.New("unregistered handler")

	// ErrMaxAttemptsExceeded marks a failure after the last allowed attempt
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
)

// RetryableError wraps transient errors that should trigger a retry
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// PermanentError wraps errors that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}
