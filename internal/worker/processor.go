package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/cuongbtq/jobqueue/shared/redact"
)

// processJob runs a claimed job and records its outcome. Neither the handler
// nor the finalize write observes cancellation of ctx, so a shutdown never
// interrupts a job that has started.
func (r *Runtime) processJob(ctx context.Context, job *domain.Job) {
	jobCtx := context.WithoutCancel(ctx)

	r.setState(StateExecuting)
	started := r.now()

	ev := Event{
		JobID:     job.ID,
		JobType:   job.Type,
		TenantID:  job.TenantID,
		WorkerID:  r.workerID,
		Attempt:   job.Attempts,
		Status:    domain.JobStatusProcessing,
		Timestamp: started,
	}
	ev.Name = EventJobStart
	r.observer.JobStarted(jobCtx, ev)

	result, err := r.executeJob(jobCtx, job)

	r.setState(StateFinalizing)
	ev.Duration = r.now().Sub(started)
	ev.Timestamp = r.now()

	if err == nil {
		r.complete(jobCtx, job, result, ev)
	} else {
		r.fail(jobCtx, job, err, ev)
	}
}

// executeJob looks up the handler and runs it under the job timeout.
func (r *Runtime) executeJob(ctx context.Context, job *domain.Job) (Result, error) {
	handler, err := r.registry.Lookup(job.Type)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	task := Task{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Type:     job.Type,
		Attempt:  job.Attempts,
		Payload:  job.Payload,
	}

	return runHandler(ctx, handler, task)
}

// runHandler converts a handler panic into an error.
func runHandler(ctx context.Context, h Handler, task Task) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return h(ctx, task)
}

func (r *Runtime) complete(ctx context.Context, job *domain.Job, result Result, ev Event) {
	summary := redact.Map(result.Summary)

	fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	if err := r.store.CompleteJob(fctx, job.Lease(), summary); err != nil {
		r.finalizeFailed(job, "complete", err)
		return
	}

	ev.Name = EventJobComplete
	ev.Status = domain.JobStatusCompleted
	ev.ResultSize = resultSize(summary)
	r.observer.JobCompleted(ctx, ev)
}

func (r *Runtime) fail(ctx context.Context, job *domain.Job, cause error, ev Event) {
	decision := r.policy.Decide(job, cause)
	lastError := redact.Error(cause)

	fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	var err error
	if decision.Retry {
		err = r.store.RetryJob(fctx, job.Lease(), lastError)
		ev.Status = domain.JobStatusPending
	} else {
		if decision.Reason == ReasonAttemptsExhausted {
			lastError = redact.Error(fmt.Errorf("%w: %s", domain.ErrMaxAttemptsExceeded, lastError))
		}
		err = r.store.FailJob(fctx, job.Lease(), lastError)
		ev.Status = domain.JobStatusFailed
	}
	if err != nil {
		r.finalizeFailed(job, "fail", err)
		return
	}

	ev.Name = EventJobFailed
	ev.Error = lastError
	ev.Retrying = decision.Retry
	ev.Reason = decision.Reason
	r.observer.JobFailed(ctx, ev)
}

// finalizeFailed logs a rejected or failed finalize. The row stays processing
// and is reclaimed or swept once its lease expires.
func (r *Runtime) finalizeFailed(job *domain.Job, op string, err error) {
	level := slog.LevelError
	if errors.Is(err, domain.ErrJobNotOwned) {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "Failed to finalize job",
		slog.String("op", op),
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempts),
		slog.Any("error", err),
	)
}

func resultSize(summary map[string]any) int {
	if summary == nil {
		return 0
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return 0
	}
	return len(b)
}
