package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
)

// Default runtime tuning
const (
	DefaultPollInterval      = time.Second
	DefaultMaxPollInterval   = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultLeaseTimeout      = 5 * time.Minute
	DefaultSweepInterval     = time.Minute
	DefaultJobTimeout        = 4 * time.Minute

	finalizeTimeout = 30 * time.Second
)

var (
	// ErrDrainTimeout is returned by Stop when the in-flight job did not
	// finish before the stop context expired.
	ErrDrainTimeout = errors.New("worker drain timed out")

	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("worker already started")
)

// JobStore is the subset of the job record store a runtime needs.
type JobStore interface {
	ClaimJob(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error)
	CompleteJob(ctx context.Context, lease domain.Lease, result map[string]any) error
	RetryJob(ctx context.Context, lease domain.Lease, lastError string) error
	FailJob(ctx context.Context, lease domain.Lease, lastError string) error
	FailExpiredLeases(ctx context.Context, lease time.Duration) (int64, error)
}

// State is the lifecycle phase of a Runtime.
type State int32

const (
	StateStarting State = iota
	StatePolling
	StateExecuting
	StateFinalizing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateExecuting:
		return "executing"
	case StateFinalizing:
		return "finalizing"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds worker runtime configuration
type Config struct {
	WorkerID          string
	Store             JobStore
	Registry          *Registry
	Policy            Policy
	Observer          Observer
	Logger            *slog.Logger
	PollInterval      time.Duration
	MaxPollInterval   time.Duration
	BackoffMultiplier float64
	LeaseTimeout      time.Duration
	SweepInterval     time.Duration
	JobTimeout        time.Duration
	Clock             func() time.Time
}

// Runtime is a single worker: it claims one job at a time, runs its handler
// and records the outcome. Several runtimes may share one store.
type Runtime struct {
	workerID          string
	store             JobStore
	registry          *Registry
	policy            Policy
	observer          Observer
	logger            *slog.Logger
	pollInterval      time.Duration
	maxPollInterval   time.Duration
	backoffMultiplier float64
	leaseTimeout      time.Duration
	sweepInterval     time.Duration
	jobTimeout        time.Duration
	now               func() time.Time

	state    atomic.Int32
	draining atomic.Bool
	started  atomic.Bool
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRuntime creates a new worker runtime
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("job store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("handler registry is required")
	}

	r := &Runtime{
		workerID:          cfg.WorkerID,
		store:             cfg.Store,
		registry:          cfg.Registry,
		policy:            cfg.Policy,
		observer:          cfg.Observer,
		logger:            cfg.Logger,
		pollInterval:      cfg.PollInterval,
		maxPollInterval:   cfg.MaxPollInterval,
		backoffMultiplier: cfg.BackoffMultiplier,
		leaseTimeout:      cfg.LeaseTimeout,
		sweepInterval:     cfg.SweepInterval,
		jobTimeout:        cfg.JobTimeout,
		now:               cfg.Clock,
		wake:              make(chan struct{}, 1),
		stopChan:          make(chan struct{}),
		done:              make(chan struct{}),
	}

	if r.policy == nil {
		r.policy = RetryPolicy{}
	}
	if r.observer == nil {
		r.observer = NopObserver{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With(slog.String("worker_id", r.workerID))
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.maxPollInterval < r.pollInterval {
		r.maxPollInterval = max(DefaultMaxPollInterval, r.pollInterval)
	}
	if r.backoffMultiplier < 1 {
		r.backoffMultiplier = DefaultBackoffMultiplier
	}
	if r.leaseTimeout <= 0 {
		r.leaseTimeout = DefaultLeaseTimeout
	}
	if r.sweepInterval <= 0 {
		r.sweepInterval = DefaultSweepInterval
	}
	if r.jobTimeout <= 0 {
		r.jobTimeout = DefaultJobTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}

	return r, nil
}

// ID returns the worker id used as the claim owner.
func (r *Runtime) ID() string {
	return r.workerID
}

// State reports the current lifecycle phase.
func (r *Runtime) State() State {
	s := State(r.state.Load())
	if r.draining.Load() && s != StateStopped {
		return StateDraining
	}
	return s
}

func (r *Runtime) setState(s State) {
	r.state.Store(int32(s))
}

// Wake makes a sleeping runtime poll immediately. It never blocks.
func (r *Runtime) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run claims and processes jobs until ctx is canceled or Stop is called.
// A job that is already executing always runs to completion and is finalized
// before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(r.done)
	defer r.setState(StateStopped)

	r.logger.Info("Starting worker",
		slog.Duration("poll_interval", r.pollInterval),
		slog.Duration("max_poll_interval", r.maxPollInterval),
		slog.Duration("lease_timeout", r.leaseTimeout),
		slog.Duration("job_timeout", r.jobTimeout),
	)

	// pollCtx bounds sweeps and claims: Stop abandons them, while a claimed
	// job still runs under ctx.
	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go func() {
		select {
		case <-r.stopChan:
			cancelPoll()
		case <-pollCtx.Done():
		}
	}()

	delay := r.pollInterval
	var lastSweep time.Time

	for {
		if r.stopping(ctx) {
			r.logger.Info("Worker stopped")
			return nil
		}
		r.setState(StatePolling)

		if r.now().Sub(lastSweep) >= r.sweepInterval {
			r.sweep(pollCtx)
			lastSweep = r.now()
		}

		if r.stopping(ctx) {
			r.logger.Info("Worker stopped")
			return nil
		}

		job, err := r.store.ClaimJob(pollCtx, r.workerID, r.leaseTimeout)
		switch {
		case err == nil:
			r.processJob(ctx, job)
			delay = r.pollInterval
			continue
		case errors.Is(err, domain.ErrNoJobAvailable):
		case pollCtx.Err() != nil:
			continue
		default:
			if co, ok := r.observer.(ClaimObserver); ok {
				co.ClaimFailed(ctx, r.workerID, err)
			} else {
				r.logger.Error("Failed to claim job", slog.Any("error", err))
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
		case <-r.stopChan:
		case <-r.wake:
			delay = r.pollInterval
		case <-timer.C:
			delay = r.nextDelay(delay)
		}
		timer.Stop()
	}
}

func (r *Runtime) nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * r.backoffMultiplier)
	if next > r.maxPollInterval {
		return r.maxPollInterval
	}
	return next
}

func (r *Runtime) stopping(ctx context.Context) bool {
	select {
	case <-r.stopChan:
		return true
	case <-ctx.Done():
		r.draining.Store(true)
		return true
	default:
		return false
	}
}

func (r *Runtime) sweep(ctx context.Context) {
	if _, err := r.store.FailExpiredLeases(ctx, r.leaseTimeout); err != nil && ctx.Err() == nil {
		r.logger.Error("Failed to sweep expired leases", slog.Any("error", err))
	}
}

// Stop asks the runtime to finish its current job and exit. It waits until
// the runtime has stopped or ctx expires, in which case it returns
// ErrDrainTimeout and the in-flight job is left to the lease reclaim path.
func (r *Runtime) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.draining.Store(true)
		close(r.stopChan)
	})

	if r.started.CompareAndSwap(false, true) {
		r.setState(StateStopped)
		close(r.done)
		return nil
	}

	r.logger.Info("Stopping worker...", slog.String("state", r.State().String()))

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("Worker drain timed out, forcing stop",
			slog.String("state", r.State().String()),
		)
		return ErrDrainTimeout
	}
}

// Done is closed once the runtime has stopped.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}
