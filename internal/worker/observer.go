package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/dustin/go-humanize"
)

// Lifecycle event names
const (
	EventJobStart    = "job_start"
	EventJobComplete = "job_complete"
	EventJobFailed   = "job_failed"
)

// Event describes one step of a job's lifecycle on a worker.
type Event struct {
	Name       string        `json:"event"`
	JobID      string        `json:"job_id"`
	JobType    string        `json:"job_type"`
	TenantID   string        `json:"tenant_id"`
	WorkerID   string        `json:"worker_id"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms,omitempty"`
	Status     domain.Status `json:"status,omitempty"`
	ResultSize int           `json:"result_size,omitempty"`
	Error      string        `json:"error,omitempty"`
	Retrying   bool          `json:"retrying,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Observer receives job lifecycle events. Implementations must not block for
// long; they run on the worker's loop.
type Observer interface {
	JobStarted(ctx context.Context, ev Event)
	JobCompleted(ctx context.Context, ev Event)
	JobFailed(ctx context.Context, ev Event)
}

// ClaimObserver is optionally implemented by observers interested in failed
// claim attempts.
type ClaimObserver interface {
	ClaimFailed(ctx context.Context, workerID string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) JobStarted(context.Context, Event)   {}
func (NopObserver) JobCompleted(context.Context, Event) {}
func (NopObserver) JobFailed(context.Context, Event)    {}

// Observers fans events out to several observers. A panicking observer is
// logged and skipped.
type Observers struct {
	list   []Observer
	logger *slog.Logger
}

// NewObservers combines observers into one.
func NewObservers(logger *slog.Logger, observers ...Observer) *Observers {
	return &Observers{list: observers, logger: logger}
}

func (o *Observers) JobStarted(ctx context.Context, ev Event) {
	o.each(ev.Name, func(obs Observer) { obs.JobStarted(ctx, ev) })
}

func (o *Observers) JobCompleted(ctx context.Context, ev Event) {
	o.each(ev.Name, func(obs Observer) { obs.JobCompleted(ctx, ev) })
}

func (o *Observers) JobFailed(ctx context.Context, ev Event) {
	o.each(ev.Name, func(obs Observer) { obs.JobFailed(ctx, ev) })
}

func (o *Observers) ClaimFailed(ctx context.Context, workerID string, err error) {
	o.each("claim_failed", func(obs Observer) {
		if co, ok := obs.(ClaimObserver); ok {
			co.ClaimFailed(ctx, workerID, err)
		}
	})
}

func (o *Observers) each(event string, fn func(Observer)) {
	for _, obs := range o.list {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					o.logger.Error("Observer panicked",
						slog.String("event", event),
						slog.Any("panic", rec),
					)
				}
			}()
			fn(obs)
		}()
	}
}

// LogObserver writes lifecycle events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) JobStarted(ctx context.Context, ev Event) {
	l.logger.InfoContext(ctx, "Job started", eventAttrs(ev)...)
}

func (l *LogObserver) JobCompleted(ctx context.Context, ev Event) {
	attrs := append(eventAttrs(ev),
		slog.Duration("duration", ev.Duration),
		slog.String("result_size", humanize.Bytes(uint64(ev.ResultSize))),
	)
	l.logger.InfoContext(ctx, "Job completed", attrs...)
}

func (l *LogObserver) JobFailed(ctx context.Context, ev Event) {
	attrs := append(eventAttrs(ev),
		slog.Duration("duration", ev.Duration),
		slog.String("error", ev.Error),
		slog.Bool("retrying", ev.Retrying),
		slog.String("reason", ev.Reason),
	)
	if ev.Retrying {
		l.logger.WarnContext(ctx, "Job attempt failed", attrs...)
		return
	}
	l.logger.ErrorContext(ctx, "Job failed", attrs...)
}

func (l *LogObserver) ClaimFailed(ctx context.Context, workerID string, err error) {
	l.logger.ErrorContext(ctx, "Failed to claim job",
		slog.String("worker_id", workerID),
		slog.Any("error", err),
	)
}

func eventAttrs(ev Event) []any {
	return []any{
		slog.String("event", ev.Name),
		slog.String("job_id", ev.JobID),
		slog.String("job_type", ev.JobType),
		slog.String("tenant_id", ev.TenantID),
		slog.String("worker_id", ev.WorkerID),
		slog.Int("attempt", ev.Attempt),
		slog.String("status", string(ev.Status)),
	}
}

// Publisher sends a message body to a routing key.
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte) error
}

// EventPublisher forwards lifecycle events to a message broker as JSON.
// Publish failures are logged and otherwise ignored.
type EventPublisher struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(publisher Publisher, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		publisher: publisher,
		logger:    logger,
		timeout:   5 * time.Second,
	}
}

func (p *EventPublisher) JobStarted(ctx context.Context, ev Event) {
	p.publish(ctx, domain.RoutingKeyJobStart, ev)
}

func (p *EventPublisher) JobCompleted(ctx context.Context, ev Event) {
	p.publish(ctx, domain.RoutingKeyJobComplete, ev)
}

func (p *EventPublisher) JobFailed(ctx context.Context, ev Event) {
	p.publish(ctx, domain.RoutingKeyJobFailed, ev)
}

func (p *EventPublisher) publish(ctx context.Context, routingKey string, ev Event) {
	ev.DurationMS = ev.Duration.Milliseconds()

	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to marshal job event",
			slog.String("event", ev.Name),
			slog.Any("error", err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.publisher.PublishWithRetry(ctx, routingKey, body); err != nil {
		p.logger.Warn("Failed to publish job event",
			slog.String("event", ev.Name),
			slog.String("job_id", ev.JobID),
			slog.Any("error", err),
		)
	}
}
