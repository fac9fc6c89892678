// Package metrics exposes job queue activity as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"

	"github.com/cuongbtq/jobqueue/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobqueue"

// Metrics holds the worker collectors and the registry they are registered on.
type Metrics struct {
	registry *prometheus.Registry

	JobsStarted   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	ResultBytes   *prometheus.HistogramVec
	ClaimErrors   prometheus.Counter
	JobsEnqueued  *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		JobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Job attempts started, by job type.",
		}, []string{"type"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs completed successfully, by job type.",
		}, []string{"type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs failed terminally, by job type and reason.",
		}, []string{"type", "reason"}),
		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Failed attempts released back to pending, by job type.",
		}, []string{"type"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler execution time per attempt.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"type", "outcome"}),
		ResultBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_result_bytes",
			Help:      "Size of persisted job results.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"type"}),
		ClaimErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_errors_total",
			Help:      "Claim attempts that failed with a store error.",
		}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted by the producer API, by job type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.JobsStarted,
		m.JobsCompleted,
		m.JobsFailed,
		m.JobsRetried,
		m.JobDuration,
		m.ResultBytes,
		m.ClaimErrors,
		m.JobsEnqueued,
	)

	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observer adapts m to the worker's lifecycle hooks.
func (m *Metrics) Observer() *Observer {
	return &Observer{m: m}
}

// Observer records worker lifecycle events into Metrics.
type Observer struct {
	m *Metrics
}

var (
	_ worker.Observer      = (*Observer)(nil)
	_ worker.ClaimObserver = (*Observer)(nil)
)

func (o *Observer) JobStarted(_ context.Context, ev worker.Event) {
	o.m.JobsStarted.WithLabelValues(ev.JobType).Inc()
}

func (o *Observer) JobCompleted(_ context.Context, ev worker.Event) {
	o.m.JobsCompleted.WithLabelValues(ev.JobType).Inc()
	o.m.JobDuration.WithLabelValues(ev.JobType, "completed").Observe(ev.Duration.Seconds())
	o.m.ResultBytes.WithLabelValues(ev.JobType).Observe(float64(ev.ResultSize))
}

func (o *Observer) JobFailed(_ context.Context, ev worker.Event) {
	if ev.Retrying {
		o.m.JobsRetried.WithLabelValues(ev.JobType).Inc()
		o.m.JobDuration.WithLabelValues(ev.JobType, "retried").Observe(ev.Duration.Seconds())
		return
	}
	o.m.JobsFailed.WithLabelValues(ev.JobType, ev.Reason).Inc()
	o.m.JobDuration.WithLabelValues(ev.JobType, "failed").Observe(ev.Duration.Seconds())
}

func (o *Observer) ClaimFailed(context.Context, string, error) {
	o.m.ClaimErrors.Inc()
}
