// Package server — metrics.go registers all Prometheus metrics for the
// service and exposes helpers used by handlers, middleware, and the job pool.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Metrics holds all Prometheus instruments owned by the service. A single
// instance is shared between the HTTP server and the job pool so everything
// lands in one registry; it satisfies jobs.Metrics. The constructor takes a
// prometheus.Registerer so tests can inject a fresh registry without
// polluting the default one.
type Metrics struct {
	// chatRequestsTotal counts completed /chat/sync requests, partitioned by
	// outcome: "ok", "invalid", "upstream_error", "timeout", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each successful
	// /chat/sync request.
	chatDurationSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler label, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// jobsSubmittedTotal counts jobs accepted by the async path.
	jobsSubmittedTotal prometheus.Counter

	// jobsStartedTotal counts jobs claimed by a worker.
	jobsStartedTotal prometheus.Counter

	// jobsCompletedTotal counts jobs reaching a terminal state, partitioned
	// by outcome: "succeeded" or "failed". Failed includes watchdog reaps.
	jobsCompletedTotal *prometheus.CounterVec
}

// NewMetrics registers all service metrics against reg and returns the
// populated Metrics. promauto.With(reg) is used so that each call registers
// into the provided registry rather than the global default, which keeps
// unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answerd",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /chat/sync requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "answerd",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /chat/sync requests from receipt to answer.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answerd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "answerd",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		jobsSubmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "answerd",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of jobs accepted by POST /chat/async.",
		}),

		jobsStartedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "answerd",
			Subsystem: "jobs",
			Name:      "started_total",
			Help:      "Total number of jobs claimed by a worker.",
		}),

		jobsCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answerd",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of jobs reaching a terminal state, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

// JobSubmitted implements jobs.Metrics.
func (m *Metrics) JobSubmitted() { m.jobsSubmittedTotal.Inc() }

// JobStarted implements jobs.Metrics.
func (m *Metrics) JobStarted() { m.jobsStartedTotal.Inc() }

// JobSucceeded implements jobs.Metrics.
func (m *Metrics) JobSucceeded() { m.jobsCompletedTotal.WithLabelValues("succeeded").Inc() }

// JobFailed implements jobs.Metrics.
func (m *Metrics) JobFailed() { m.jobsCompletedTotal.WithLabelValues("failed").Inc() }
