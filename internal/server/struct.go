package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/answerd/answerd/internal/jobs"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// be long enough for a full synchronous pipeline run.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single POST /chat/sync pipeline run.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the chat
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on the chat routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Metrics is the shared metrics instance. When nil, New registers a fresh
	// one against MetricsRegistry. Pass the same instance given to the job
	// pool so job counters and HTTP counters land in one registry.
	Metrics *Metrics
}

// answerer is the interface handleChatSync calls to run the pipeline.
// *chat.Dispatcher satisfies it; tests inject a fake.
type answerer interface {
	// Answer produces a grounded answer for the user's message.
	Answer(ctx context.Context, message string) (string, error)
}

// submitter is the interface handleChatAsync calls to enqueue a job.
// *jobs.Pool satisfies it; tests inject a fake.
type submitter interface {
	// Submit persists a queued job for message and returns its id.
	Submit(ctx context.Context, message string) (string, error)
}

// jobGetter is the interface handleJobStatus reads job records through.
// Any jobs.Store satisfies it.
type jobGetter interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// Server is the HTTP server exposing the question-answering pipeline.
type Server struct {
	// answerer runs the synchronous pipeline; set to the chat dispatcher in
	// production, overridden by a fake in tests.
	answerer answerer
	// queue accepts asynchronous submissions.
	queue submitter
	// store reads job records for the polling endpoint.
	store jobGetter
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /chat/sync and POST /chat/async.
type chatRequest struct {
	// Message is the user's natural language question.
	Message string `json:"message"`
}

// chatSyncResponse is the JSON response for POST /chat/sync.
type chatSyncResponse struct {
	// Answer is the model's grounded answer.
	Answer string `json:"answer"`
}

// chatAsyncResponse is the JSON response for POST /chat/async.
type chatAsyncResponse struct {
	// JobID identifies the queued job for later polling.
	JobID string `json:"job_id"`
}

// jobStatusResponse is the JSON response for GET /chat/jobs/{job_id}.
// Answer is present only once the job has succeeded; Error only once it
// has failed.
type jobStatusResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

// errorResponse is the JSON body for all error statuses.
type errorResponse struct {
	Error string `json:"error"`
}
