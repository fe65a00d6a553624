// Package server implements the HTTP server that exposes the
// question-answering pipeline over a small JSON API: a synchronous
// request/response endpoint, an asynchronous submit-and-poll pair backed by
// the job queue, and the usual health, readiness, and metrics endpoints.
// The server is started by the `answerd serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/answerd/answerd/internal/chat"
	"github.com/answerd/answerd/internal/jobs"
	"github.com/answerd/answerd/internal/logging"
	"github.com/answerd/answerd/internal/rag"
)

// New constructs a Server from the pipeline dispatcher, the job pool, the
// job store, and config. queue and store may be nil together to disable the
// async endpoints (the sync endpoint alone is a valid deployment).
func New(dispatcher answerer, queue submitter, store jobGetter, cfg *Config) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("server: dispatcher must not be nil")
	}
	if (queue == nil) != (store == nil) {
		return nil, fmt.Errorf("server: queue and job store must be set together")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full synchronous pipeline run.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.MetricsRegistry)
	}

	s := &Server{
		answerer: dispatcher,
		queue:    queue,
		store:    store,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  cfg.Metrics,
	}

	if cfg.APIKey == "" {
		s.log.Warn("API key not configured, chat endpoints are unauthenticated")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	// Auth and rate limiting guard the chat routes only; health, readiness,
	// and metrics stay open for probes and scrapers.
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /chat/sync", protected(s.handleChatSync))
	if queue != nil {
		mux.Handle("POST /chat/async", protected(s.handleChatAsync))
		mux.Handle("GET /chat/jobs/{job_id}", protected(s.handleJobStatus))
	}
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.metrics, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChatSync handles POST /chat/sync. It runs the full pipeline inline
// and returns the answer, mapping pipeline errors to HTTP statuses: 400 for
// validation, 502 for upstream embedding or completion failures.
func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	answer, err := s.answerer.Answer(ctx, req.Message)
	if err != nil {
		outcome, status, msg := classifyPipelineError(err)
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		if status >= http.StatusInternalServerError {
			log.Error("sync chat failed", slog.Any("error", err))
		}
		writeError(w, status, msg)
		return
	}

	s.metrics.chatRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcomeOK).Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, chatSyncResponse{Answer: answer})
}

// handleChatAsync handles POST /chat/async. It enqueues the message and
// returns the job id immediately; pipeline errors surface only through the
// polling endpoint. Only queue capacity can fail a submission.
func (s *Server) handleChatAsync(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := s.queue.Submit(r.Context(), req.Message)
	if err != nil {
		log.Error("async submission rejected", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "submission queue is full")
		return
	}

	log.Info("job submitted", slog.String("job_id", jobID))
	writeJSON(w, http.StatusOK, chatAsyncResponse{JobID: jobID})
}

// handleJobStatus handles GET /chat/jobs/{job_id}. While the job is queued
// or running the response carries only the status; succeeded jobs include
// the answer and failed jobs the failure description.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown job id")
			return
		}
		logging.FromContext(r.Context()).Error("job lookup failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}

	resp := jobStatusResponse{JobID: job.ID, Status: string(job.Status)}
	switch job.Status {
	case jobs.StatusSucceeded:
		resp.Answer = job.Result
	case jobs.StatusFailed:
		resp.Error = job.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Metric outcome labels for the chat counters.
const (
	outcomeOK       = "ok"
	outcomeInvalid  = "invalid"
	outcomeUpstream = "upstream_error"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// classifyPipelineError maps a pipeline error to a metrics outcome, an HTTP
// status, and a client-safe message. Retrieval errors never reach here; the
// dispatcher absorbs them.
func classifyPipelineError(err error) (outcome string, status int, msg string) {
	switch {
	// Checked first: a deadline hit inside the pipeline arrives wrapped in
	// the embedding or completion sentinel, and it is a timeout, not a
	// backend fault.
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout, http.StatusGatewayTimeout, "pipeline timed out"
	case errors.Is(err, chat.ErrValidation):
		return outcomeInvalid, http.StatusBadRequest, "message must not be empty"
	case errors.Is(err, rag.ErrEmbedding):
		return outcomeUpstream, http.StatusBadGateway, "embedding backend failed"
	case errors.Is(err, chat.ErrCompletion):
		return outcomeUpstream, http.StatusBadGateway, "completion backend failed"
	default:
		return outcomeError, http.StatusInternalServerError, "internal error"
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
