package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default pool tuning. Overridable per deployment through PoolConfig.
const (
	defaultWorkers      = 4
	defaultQueueSize    = 256
	defaultJobTimeout   = 2 * time.Minute
	defaultStuckAfter   = 5 * time.Minute
	defaultReapInterval = 30 * time.Second
)

// Answerer is the pipeline executed for each job.
// *chat.Dispatcher satisfies it; tests inject a fake.
type Answerer interface {
	// Answer produces the grounded answer for one user message.
	Answer(ctx context.Context, message string) (string, error)
}

// Metrics receives job lifecycle notifications. The server wires a
// Prometheus implementation; a no-op is used when nil.
type Metrics interface {
	JobSubmitted()
	JobStarted()
	JobSucceeded()
	JobFailed()
}

// nopMetrics discards all notifications.
type nopMetrics struct{}

func (nopMetrics) JobSubmitted() {}
func (nopMetrics) JobStarted()   {}
func (nopMetrics) JobSucceeded() {}
func (nopMetrics) JobFailed()    {}

// PoolConfig holds the dependencies and tuning for a worker pool.
type PoolConfig struct {
	// Store persists job records.
	Store Store
	// Answerer executes the chat pipeline for each claimed job.
	Answerer Answerer
	// Workers is the number of concurrent workers (default: 4).
	Workers int
	// QueueSize bounds the submission queue (default: 256). A full queue
	// rejects further submissions rather than blocking the caller.
	QueueSize int
	// JobTimeout bounds a single job's execution (default: 2m).
	JobTimeout time.Duration
	// StuckAfter is how long a job may sit in running before the watchdog
	// fails it (default: 5m). Keep it above JobTimeout so the watchdog only
	// fires for jobs stranded by a crashed worker.
	StuckAfter time.Duration
	// ReapInterval is how often the watchdog scans (default: 30s).
	ReapInterval time.Duration
	// Logger is the structured logger. Defaults to slog.Default.
	Logger *slog.Logger
	// Metrics receives lifecycle notifications. Optional.
	Metrics Metrics
}

// Pool accepts job submissions and executes them on background workers.
// Submission never blocks on pipeline execution: Submit returns as soon as
// the job record is persisted and enqueued.
type Pool struct {
	// store persists job records.
	store Store
	// answerer executes the chat pipeline.
	answerer Answerer
	// queue carries claimed-to-be job ids to the workers.
	queue chan string
	// workers is the pool size.
	workers int
	// jobTimeout bounds each job execution.
	jobTimeout time.Duration
	// stuckAfter is the watchdog threshold.
	stuckAfter time.Duration
	// reapInterval is the watchdog scan period.
	reapInterval time.Duration
	// log is the structured logger.
	log *slog.Logger
	// metrics receives lifecycle notifications.
	metrics Metrics
	// wg tracks worker and watchdog goroutines for Wait.
	wg sync.WaitGroup
}

// NewPool constructs a Pool from the given config. Call Start to launch
// the workers.
func NewPool(cfg *PoolConfig) (*Pool, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("jobs: pool store must not be nil")
	}
	if cfg.Answerer == nil {
		return nil, fmt.Errorf("jobs: pool answerer must not be nil")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	stuckAfter := cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	reapInterval := cfg.ReapInterval
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	var metrics Metrics = nopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	return &Pool{
		store:        cfg.Store,
		answerer:     cfg.Answerer,
		queue:        make(chan string, queueSize),
		workers:      workers,
		jobTimeout:   jobTimeout,
		stuckAfter:   stuckAfter,
		reapInterval: reapInterval,
		log:          log,
		metrics:      metrics,
	}, nil
}

// Start launches the workers, the stuck-job watchdog, and a one-shot
// recovery pass over jobs a previous process left queued. They exit when
// ctx is cancelled; Wait blocks until they have.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.workerLoop(ctx, worker)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.recoverQueued(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watchdogLoop(ctx)
	}()

	p.log.Info("job pool started",
		slog.Int("workers", p.workers),
		slog.Duration("job_timeout", p.jobTimeout),
		slog.Duration("stuck_after", p.stuckAfter),
	)
}

// Wait blocks until all workers and the watchdog have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit persists a new queued job and enqueues it for execution,
// returning the job id immediately. Pipeline errors never surface here;
// they are recorded on the job and observed via polling. A full queue
// fails the job and returns an error — Submit must not block.
func (p *Pool) Submit(ctx context.Context, input string) (string, error) {
	job, err := p.store.Create(ctx, input)
	if err != nil {
		return "", fmt.Errorf("jobs: submit: %w", err)
	}
	p.metrics.JobSubmitted()

	select {
	case p.queue <- job.ID:
		return job.ID, nil
	default:
		// Queue saturated. Fail the record so pollers see a terminal state
		// instead of a job that will never run.
		if _, failErr := p.claimAndFail(ctx, job.ID, "submission queue is full"); failErr != nil {
			p.log.Error("failed to mark overflowed job as failed",
				slog.String("job_id", job.ID),
				slog.Any("error", failErr),
			)
		}
		return "", fmt.Errorf("jobs: submit: queue is full")
	}
}

// claimAndFail walks a queued job straight to failed through the legal
// state machine path. Each counter increments only after its transition
// commits, so started and completed stay consistent.
func (p *Pool) claimAndFail(ctx context.Context, id, reason string) (*Job, error) {
	if _, err := p.store.Claim(ctx, id); err != nil {
		return nil, err
	}
	p.metrics.JobStarted()

	job, err := p.store.Fail(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	p.metrics.JobFailed()
	return job, nil
}

// recoverQueued re-enqueues jobs that are persisted as queued but sit in
// no submission channel, which happens when a durable store outlives the
// process. Enqueueing blocks until workers drain the queue, so a backlog
// larger than QueueSize still gets through. A job the recovery pass and a
// concurrent Submit both enqueue is harmless: Claim admits only one runner.
func (p *Pool) recoverQueued(ctx context.Context) {
	ids, err := p.store.QueuedIDs(ctx)
	if err != nil {
		p.log.Error("queued-job recovery failed", slog.Any("error", err))
		return
	}
	if len(ids) == 0 {
		return
	}

	p.log.Info("recovering queued jobs", slog.Int("count", len(ids)))
	for _, id := range ids {
		select {
		case p.queue <- id:
		case <-ctx.Done():
			return
		}
	}
}

// workerLoop pops job ids and executes them until ctx is cancelled.
func (p *Pool) workerLoop(ctx context.Context, worker int) {
	log := p.log.With(slog.Int("worker", worker))
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.runJob(ctx, log, id)
		}
	}
}

// runJob claims and executes a single job, then records the outcome.
// Store writes use a non-cancellable context so a shutdown mid-job still
// leaves the record in a terminal state.
func (p *Pool) runJob(ctx context.Context, log *slog.Logger, id string) {
	job, err := p.store.Claim(ctx, id)
	if err != nil {
		// Lost the claim race or the watchdog got there first. Not an error
		// for this worker.
		log.Debug("skipping unclaimable job", slog.String("job_id", id), slog.Any("error", err))
		return
	}
	p.metrics.JobStarted()

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	answer, err := p.answerer.Answer(jobCtx, job.Input)
	cancel()

	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("job failed", slog.String("job_id", id), slog.Any("error", err))
		p.metrics.JobFailed()
		if _, failErr := p.store.Fail(writeCtx, id, err.Error()); failErr != nil {
			log.Error("failed to record job failure", slog.String("job_id", id), slog.Any("error", failErr))
		}
		return
	}

	p.metrics.JobSucceeded()
	if _, err := p.store.Complete(writeCtx, id, answer); err != nil {
		log.Error("failed to record job result", slog.String("job_id", id), slog.Any("error", err))
	}
}

// watchdogLoop periodically fails jobs stuck in running longer than the
// configured threshold, so a crashed worker cannot strand a job forever.
func (p *Pool) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := p.store.ReapStale(ctx, time.Now().Add(-p.stuckAfter))
			if err != nil {
				p.log.Error("stuck-job reap failed", slog.Any("error", err))
				continue
			}
			for _, id := range reaped {
				p.metrics.JobFailed()
				p.log.Warn("reaped stuck job", slog.String("job_id", id))
			}
		}
	}
}
