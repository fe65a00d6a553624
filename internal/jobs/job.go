// Package jobs implements the asynchronous half of the service: a pollable
// job record store and a worker pool that executes the chat pipeline in the
// background. A job moves through exactly one path of the state machine
//
//	queued → running → succeeded
//	queued → running → failed
//
// and never leaves a terminal state. The store's Claim operation is the
// worker's claim ticket: it is an atomic queued→running transition, so at
// most one worker ever owns a job.
package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for operations on an unknown job id.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a state change is requested from a
// state it is not legal from. Workers racing to claim the same job see it
// routinely; anywhere else it indicates a bug.
var ErrInvalidTransition = errors.New("invalid job transition")

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusQueued is the initial state set by Create.
	StatusQueued Status = "queued"
	// StatusRunning means a worker has claimed the job and is executing it.
	StatusRunning Status = "running"
	// StatusSucceeded is the terminal success state; Result is set.
	StatusSucceeded Status = "succeeded"
	// StatusFailed is the terminal failure state; Error is set.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is one unit of asynchronous work. Result is non-empty iff the status
// is succeeded; Error is non-empty iff the status is failed.
type Job struct {
	// ID is the unique job identifier returned to the client for polling.
	ID string
	// Status is the current lifecycle state.
	Status Status
	// Input is the user message the job will answer.
	Input string
	// Result is the model's answer, set on success.
	Result string
	// Error is the human-readable failure reason, set on failure.
	Error string
	// CreatedAt is when the job was submitted.
	CreatedAt time.Time
	// UpdatedAt is when the job last changed state.
	UpdatedAt time.Time
}

// Store persists job records. All mutating operations are atomic with
// respect to concurrent callers on the same id: no two callers may both
// observe queued and both succeed at Claim. Implementations must be safe
// for concurrent use.
type Store interface {
	// Create allocates a fresh id, persists the job in queued state, and
	// returns it.
	Create(ctx context.Context, input string) (*Job, error)

	// Get returns the current job state, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Claim transitions queued → running. It is the at-most-one-claim gate:
	// exactly one of any set of concurrent callers succeeds, the rest get
	// ErrInvalidTransition (or ErrNotFound for unknown ids).
	Claim(ctx context.Context, id string) (*Job, error)

	// Complete transitions running → succeeded and records the result.
	Complete(ctx context.Context, id, result string) (*Job, error)

	// Fail transitions running → failed and records the error message.
	Fail(ctx context.Context, id, errMsg string) (*Job, error)

	// QueuedIDs returns the ids of every job currently in queued state.
	// The pool calls it once at startup to resume jobs a previous process
	// persisted but never ran.
	QueuedIDs(ctx context.Context) ([]string, error)

	// ReapStale fails every job that has been running since before cutoff,
	// returning the ids it failed. This is the recovery path for jobs
	// stranded by a crashed worker.
	ReapStale(ctx context.Context, cutoff time.Time) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// stuckJobError is the failure message written by ReapStale.
const stuckJobError = "job exceeded the maximum running time and was reaped"
