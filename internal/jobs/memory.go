package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store backed by a mutex-guarded in-process map. It is
// the default deployment choice; records live until process exit.
type MemoryStore struct {
	// mu guards jobs. All transitions happen under it, which is what makes
	// Claim an atomic compare-and-swap rather than a read-then-write race.
	mu sync.Mutex

	// jobs maps job id to its record. Values are never handed out directly;
	// every read returns a copy so callers cannot mutate store state.
	jobs map[string]*Job
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create allocates a fresh UUID, persists the job in queued state, and
// returns a copy.
func (s *MemoryStore) Create(_ context.Context, input string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	c := *job
	return &c, nil
}

// Get returns a copy of the current job state, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobs: %w: %s", ErrNotFound, id)
	}
	c := *job
	return &c, nil
}

// Claim transitions queued → running.
func (s *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	return s.transition(id, StatusQueued, StatusRunning, func(*Job) {})
}

// Complete transitions running → succeeded and records the result.
func (s *MemoryStore) Complete(_ context.Context, id, result string) (*Job, error) {
	return s.transition(id, StatusRunning, StatusSucceeded, func(j *Job) { j.Result = result })
}

// Fail transitions running → failed and records the error message.
func (s *MemoryStore) Fail(_ context.Context, id, errMsg string) (*Job, error) {
	return s.transition(id, StatusRunning, StatusFailed, func(j *Job) { j.Error = errMsg })
}

// transition performs an atomic from → to state change, applying mutate to
// the record while still under the lock.
func (s *MemoryStore) transition(id string, from, to Status, mutate func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobs: %w: %s", ErrNotFound, id)
	}
	if job.Status != from {
		return nil, fmt.Errorf("jobs: %w: %s is %s, not %s", ErrInvalidTransition, id, job.Status, from)
	}

	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	mutate(job)

	c := *job
	return &c, nil
}

// QueuedIDs returns the ids of every job currently in queued state.
func (s *MemoryStore) QueuedIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, job := range s.jobs {
		if job.Status == StatusQueued {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ReapStale fails every job running since before cutoff.
func (s *MemoryStore) ReapStale(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []string
	now := time.Now().UTC()
	for id, job := range s.jobs {
		if job.Status == StatusRunning && job.UpdatedAt.Before(cutoff) {
			job.Status = StatusFailed
			job.Error = stuckJobError
			job.UpdatedAt = now
			reaped = append(reaped, id)
		}
	}
	return reaped, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
