package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is a Store backed by a local SQLite database, for deployments
// that need job records to survive a restart. State transitions use
// conditional UPDATEs (`WHERE status = ...`), so the at-most-one-claim
// guarantee holds across processes sharing the file.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the job database. It resolves
// to ~/.answerd/jobs.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("jobs: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".answerd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("jobs: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "jobs.db"), nil
}

// OpenSQLite opens (or creates) a SQLiteStore at the given path and runs
// the schema migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobs: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT    PRIMARY KEY,
    status      TEXT    NOT NULL CHECK(status IN ('queued','running','succeeded','failed')),
    input       TEXT    NOT NULL,
    result      TEXT    NOT NULL DEFAULT '',
    error       TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_updated
    ON jobs (status, updated_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("jobs: migrate: %w", err)
	}
	return nil
}

// Create allocates a fresh UUID and inserts the job in queued state.
func (s *SQLiteStore) Create(ctx context.Context, input string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}

	const q = `INSERT INTO jobs (id, status, input, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, job.ID, string(job.Status), job.Input, now.Unix(), now.Unix()); err != nil {
		return nil, fmt.Errorf("jobs: create: %w", err)
	}
	return job, nil
}

// Get returns the current job state, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	const q = `SELECT id, status, input, result, error, created_at, updated_at FROM jobs WHERE id = ?`

	var job Job
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&job.ID, &status, &job.Input, &job.Result, &job.Error, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("jobs: %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get: %w", err)
	}

	job.Status = Status(status)
	job.CreatedAt = time.Unix(created, 0).UTC()
	job.UpdatedAt = time.Unix(updated, 0).UTC()
	return &job, nil
}

// Claim transitions queued → running via a conditional UPDATE. A zero row
// count means the job either does not exist or is past queued; Get decides
// which error to return.
func (s *SQLiteStore) Claim(ctx context.Context, id string) (*Job, error) {
	return s.transition(ctx, id, StatusQueued, StatusRunning,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)
}

// Complete transitions running → succeeded and records the result.
func (s *SQLiteStore) Complete(ctx context.Context, id, result string) (*Job, error) {
	return s.transition(ctx, id, StatusRunning, StatusSucceeded,
		`UPDATE jobs SET status = ?, result = ?, updated_at = ? WHERE id = ? AND status = ?`, result)
}

// Fail transitions running → failed and records the error message.
func (s *SQLiteStore) Fail(ctx context.Context, id, errMsg string) (*Job, error) {
	return s.transition(ctx, id, StatusRunning, StatusFailed,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`, errMsg)
}

// transition runs the conditional UPDATE for a from → to state change.
// extra, if present, is the result/error payload bound between the new
// status and the timestamp.
func (s *SQLiteStore) transition(ctx context.Context, id string, from, to Status, q string, extra ...any) (*Job, error) {
	now := time.Now().UTC().Unix()

	args := make([]any, 0, 5)
	args = append(args, string(to))
	args = append(args, extra...)
	args = append(args, now, id, string(from))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: transition %s→%s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("jobs: transition %s→%s: rows affected: %w", from, to, err)
	}
	if n == 0 {
		// Disambiguate: unknown id vs. a job past the expected state.
		cur, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("jobs: %w: %s is %s, not %s", ErrInvalidTransition, id, cur.Status, from)
	}

	return s.Get(ctx, id)
}

// QueuedIDs returns the ids of every queued job, oldest first. After a
// restart these are the jobs a previous process accepted but never ran.
func (s *SQLiteStore) QueuedIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q, string(StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("jobs: queued ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("jobs: queued ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: queued ids rows: %w", err)
	}
	return ids, nil
}

// ReapStale fails every job running since before cutoff.
func (s *SQLiteStore) ReapStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	const sel = `SELECT id FROM jobs WHERE status = ? AND updated_at < ?`
	rows, err := s.db.QueryContext(ctx, sel, string(StatusRunning), cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("jobs: reap select: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("jobs: reap scan: %w", err)
		}
		stale = append(stale, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: reap rows: %w", err)
	}

	var reaped []string
	for _, id := range stale {
		// The conditional Fail keeps this race-free against a worker that
		// finishes between the SELECT and the UPDATE.
		if _, err := s.Fail(ctx, id, stuckJobError); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			return reaped, err
		}
		reaped = append(reaped, id)
	}
	return reaped, nil
}

// Ping verifies the database is reachable. Used by readiness probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("jobs: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("jobs: close: %w", err)
	}
	return nil
}
