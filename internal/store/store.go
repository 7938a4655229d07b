// Package store keeps the history of batch jobs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Job is one row of the jobs table.
type Job struct {
	ID           string     `json:"id"`
	TemplateName string     `json:"template_name"`
	LinkCount    int        `json:"link_count"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	Status       Status     `json:"status"`
	ArchivePath  string     `json:"-"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Outcome is what Finish records.
type Outcome struct {
	Status      Status
	Succeeded   int
	Failed      int
	ArchivePath string
	Error       string
}

// Store persists jobs.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		template_name TEXT NOT NULL,
		link_count INTEGER NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		archive_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Create inserts a queued job. CreatedAt defaults to now.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, created_at, template_name, link_count, status) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.CreatedAt.UnixMilli(), job.TemplateName, job.LinkCount, string(job.Status))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Start marks a queued job as running. Jobs in any other state are
// reported as ErrNotFound.
func (s *Store) Start(ctx context.Context, id string) error {
	return s.update(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		id, string(StatusRunning), id, string(StatusQueued))
}

// Progress records a running job's counters.
func (s *Store) Progress(ctx context.Context, id string, succeeded, failed int) error {
	return s.update(ctx,
		`UPDATE jobs SET status = ?, succeeded = ?, failed = ? WHERE id = ?`,
		id, string(StatusRunning), succeeded, failed, id)
}

// Finish records the terminal state of a job.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	if !out.Status.Finished() {
		return fmt.Errorf("status %q is not terminal", out.Status)
	}
	return s.update(ctx,
		`UPDATE jobs SET status = ?, succeeded = ?, failed = ?, archive_path = ?, error = ?, finished_at = ? WHERE id = ?`,
		id, string(out.Status), out.Succeeded, out.Failed, out.ArchivePath, out.Error, time.Now().UnixMilli(), id)
}

func (s *Store) update(ctx context.Context, query, id string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectJob = `SELECT id, created_at, finished_at, template_name, link_count, succeeded, failed, status, archive_path, error FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j                 Job
		created, finished int64
		status            string
	)
	if err := row.Scan(&j.ID, &created, &finished, &j.TemplateName, &j.LinkCount,
		&j.Succeeded, &j.Failed, &status, &j.ArchivePath, &j.Error); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.CreatedAt = time.UnixMilli(created)
	if finished > 0 {
		t := time.UnixMilli(finished)
		j.FinishedAt = &t
	}
	return &j, nil
}

// Get returns the job with id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, err := scanJob(s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	return j, nil
}

// List returns up to limit jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.query(ctx, selectJob+` ORDER BY created_at DESC, id LIMIT ?`, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// Prune deletes finished jobs created before cutoff and returns them so the
// caller can remove their archives.
func (s *Store) Prune(ctx context.Context, before time.Time) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal := []any{string(StatusDone), string(StatusFailed), string(StatusCancelled)}
	args := append([]any{before.UnixMilli()}, terminal...)

	old, err := s.query(ctx, selectJob+` WHERE created_at < ? AND status IN (?, ?, ?)`, args...)
	if err != nil {
		return nil, err
	}
	if len(old) == 0 {
		return old, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?, ?)`, args...); err != nil {
		return nil, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return old, nil
}

// FailUnfinished marks jobs left queued or running by a previous process as
// failed. It returns the number of rows changed.
func (s *Store) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE status IN (?, ?)`,
		string(StatusFailed), reason, time.Now().UnixMilli(), string(StatusQueued), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to reset jobs: %w", err)
	}
	return res.RowsAffected()
}
