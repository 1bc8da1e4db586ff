// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

// maxLogEntries bounds the per-job jsonb log ring.
const maxLogEntries = 500

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore implements scraper.JobStore on Postgres.
type JobStore struct {
	pool dbConn
}

// NewJobStore connects a JobStore to the database.
func NewJobStore(ctx context.Context, dsn string) (*JobStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool dbConn) *JobStore {
	return &JobStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job scraper.Job) error {
	logs, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	query := `
INSERT INTO scrape_jobs (id, user_id, source_url, mode, status, cancel_requested, total_found, processed, logs, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err = s.pool.Exec(ctx, query,
		job.ID, job.UserID, job.SourceURL, job.Mode, job.Status,
		job.CancelRequested, job.TotalFound, job.Processed, logs, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a job by id, including its log ring.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	query := `
SELECT id, user_id, source_url, mode, status, cancel_requested, total_found, processed, logs, created_at, finished_at
FROM scrape_jobs WHERE id = $1;`
	return s.scanJob(s.pool.QueryRow(ctx, query, jobID))
}

// ListJobs returns the most recent jobs, newest first.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]scraper.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, user_id, source_url, mode, status, cancel_requested, total_found, processed, logs, created_at, finished_at
FROM scrape_jobs ORDER BY created_at DESC LIMIT $1;`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scraper.Job
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) scanJob(row pgx.Row) (scraper.Job, error) {
	var job scraper.Job
	var logs []byte
	err := row.Scan(&job.ID, &job.UserID, &job.SourceURL, &job.Mode, &job.Status,
		&job.CancelRequested, &job.TotalFound, &job.Processed, &logs, &job.CreatedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Job{}, scraper.ErrNotFound
	}
	if err != nil {
		return scraper.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &job.Logs); err != nil {
			return scraper.Job{}, fmt.Errorf("decode logs: %w", err)
		}
	}
	return job, nil
}

// SetStatus moves a job to a new status. Terminal rows are never updated.
func (s *JobStore) SetStatus(ctx context.Context, jobID string, status scraper.JobStatus) error {
	query := `
UPDATE scrape_jobs SET status = $2
WHERE id = $1 AND status NOT IN ('done', 'failed', 'cancelled');`
	if _, err := s.pool.Exec(ctx, query, jobID, status); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// SetTotals records how many products discovery found.
func (s *JobStore) SetTotals(ctx context.Context, jobID string, totalFound int) error {
	if _, err := s.pool.Exec(ctx, `UPDATE scrape_jobs SET total_found = $2 WHERE id = $1;`, jobID, totalFound); err != nil {
		return fmt.Errorf("set totals: %w", err)
	}
	return nil
}

// IncrementProcessed bumps the processed counter by one.
func (s *JobStore) IncrementProcessed(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE scrape_jobs SET processed = processed + 1 WHERE id = $1;`, jobID); err != nil {
		return fmt.Errorf("increment processed: %w", err)
	}
	return nil
}

// AppendLog appends an entry to the job's log ring, trimming to the newest
// maxLogEntries entries.
func (s *JobStore) AppendLog(ctx context.Context, jobID string, entry scraper.LogEntry) error {
	encoded, err := json.Marshal([]scraper.LogEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	query := `
UPDATE scrape_jobs SET logs = (
	SELECT COALESCE(jsonb_agg(elem ORDER BY ord), '[]'::jsonb)
	FROM (
		SELECT elem, ord
		FROM jsonb_array_elements(scrape_jobs.logs || $2::jsonb) WITH ORDINALITY AS t(elem, ord)
		ORDER BY ord DESC
		LIMIT $3
	) tail
)
WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, query, jobID, encoded, maxLogEntries); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// SetCancelRequested flips the cooperative cancellation flag.
func (s *JobStore) SetCancelRequested(ctx context.Context, jobID string, requested bool) error {
	if _, err := s.pool.Exec(ctx, `UPDATE scrape_jobs SET cancel_requested = $2 WHERE id = $1;`, jobID, requested); err != nil {
		return fmt.Errorf("set cancel requested: %w", err)
	}
	return nil
}

// MarkFinished records the terminal status and finish time exactly once.
func (s *JobStore) MarkFinished(ctx context.Context, jobID string, status scraper.JobStatus) error {
	query := `
UPDATE scrape_jobs SET status = $2, finished_at = $3
WHERE id = $1 AND status NOT IN ('done', 'failed', 'cancelled');`
	if _, err := s.pool.Exec(ctx, query, jobID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	return nil
}

// DeleteFinished removes all terminal jobs and reports how many went away.
func (s *JobStore) DeleteFinished(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_jobs WHERE status IN ('done', 'failed', 'cancelled');`)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
