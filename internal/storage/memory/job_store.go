// Package memory provides in-memory store implementations for local
// development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

const maxLogEntries = 500

// JobStore implements scraper.JobStore in process memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scraper.Job
}

// NewJobStore builds an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scraper.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// GetJob returns a job by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, limit int) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]scraper.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// SetStatus updates a non-terminal job's status.
func (s *JobStore) SetStatus(_ context.Context, jobID string, status scraper.JobStatus) error {
	return s.update(jobID, func(job *scraper.Job) {
		if !job.Status.IsTerminal() {
			job.Status = status
		}
	})
}

// SetTotals records the discovered total.
func (s *JobStore) SetTotals(_ context.Context, jobID string, totalFound int) error {
	return s.update(jobID, func(job *scraper.Job) { job.TotalFound = totalFound })
}

// IncrementProcessed bumps the processed counter.
func (s *JobStore) IncrementProcessed(_ context.Context, jobID string) error {
	return s.update(jobID, func(job *scraper.Job) { job.Processed++ })
}

// AppendLog appends to the job's log ring, keeping the newest entries.
func (s *JobStore) AppendLog(_ context.Context, jobID string, entry scraper.LogEntry) error {
	return s.update(jobID, func(job *scraper.Job) {
		job.Logs = append(job.Logs, entry)
		if len(job.Logs) > maxLogEntries {
			job.Logs = job.Logs[len(job.Logs)-maxLogEntries:]
		}
	})
}

// SetCancelRequested flips the cancellation flag.
func (s *JobStore) SetCancelRequested(_ context.Context, jobID string, requested bool) error {
	return s.update(jobID, func(job *scraper.Job) { job.CancelRequested = requested })
}

// MarkFinished records the terminal status once.
func (s *JobStore) MarkFinished(_ context.Context, jobID string, status scraper.JobStatus) error {
	return s.update(jobID, func(job *scraper.Job) {
		if job.Status.IsTerminal() {
			return
		}
		job.Status = status
		now := time.Now().UTC()
		job.FinishedAt = &now
	})
}

// DeleteFinished drops all terminal jobs.
func (s *JobStore) DeleteFinished(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for id, job := range s.jobs {
		if job.Status.IsTerminal() {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *JobStore) update(jobID string, fn func(*scraper.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrNotFound
	}
	fn(&job)
	s.jobs[jobID] = job
	return nil
}
