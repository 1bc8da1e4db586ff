package scraper

import (
	"context"
)

// JobStore persists job records and their progress.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	SetStatus(ctx context.Context, jobID string, status JobStatus) error
	SetTotals(ctx context.Context, jobID string, totalFound int) error
	IncrementProcessed(ctx context.Context, jobID string) error
	AppendLog(ctx context.Context, jobID string, entry LogEntry) error
	SetCancelRequested(ctx context.Context, jobID string, requested bool) error
	MarkFinished(ctx context.Context, jobID string, status JobStatus) error
	DeleteFinished(ctx context.Context) (int, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs. Remove drops a
// still-queued payload so a cancelled job is never picked up.
type Queue interface {
	Enqueue(ctx context.Context, payload QueuePayload) error
	Dequeue(ctx context.Context) (QueuePayload, error)
	Remove(ctx context.Context, jobID string) (bool, error)
}

// PersistOptions controls how the sink commits a scraped product.
type PersistOptions struct {
	CommitToCatalog   bool
	OverwriteExisting bool
}

// Sink upserts a scraped product into the catalog and records a per-job
// result row. Implementations must be idempotent per (jobID, normalized SKU).
type Sink interface {
	Persist(ctx context.Context, jobID string, product Product, opts PersistOptions) (Result, error)
	CountResults(ctx context.Context, jobID string) (int, error)
	ListResults(ctx context.Context, jobID string) ([]Result, error)
}

// ClassifyInput is one item of a classification batch.
type ClassifyInput struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Brand            string `json:"brand"`
	ShortDescription string `json:"shortDescription"`
	LongDescription  string `json:"longDescription"`
	DetailURL        string `json:"detailUrl"`
}

// Classifier assigns taxonomy categories to a batch of products. Returned
// labels are keyed by input ID; missing keys mean the caller should fall back
// to its own heuristics.
type Classifier interface {
	ClassifyBatch(ctx context.Context, items []ClassifyInput) (map[string][]string, error)
}
