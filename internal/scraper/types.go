// Package scraper defines core types shared across the scraping subsystems.
package scraper

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store. The state machine is
// queued -> running -> {done, failed, cancelled}; terminal states never
// transition again.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transition.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Mode selects how much of the catalog a job consumes.
type Mode string

// Scrape modes. Test mode processes a single product end to end.
const (
	ModeFull Mode = "full"
	ModeTest Mode = "test"
)

// LogLevel classifies job log entries.
type LogLevel string

// Log entry levels.
const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one row of a job's append-only log ring.
type LogEntry struct {
	ID        string         `json:"id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// Job is the persisted record for one scrape request.
type Job struct {
	ID              string     `json:"id"`
	UserID          *string    `json:"userId,omitempty"`
	SourceURL       string     `json:"sourceUrl"`
	Mode            string     `json:"mode"`
	Status          JobStatus  `json:"status"`
	CancelRequested bool       `json:"cancelRequested"`
	TotalFound      int        `json:"totalFound"`
	Processed       int        `json:"processed"`
	Logs            []LogEntry `json:"logs"`
	CreatedAt       time.Time  `json:"createdAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// TurboSuffix is appended to the stored mode string when turbo is requested.
// Status responses strip it again so clients see the plain mode plus a flag.
const TurboSuffix = ":turbo"

// NormalizedMode splits the stored mode string into the plain mode and the
// turbo flag.
func (j Job) NormalizedMode() (string, bool) {
	if mode, ok := strings.CutSuffix(j.Mode, TurboSuffix); ok {
		return mode, true
	}
	return j.Mode, false
}

// RuntimeConfig carries optional per-job tuning overrides.
type RuntimeConfig struct {
	MaxRequestsPerSecond *float64 `json:"maxRequestsPerSecond,omitempty"`
	DetailConcurrency    *int     `json:"detailConcurrency,omitempty"`
	AllowDynamic         *bool    `json:"allowDynamicRendering,omitempty"`
	PreferDynamicCatalog *bool    `json:"preferDynamicCatalog,omitempty"`
}

// QueuePayload is the unit of queue transport between the API and workers.
type QueuePayload struct {
	JobID     string         `json:"jobId"`
	SourceURL string         `json:"sourceUrl"`
	Mode      Mode           `json:"mode"`
	Turbo     bool           `json:"turbo,omitempty"`
	UserID    *string        `json:"userId,omitempty"`
	Config    *RuntimeConfig `json:"config,omitempty"`
}

// Preview is a lightweight product summary extracted from a catalog page.
// It only lives in memory for the duration of a run; the normalized detail
// URL is its identity.
type Preview struct {
	Title string
	URL   string
	Price *float64
	Brand string
	SKU   string
	Raw   map[string]any
}

// Product is the extraction output handed to the persistence sink.
type Product struct {
	Title               string            `json:"title"`
	Brand               string            `json:"brand,omitempty"`
	Price               *float64          `json:"price,omitempty"`
	SKU                 string            `json:"sku,omitempty"`
	ShortDescription    string            `json:"shortDescription,omitempty"`
	LongDescriptionHTML string            `json:"longDescriptionHtml,omitempty"`
	Images              []string          `json:"images,omitempty"`
	Attributes          map[string]string `json:"attributes,omitempty"`
	Categories          []string          `json:"categories,omitempty"`
	DetailURL           string            `json:"detailUrl,omitempty"`
	Raw                 map[string]any    `json:"raw,omitempty"`
}

// Result is the per-job persistence row recorded for every processed product.
type Result struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	ProductID *string   `json:"productId,omitempty"`
	Title     string    `json:"title"`
	SKU       string    `json:"sku"`
	CreatedAt time.Time `json:"createdAt"`
}
