// Package worker implements the scrape job execution loop.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/config"
	"github.com/dermosul/catalog-scraper/internal/id"
	"github.com/dermosul/catalog-scraper/internal/metrics"
	"github.com/dermosul/catalog-scraper/internal/scraper"
	"github.com/dermosul/catalog-scraper/internal/scraper/runner"
)

// RateSetter adjusts the shared fetch rate, satisfied by *fetch.Fetcher.
type RateSetter interface {
	SetRate(rps float64)
}

// Worker consumes queued jobs and drives them through the runner.
type Worker struct {
	queue    scraper.Queue
	jobs     scraper.JobStore
	sink     scraper.Sink
	runner   *runner.Runner
	rate     RateSetter
	cfg      *config.Config
	logger   *zap.Logger
	pollEach time.Duration
}

// New constructs a Worker.
func New(queue scraper.Queue, jobs scraper.JobStore, sink scraper.Sink, r *runner.Runner, rate RateSetter, cfg *config.Config, logger *zap.Logger) *Worker {
	return &Worker{
		queue:    queue,
		jobs:     jobs,
		sink:     sink,
		runner:   r,
		rate:     rate,
		cfg:      cfg,
		logger:   logger,
		pollEach: cfg.CancelPollInterval(),
	}
}

// Run blocks, consuming queued jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		payload, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", payload.JobID))
		w.processJob(ctx, payload)
	}
}

func (w *Worker) processJob(ctx context.Context, payload scraper.QueuePayload) {
	jobID := payload.JobID

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	// A cancel may have landed while the job sat in the queue.
	if job.CancelRequested || job.Status.IsTerminal() {
		w.appendLog(ctx, jobID, scraper.LogInfo, "job cancelled before start", nil)
		w.finish(ctx, jobID, scraper.JobStatusCancelled)
		return
	}

	if err := w.jobs.SetStatus(ctx, jobID, scraper.JobStatusRunning); err != nil {
		w.logger.Error("set running failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	settings := w.resolveSettings(payload)
	w.appendLog(ctx, jobID, scraper.LogInfo, "job started", map[string]any{
		"mode":  string(payload.Mode),
		"turbo": payload.Turbo,
	})
	if payload.Turbo {
		w.appendLog(ctx, jobID, scraper.LogInfo, "turbo mode active", map[string]any{
			"rps":         settings.rps,
			"concurrency": settings.params.DetailConcurrency,
		})
	}
	w.rate.SetRate(settings.rps)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var cancelled atomic.Bool
	stopPolling := w.pollCancellation(runCtx, jobID, func() {
		cancelled.Store(true)
		cancelRun()
	})
	defer stopPolling()

	settings.params.SourceURL = payload.SourceURL
	stats, runErr := w.runner.Run(runCtx, settings.params, runner.Callbacks{
		OnLog: func(level scraper.LogLevel, message string, fields map[string]any) {
			w.appendLog(ctx, jobID, level, message, fields)
		},
		OnDiscoveredTotal: func(total int) {
			if err := w.jobs.SetTotals(ctx, jobID, total); err != nil {
				w.logger.Warn("set totals failed", zap.String("job_id", jobID), zap.Error(err))
			}
		},
		OnProgress: func(int) {
			if err := w.jobs.IncrementProcessed(ctx, jobID); err != nil {
				w.logger.Warn("increment processed failed", zap.String("job_id", jobID), zap.Error(err))
			}
		},
		OnProduct: func(ctx context.Context, product scraper.Product) error {
			_, err := w.sink.Persist(ctx, jobID, product, scraper.PersistOptions{
				CommitToCatalog:   payload.Mode != scraper.ModeTest,
				OverwriteExisting: true,
			})
			return err
		},
		ShouldAbort: cancelled.Load,
	})

	switch {
	case runErr == nil:
		w.appendLog(ctx, jobID, scraper.LogInfo, "job completed", map[string]any{
			"totalFound": stats.TotalFound,
			"processed":  stats.Processed,
		})
		w.finish(ctx, jobID, scraper.JobStatusDone)
	case errors.Is(runErr, scraper.ErrCancelled):
		w.appendLog(ctx, jobID, scraper.LogWarn, "job cancelled", map[string]any{"processed": stats.Processed})
		w.finish(ctx, jobID, scraper.JobStatusCancelled)
	default:
		w.appendLog(ctx, jobID, scraper.LogError, "job failed", map[string]any{"error": runErr.Error()})
		w.finish(ctx, jobID, scraper.JobStatusFailed)
	}
}

type jobSettings struct {
	params runner.Params
	rps    float64
}

// resolveSettings layers per-job overrides over turbo defaults over base
// configuration.
func (w *Worker) resolveSettings(payload scraper.QueuePayload) jobSettings {
	s := jobSettings{
		rps: w.cfg.Scraper.MaxRequestsPerSecond,
		params: runner.Params{
			DetailConcurrency:    w.cfg.Scraper.DetailConcurrency,
			DetailBatchSize:      w.cfg.Scraper.DetailBatchSize,
			CategoryBatchSize:    w.cfg.Scraper.CategoryBatchSize,
			MaxProducts:          w.cfg.Scraper.MaxProductsCap,
			PreferDynamicCatalog: w.cfg.Headless.PreferForCatalog,
		},
	}
	if payload.Turbo {
		s.rps = w.cfg.Turbo.MaxRequestsPerSecond
		s.params.DetailConcurrency = w.cfg.Turbo.DetailConcurrency
		s.params.PreferDynamicCatalog = w.cfg.Turbo.PreferDynamic
	}
	if payload.Mode == scraper.ModeTest {
		s.params.MaxProducts = 1
	}
	if cfg := payload.Config; cfg != nil {
		if cfg.MaxRequestsPerSecond != nil && *cfg.MaxRequestsPerSecond > 0 {
			s.rps = *cfg.MaxRequestsPerSecond
		}
		if cfg.DetailConcurrency != nil && *cfg.DetailConcurrency > 0 {
			s.params.DetailConcurrency = *cfg.DetailConcurrency
		}
		if cfg.PreferDynamicCatalog != nil {
			s.params.PreferDynamicCatalog = *cfg.PreferDynamicCatalog
		}
		s.params.AllowDynamic = cfg.AllowDynamic
	}
	return s
}

// pollCancellation watches the job's cancel flag on the configured interval
// and invokes onCancel once when it flips.
func (w *Worker) pollCancellation(ctx context.Context, jobID string, onCancel func()) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.pollEach)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				job, err := w.jobs.GetJob(ctx, jobID)
				if err != nil {
					w.logger.Warn("cancel poll failed", zap.String("job_id", jobID), zap.Error(err))
					continue
				}
				if job.CancelRequested {
					onCancel()
					return
				}
			}
		}
	}()
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(done)
		}
	}
}

func (w *Worker) finish(ctx context.Context, jobID string, status scraper.JobStatus) {
	if err := w.jobs.MarkFinished(ctx, jobID, status); err != nil {
		w.logger.Error("mark finished failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(status))
	w.logger.Info("job finished", zap.String("job_id", jobID), zap.String("status", string(status)))
}

func (w *Worker) appendLog(ctx context.Context, jobID string, level scraper.LogLevel, message string, fields map[string]any) {
	entry := scraper.LogEntry{
		ID:        id.NewShortID(10),
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Context:   fields,
	}
	if err := w.jobs.AppendLog(ctx, jobID, entry); err != nil {
		w.logger.Warn("append job log failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
