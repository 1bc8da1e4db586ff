// Package runner orchestrates a scrape end to end: catalog discovery,
// concurrent detail extraction, batched classification and emission to the
// persistence sink.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dermosul/catalog-scraper/internal/metrics"
	"github.com/dermosul/catalog-scraper/internal/scraper"
	"github.com/dermosul/catalog-scraper/internal/scraper/catalog"
	"github.com/dermosul/catalog-scraper/internal/scraper/classify"
	"github.com/dermosul/catalog-scraper/internal/scraper/detail"
	"github.com/dermosul/catalog-scraper/internal/scraper/fetch"
)

// PageFetcher retrieves page HTML. Satisfied by *fetch.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (string, error)
}

// Params configure one scrape run. Zero values fall back to the runner's
// defaults.
type Params struct {
	SourceURL            string
	MaxProducts          int
	DetailConcurrency    int
	DetailBatchSize      int
	CategoryBatchSize    int
	PreferDynamicCatalog bool
	AllowDynamic         *bool
}

// Callbacks let the worker observe and steer a run. Nil members are
// ignored; ShouldAbort defaults to never aborting.
type Callbacks struct {
	OnLog             func(level scraper.LogLevel, message string, fields map[string]any)
	OnDiscoveredTotal func(total int)
	OnProgress        func(processed int)
	OnProduct         func(ctx context.Context, product scraper.Product) error
	ShouldAbort       func() bool
}

func (cb Callbacks) log(level scraper.LogLevel, message string, fields map[string]any) {
	if cb.OnLog != nil {
		cb.OnLog(level, message, fields)
	}
}

func (cb Callbacks) abort() bool {
	return cb.ShouldAbort != nil && cb.ShouldAbort()
}

// Stats summarize a finished run.
type Stats struct {
	TotalFound int
	Processed  int
}

// Runner drives scrape jobs. Safe for concurrent Run calls; all per-run
// state lives on the stack.
type Runner struct {
	fetcher    PageFetcher
	classifier scraper.Classifier
	logger     *zap.Logger

	defaultBatchSize    int
	defaultCatBatchSize int
}

// New builds a Runner.
func New(fetcher PageFetcher, classifier scraper.Classifier, detailBatchSize, categoryBatchSize int, logger *zap.Logger) *Runner {
	if detailBatchSize <= 0 {
		detailBatchSize = 60
	}
	if categoryBatchSize <= 0 {
		categoryBatchSize = classify.DefaultBatchSize
	}
	return &Runner{
		fetcher:             fetcher,
		classifier:          classifier,
		logger:              logger,
		defaultBatchSize:    detailBatchSize,
		defaultCatBatchSize: categoryBatchSize,
	}
}

// Run executes a scrape. Catalog discovery feeds a bounded queue that a
// fixed-width detail pool drains while discovery continues; classified
// products are emitted in discovery order. It returns the stats of what
// completed together with the first fatal error; scraper.ErrCancelled
// reports cooperative cancellation. Individual product failures are logged
// and skipped, never fatal.
func (r *Runner) Run(ctx context.Context, params Params, cb Callbacks) (Stats, error) {
	queueDepth := params.DetailBatchSize
	if queueDepth <= 0 {
		queueDepth = r.defaultBatchSize
	}
	catBatch := params.CategoryBatchSize
	if catBatch <= 0 {
		catBatch = r.defaultCatBatchSize
	}
	concurrency := params.DetailConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	stats := Stats{}
	batcher := classify.NewBatcher(r.classifier, catBatch, func(ctx context.Context, product scraper.Product) error {
		if cb.OnProduct != nil {
			if err := cb.OnProduct(ctx, product); err != nil {
				if errors.Is(err, scraper.ErrCancelled) || errors.Is(err, context.Canceled) {
					return err
				}
				// A single bad record must not sink the run.
				cb.log(scraper.LogError, "product persist failed, skipping record", map[string]any{"title": product.Title, "error": err.Error()})
				metrics.ObserveProduct("failed")
				return nil
			}
		}
		stats.Processed++
		metrics.ObserveProduct("persisted")
		if cb.OnProgress != nil {
			cb.OnProgress(stats.Processed)
		}
		return nil
	}, r.logger.Named("batcher"))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(concurrency)

	// Slots hand finished details to the consumer in discovery order while
	// the pool fills them out of order. The buffer bounds how far discovery
	// may run ahead of persistence.
	type slot struct {
		product scraper.Product
		ok      bool
		done    chan struct{}
	}
	slots := make(chan *slot, queueDepth)

	submit := func(preview scraper.Preview) error {
		s := &slot{done: make(chan struct{})}
		select {
		case slots <- s:
		case <-gctx.Done():
			return fmt.Errorf("%w: %w", scraper.ErrCancelled, gctx.Err())
		}
		g.Go(func() error {
			defer close(s.done)
			if err := r.checkAbort(gctx, cb); err != nil {
				return err
			}
			html, err := r.fetcher.Fetch(gctx, preview.URL, fetch.Options{AllowDynamic: params.AllowDynamic})
			if err != nil {
				if errors.Is(err, scraper.ErrCancelled) {
					return err
				}
				// Failed details are never persisted from preview data alone.
				cb.log(scraper.LogError, "detail fetch failed, skipping product", map[string]any{"url": preview.URL, "error": err.Error()})
				metrics.ObserveProduct("skipped")
				return nil
			}
			metrics.ObservePage("detail")
			s.product = detail.Extract(html, preview)
			s.ok = true
			return nil
		})
		return nil
	}

	discoverErr := make(chan error, 1)
	go func() {
		defer close(slots)
		discoverErr <- r.discover(gctx, params, cb, &stats, submit)
	}()

	var consumeErr error
	for s := range slots {
		<-s.done
		if consumeErr != nil {
			continue // keep draining so discovery and the pool can wind down
		}
		if err := r.checkAbort(ctx, cb); err != nil {
			consumeErr = err
			cancelRun()
			continue
		}
		if !s.ok {
			continue
		}
		if err := batcher.Add(ctx, s.product); err != nil {
			consumeErr = err
			cancelRun()
		}
	}
	discErr := <-discoverErr
	poolErr := g.Wait()

	switch {
	case consumeErr != nil:
		return stats, consumeErr
	case discErr != nil:
		return stats, discErr
	case poolErr != nil:
		return stats, poolErr
	}
	if err := batcher.Finalize(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// discover walks catalog pagination sequentially, submitting every new
// preview to the detail pool. A failed seed page is fatal; later pages
// failing stop discovery without discarding what was found.
func (r *Runner) discover(ctx context.Context, params Params, cb Callbacks, stats *Stats, submit func(scraper.Preview) error) error {
	deduper := catalog.NewDeduper()
	visited := make(map[string]bool)
	pageURL := params.SourceURL
	capped := false

	for pageURL != "" && !capped {
		if err := r.checkAbort(ctx, cb); err != nil {
			return err
		}
		if visited[pageURL] {
			cb.log(scraper.LogWarn, "pagination loop detected, stopping discovery", map[string]any{"url": pageURL})
			break
		}
		visited[pageURL] = true

		html, err := r.fetchCatalogPage(ctx, pageURL, params)
		if err != nil {
			if errors.Is(err, scraper.ErrCancelled) {
				return err
			}
			if stats.TotalFound == 0 {
				return fmt.Errorf("fetch catalog page %s: %w", pageURL, err)
			}
			cb.log(scraper.LogWarn, "catalog page fetch failed, stopping discovery", map[string]any{"url": pageURL, "error": err.Error()})
			break
		}
		metrics.ObservePage("catalog")

		doc, err := catalog.ParseDocument(html)
		if err != nil {
			return fmt.Errorf("parse catalog page %s: %w", pageURL, err)
		}

		previews := deduper.Admit(catalog.ExtractPreviews(doc, pageURL))
		if params.MaxProducts > 0 {
			remaining := params.MaxProducts - stats.TotalFound
			if len(previews) >= remaining {
				previews = previews[:remaining]
				capped = true
			}
		}
		stats.TotalFound += len(previews)
		if cb.OnDiscoveredTotal != nil {
			cb.OnDiscoveredTotal(stats.TotalFound)
		}
		cb.log(scraper.LogInfo, "catalog page discovered", map[string]any{"url": pageURL, "new": len(previews), "total": stats.TotalFound})

		for _, preview := range previews {
			if err := submit(preview); err != nil {
				return err
			}
		}

		pageURL = catalog.NextPageURL(doc, pageURL)
	}
	return nil
}

func (r *Runner) fetchCatalogPage(ctx context.Context, pageURL string, params Params) (string, error) {
	var enrich chromedp.Action
	if params.PreferDynamicCatalog {
		enrich = catalog.ExpandAction(ctx)
	}
	return r.fetcher.Fetch(ctx, pageURL, fetch.Options{
		PreferDynamic: params.PreferDynamicCatalog,
		AllowDynamic:  params.AllowDynamic,
		EnrichPage:    enrich,
	})
}

func (r *Runner) checkAbort(ctx context.Context, cb Callbacks) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", scraper.ErrCancelled, err)
	}
	if cb.abort() {
		return scraper.ErrCancelled
	}
	return nil
}
