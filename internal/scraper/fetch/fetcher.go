// Package fetch implements the rate-limited page fetcher with static HTTP
// and headless-browser strategies.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dermosul/catalog-scraper/internal/metrics"
	"github.com/dermosul/catalog-scraper/internal/scraper"
	"github.com/dermosul/catalog-scraper/internal/scraper/robots"
)

const acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
const acceptLanguage = "pt-BR,pt;q=0.9"

// Options tune a single fetch.
type Options struct {
	// PreferDynamic renders with the headless browser first, falling back to
	// a static GET on failure. Otherwise the static path runs first.
	PreferDynamic bool
	// AllowDynamic permits the headless fallback. Nil means the fetcher's
	// configured default.
	AllowDynamic *bool
	// EnrichPage runs inside the rendered page before HTML capture; the
	// catalog discoverer uses it to trigger load-more expansion.
	EnrichPage chromedp.Action
	// Timeout overrides the fetcher's default request budget.
	Timeout time.Duration
}

// Fetcher retrieves page HTML while honoring robots.txt and a global rate
// token. All waits and requests observe the caller's context; a cancelled
// fetch surfaces scraper.ErrCancelled.
type Fetcher struct {
	gate         *robots.Gate
	renderer     *Renderer
	client       *http.Client
	limiter      *rate.Limiter
	userAgent    string
	allowDynamic bool
	timeout      time.Duration
	logger       *zap.Logger

	mu         sync.Mutex
	crawlDelay time.Duration
	lastFetch  time.Time
}

// Config controls Fetcher behavior.
type Config struct {
	UserAgent            string
	MaxRequestsPerSecond float64
	AllowDynamic         bool
	Timeout              time.Duration
	Renderer             RendererConfig
}

// New builds a Fetcher.
func New(cfg Config, gate *robots.Gate, logger *zap.Logger) *Fetcher {
	rps := cfg.MaxRequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if cfg.Renderer.UserAgent == "" {
		cfg.Renderer.UserAgent = cfg.UserAgent
	}
	return &Fetcher{
		gate:         gate,
		renderer:     NewRenderer(cfg.Renderer, logger.Named("renderer")),
		client:       &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		userAgent:    cfg.UserAgent,
		allowDynamic: cfg.AllowDynamic,
		timeout:      timeout,
		logger:       logger,
	}
}

// Fetch returns the HTML for url, choosing between the static and dynamic
// strategies per opts. Robots.txt is evaluated before any page I/O.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", scraper.ErrCancelled, err)
	}

	decision, err := f.gate.Evaluate(ctx, url)
	if err != nil {
		return "", fmt.Errorf("evaluate robots: %w", err)
	}
	if !decision.Allowed {
		return "", fmt.Errorf("%w: %s", scraper.ErrRobotsDisallowed, url)
	}
	f.observeCrawlDelay(decision.CrawlDelay)

	if err := f.waitTurn(ctx); err != nil {
		return "", err
	}

	allowDynamic := f.allowDynamic
	if opts.AllowDynamic != nil {
		allowDynamic = *opts.AllowDynamic
	}

	if opts.PreferDynamic && allowDynamic {
		html, dynErr := f.fetchDynamic(ctx, url, opts.EnrichPage)
		if dynErr == nil {
			return html, nil
		}
		if isCancelled(ctx, dynErr) {
			return "", fmt.Errorf("%w: %w", scraper.ErrCancelled, dynErr)
		}
		f.logger.Warn("dynamic fetch failed, falling back to static", zap.String("url", url), zap.Error(dynErr))
		return f.fetchStatic(ctx, url, opts.Timeout)
	}

	html, statErr := f.fetchStatic(ctx, url, opts.Timeout)
	if statErr == nil {
		return html, nil
	}
	if isCancelled(ctx, statErr) || !allowDynamic {
		return "", statErr
	}
	f.logger.Warn("static fetch failed, falling back to dynamic", zap.String("url", url), zap.Error(statErr))
	rendered, dynErr := f.fetchDynamic(ctx, url, opts.EnrichPage)
	if dynErr != nil {
		if isCancelled(ctx, dynErr) {
			return "", fmt.Errorf("%w: %w", scraper.ErrCancelled, dynErr)
		}
		return "", fmt.Errorf("static fetch failed (%v); dynamic fallback: %w", statErr, dynErr)
	}
	return rendered, nil
}

// SetRate adjusts the global request rate. The limiter is shared by every
// job on this fetcher, so a turbo job raises the rate for all of them.
func (f *Fetcher) SetRate(rps float64) {
	if rps <= 0 {
		return
	}
	f.limiter.SetLimit(rate.Limit(rps))
}

// Close shuts down the shared browser.
func (f *Fetcher) Close() {
	f.renderer.Close()
}

func (f *Fetcher) observeCrawlDelay(delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if delay > f.crawlDelay {
		f.crawlDelay = delay
	}
}

// waitTurn blocks until the global token allows another request. The gap
// since the previous request must also satisfy the largest crawl delay any
// origin has announced; the token is global rather than per-origin.
func (f *Fetcher) waitTurn(ctx context.Context) error {
	waitStart := time.Now()
	defer func() { metrics.ObserveRateLimitDelay(time.Since(waitStart)) }()

	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %w", scraper.ErrCancelled, err)
	}

	f.mu.Lock()
	delay := f.crawlDelay
	elapsed := time.Since(f.lastFetch)
	f.mu.Unlock()

	if delay > 0 && elapsed < delay {
		timer := time.NewTimer(delay - elapsed)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: crawl delay wait: %w", scraper.ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	f.mu.Lock()
	f.lastFetch = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *Fetcher) fetchStatic(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = f.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", scraper.ErrCancelled, ctx.Err())
		}
		return "", fmt.Errorf("get %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("get %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", scraper.ErrCancelled, ctx.Err())
		}
		return "", fmt.Errorf("read body: %w", err)
	}
	return decodeBody(body, resp.Header.Get("Content-Type")), nil
}

func (f *Fetcher) fetchDynamic(ctx context.Context, url string, enrich chromedp.Action) (string, error) {
	return f.renderer.Render(ctx, url, enrich)
}

func isCancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, scraper.ErrCancelled)
}
