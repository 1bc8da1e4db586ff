package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrRendererDisabled indicates dynamic rendering has been disabled via
// configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// stealthScript hides the usual headless automation markers before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
Object.defineProperty(navigator, 'languages', { get: () => ['pt-BR', 'pt', 'en-US', 'en'] });
Object.defineProperty(navigator, 'maxTouchPoints', { get: () => 5 });
`

// Renderer renders pages using a shared headless Chrome via chromedp. The
// browser process is launched lazily on first use and reused across calls;
// each render gets an isolated tab.
type Renderer struct {
	userAgent  string
	navTimeout time.Duration
	settle     time.Duration
	logger     *zap.Logger

	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	closed          bool
}

// RendererConfig controls Renderer behavior.
type RendererConfig struct {
	UserAgent  string
	NavTimeout time.Duration
	Settle     time.Duration
}

// NewRenderer constructs a Renderer. The Chrome process starts on the first
// Render call, not here.
func NewRenderer(cfg RendererConfig, logger *zap.Logger) *Renderer {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 2500 * time.Millisecond
	}
	return &Renderer{
		userAgent:  cfg.UserAgent,
		navTimeout: cfg.NavTimeout,
		settle:     cfg.Settle,
		logger:     logger,
	}
}

func (r *Renderer) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRendererDisabled
	}
	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(r.userAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.allocatorCancel = allocatorCancel
	r.logger.Info("headless browser started")
	return browserCtx, nil
}

// Render navigates to rawURL in a fresh tab, waits for the page to settle,
// runs the optional enrich action (used for catalog expansion), and returns
// the rendered HTML. Cancelling ctx closes the tab mid-flight.
func (r *Renderer) Render(ctx context.Context, rawURL string, enrich chromedp.Action) (string, error) {
	browserCtx, err := r.browser()
	if err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.navTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
			return nil
		}),
		emulation.SetUserAgentOverride(r.userAgent).
			WithAcceptLanguage("pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settle),
	}
	if enrich != nil {
		tasks = append(tasks, enrich)
	}
	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("render %s: %w", rawURL, ctx.Err())
		}
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.browserCancel != nil {
		r.browserCancel()
		r.allocatorCancel()
		r.browserCtx = nil
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
