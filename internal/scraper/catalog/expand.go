package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	// maxLoadMoreClicks caps how many times the expansion will press a
	// load-more control on a single listing page.
	maxLoadMoreClicks = 60
	// maxIdleAttempts stops expansion after this many consecutive rounds
	// without new content.
	maxIdleAttempts = 3
	settleAfterStep = 1200 * time.Millisecond
)

// consentScript clicks the first visible cookie-consent accept button, if
// any. Returns true when a click happened.
const consentScript = `(() => {
	const selectors = [
		'#onetrust-accept-btn-handler',
		'[data-testid="cookie-accept"]',
		'.cookie-consent button',
		'#lgpd-accept',
		'button[aria-label*="aceitar" i]',
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (el && el.offsetParent !== null) { el.click(); return true; }
	}
	for (const btn of document.querySelectorAll('button, a')) {
		const text = (btn.textContent || '').trim().toLowerCase();
		if ((text === 'aceitar' || text === 'aceitar todos' || text === 'accept' || text === 'ok, entendi')
			&& btn.offsetParent !== null) { btn.click(); return true; }
	}
	return false;
})()`

// loadMoreScript clicks the first visible load-more control. Returns true
// when a click happened.
const loadMoreScript = `(() => {
	const selectors = [
		'[data-testid="load-more"]',
		'button[data-load-more]',
		'.load-more',
		'.ver-mais',
		'.btn-ver-mais',
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (el && el.offsetParent !== null && !el.disabled) { el.click(); return true; }
	}
	const labels = ['ver mais', 'carregar mais', 'mostrar mais', 'load more', 'ver mais produtos'];
	for (const btn of document.querySelectorAll('button, a')) {
		const text = (btn.textContent || '').trim().toLowerCase();
		if (labels.includes(text) && btn.offsetParent !== null) { btn.click(); return true; }
	}
	return false;
})()`

const scrollScript = `(() => {
	window.scrollTo(0, document.body.scrollHeight);
	return document.body.scrollHeight;
})()`

// ExpandAction returns a chromedp action that exhausts a listing page's
// client-side loading: it accepts cookie banners, presses load-more buttons
// and falls back to scroll-driven infinite loading, probing document height
// for growth. Expansion stops after maxIdleAttempts rounds with no new
// content, after maxLoadMoreClicks presses, or when ctx is cancelled.
func ExpandAction(parent context.Context) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var clicked bool
		if err := chromedp.Evaluate(consentScript, &clicked).Do(ctx); err == nil && clicked {
			if err := chromedp.Sleep(settleAfterStep).Do(ctx); err != nil {
				return err
			}
		}

		clicks := 0
		idle := 0
		lastHeight := int64(-1)
		for idle < maxIdleAttempts {
			if err := parent.Err(); err != nil {
				return fmt.Errorf("catalog expansion interrupted: %w", err)
			}

			if clicks < maxLoadMoreClicks {
				var pressed bool
				if err := chromedp.Evaluate(loadMoreScript, &pressed).Do(ctx); err != nil {
					return fmt.Errorf("load-more probe: %w", err)
				}
				if pressed {
					clicks++
					idle = 0
					if err := chromedp.Sleep(settleAfterStep).Do(ctx); err != nil {
						return err
					}
					continue
				}
			}

			var height int64
			if err := chromedp.Evaluate(scrollScript, &height).Do(ctx); err != nil {
				return fmt.Errorf("scroll probe: %w", err)
			}
			if err := chromedp.Sleep(settleAfterStep).Do(ctx); err != nil {
				return err
			}
			var grown int64
			if err := chromedp.Evaluate(`document.body.scrollHeight`, &grown).Do(ctx); err != nil {
				return fmt.Errorf("height probe: %w", err)
			}
			if grown > height && grown != lastHeight {
				idle = 0
			} else {
				idle++
			}
			lastHeight = grown
		}
		return nil
	})
}
