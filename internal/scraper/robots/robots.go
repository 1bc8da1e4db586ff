// Package robots enforces robots.txt directives per origin.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	cacheTTL    = time.Hour
	maxBodySize = 1 << 20
)

// Decision is the outcome of evaluating a URL against its origin's
// robots.txt.
type Decision struct {
	Allowed    bool
	CrawlDelay time.Duration
}

type cacheEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// Gate resolves and caches robots.txt rules per origin. Fetch or parse
// failures fail open. Safe for concurrent use.
type Gate struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewGate builds a Gate using the provided User-Agent for robots fetches.
func NewGate(userAgent string, logger *zap.Logger) *Gate {
	return &Gate{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// Evaluate reports whether the URL may be fetched and any crawl delay the
// origin requests. Only the wildcard user-agent group is honored.
func (g *Gate) Evaluate(ctx context.Context, rawURL string) (Decision, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Decision{}, fmt.Errorf("parse url: %w", err)
	}

	group := g.groupFor(ctx, parsed)
	if group == nil {
		return Decision{Allowed: true}, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return Decision{
		Allowed:    group.Test(path),
		CrawlDelay: group.CrawlDelay,
	}, nil
}

func (g *Gate) groupFor(ctx context.Context, parsed *url.URL) *robotstxt.Group {
	origin := strings.ToLower(parsed.Scheme + "://" + parsed.Host)

	g.mu.Lock()
	entry, ok := g.cache[origin]
	g.mu.Unlock()
	if ok && g.now().Sub(entry.fetchedAt) < cacheTTL {
		return entry.group
	}

	group := g.fetchGroup(ctx, parsed)
	g.mu.Lock()
	g.cache[origin] = cacheEntry{group: group, fetchedAt: g.now()}
	g.mu.Unlock()
	return group
}

// fetchGroup returns the wildcard group for the origin, or nil when robots
// could not be fetched or parsed (fail open).
func (g *Gate) fetchGroup(ctx context.Context, parsed *url.URL) *robotstxt.Group {
	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		g.logger.Warn("robots request build failed; allowing access", zap.String("origin", parsed.Host), zap.Error(err))
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access", zap.String("origin", parsed.Host), zap.Error(err))
		return nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		g.logger.Warn("robots read failed; allowing access", zap.String("origin", parsed.Host), zap.Error(err))
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		g.logger.Warn("robots parse failed; allowing access", zap.String("origin", parsed.Host), zap.Error(err))
		return nil
	}
	return data.FindGroup("*")
}
