package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	return NewGate("TestAgent/1.0", zap.NewNop())
}

func TestEvaluateDisallowedPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin\nAllow: /admin/public\n"))
	}))
	defer srv.Close()

	gate := newTestGate(t)
	ctx := context.Background()

	d, err := gate.Evaluate(ctx, srv.URL+"/admin/secret")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// The longer Allow rule wins over the shorter Disallow prefix.
	d, err = gate.Evaluate(ctx, srv.URL+"/admin/public/page")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = gate.Evaluate(ctx, srv.URL+"/products")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestEvaluateCrawlDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nCrawl-delay: 2\n"))
	}))
	defer srv.Close()

	gate := newTestGate(t)
	d, err := gate.Evaluate(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2*time.Second, d.CrawlDelay)
}

func TestEvaluateFailsOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gate := newTestGate(t)
	d, err := gate.Evaluate(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestEvaluateFailsOpenOnUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	gate := newTestGate(t)
	d, err := gate.Evaluate(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestEvaluateCachesPerOriginWithTTL(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	gate := newTestGate(t)
	now := time.Now()
	gate.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := gate.Evaluate(ctx, srv.URL+"/private/page")
		require.NoError(t, err)
	}
	require.Equal(t, 1, hits)

	now = now.Add(cacheTTL + time.Second)
	_, err := gate.Evaluate(ctx, srv.URL+"/private/page")
	require.NoError(t, err)
	require.Equal(t, 2, hits)
}
