package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/config"
	"github.com/dermosul/catalog-scraper/internal/metrics"
	qmemory "github.com/dermosul/catalog-scraper/internal/queue/memory"
	"github.com/dermosul/catalog-scraper/internal/scraper"
	"github.com/dermosul/catalog-scraper/internal/sink"
	smemory "github.com/dermosul/catalog-scraper/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type testEnv struct {
	server *Server
	jobs   *smemory.JobStore
	queue  *qmemory.Queue
	sink   *sink.MemorySink
}

func newTestEnv(cfg config.Config) *testEnv {
	if len(cfg.Scraper.AllowedHosts) == 0 {
		cfg.Scraper.AllowedHosts = []string{"dermosul.com.br"}
	}
	jobs := smemory.NewJobStore()
	queue := qmemory.NewQueue(16)
	memSink := sink.NewMemorySink()
	return &testEnv{
		server: NewServer(jobs, queue, memSink, cfg, zap.NewNop()),
		jobs:   jobs,
		queue:  queue,
		sink:   memSink,
	}
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestServer_StartScrape_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodPost, "/scrape/start",
		`{"url":"https://www.dermosul.com.br/catalogo","mode":"test","turbo":true}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	jobID, ok := body["jobId"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)
	require.Equal(t, "queued", body["status"])
	require.Equal(t, "test:turbo", body["mode"])
	require.Equal(t, true, body["turbo"])

	payload, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobID, payload.JobID)
	require.Equal(t, scraper.ModeTest, payload.Mode)
	require.True(t, payload.Turbo)

	job, err := env.jobs.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusQueued, job.Status)
	require.Len(t, job.Logs, 2)
	require.Contains(t, job.Logs[0].Message, "job created")
	require.Contains(t, job.Logs[1].Message, "turbo")
}

func TestServer_StartScrape_DefaultsToFullMode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodPost, "/scrape/start", `{"url":"https://dermosul.com.br/"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "full", body["mode"])
	require.Equal(t, false, body["turbo"])
}

func TestServer_StartScrape_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodPost, "/scrape/start", "{invalid")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", decodeBody(t, rec)["error"])
}

func TestServer_StartScrape_RejectsBadMode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodPost, "/scrape/start",
		`{"url":"https://dermosul.com.br/","mode":"everything"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", decodeBody(t, rec)["error"])
}

func TestServer_StartScrape_RejectsRelativeURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodPost, "/scrape/start", `{"url":"/catalogo"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_failed", decodeBody(t, rec)["error"])
}

func TestServer_StartScrape_HostNotAllowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodPost, "/scrape/start", `{"url":"https://another-store.example/"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "url_not_allowed", decodeBody(t, rec)["error"])
	require.Equal(t, 0, env.queue.Size())
}

func TestServer_JobStatus_NormalizesTurboMode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{
		ID:        "job-1",
		SourceURL: "https://dermosul.com.br/catalogo",
		Mode:      "full" + scraper.TurboSuffix,
		Status:    scraper.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}))
	for _, title := range []string{"Sérum Facial", "Protetor Solar"} {
		_, err := env.sink.Persist(ctx, "job-1", scraper.Product{Title: title}, scraper.PersistOptions{})
		require.NoError(t, err)
	}

	rec := env.do(http.MethodGet, "/scrape/status/job-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.EqualValues(t, 2, body["processedResults"])
	job, ok := body["job"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "full", job["mode"])
	require.Equal(t, true, job["turbo"])
	require.Equal(t, "running", job["status"])
}

func TestServer_JobStatus_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodGet, "/scrape/status/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestServer_JobResults_ReturnsRows(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	ctx := context.Background()
	_, err := env.sink.Persist(ctx, "job-2", scraper.Product{Title: "Gel de Limpeza", SKU: "GEL-01"}, scraper.PersistOptions{})
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/scrape/result/job-2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "GEL-01")
}

func TestServer_CancelQueuedJob_RemovesFromQueue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{
		ID:        "job-3",
		SourceURL: "https://dermosul.com.br/catalogo",
		Mode:      "full",
		Status:    scraper.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, env.queue.Enqueue(ctx, scraper.QueuePayload{JobID: "job-3"}))

	rec := env.do(http.MethodPost, "/scrape/cancel/job-3", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["success"])
	require.Equal(t, 0, env.queue.Size())

	job, err := env.jobs.GetJob(ctx, "job-3")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCancelled, job.Status)
	require.True(t, job.CancelRequested)
	require.NotNil(t, job.FinishedAt)
}

func TestServer_CancelRunningJob_OnlySetsFlag(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{
		ID:        "job-4",
		SourceURL: "https://dermosul.com.br/catalogo",
		Mode:      "full",
		Status:    scraper.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}))

	rec := env.do(http.MethodPost, "/scrape/cancel/job-4", "")

	require.Equal(t, http.StatusOK, rec.Code)
	job, err := env.jobs.GetJob(ctx, "job-4")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, job.Status)
	require.True(t, job.CancelRequested)
}

func TestServer_CancelJob_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodPost, "/scrape/cancel/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestServer_ListJobs_ReturnsData(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{
		ID:        "job-5",
		SourceURL: "https://dermosul.com.br/catalogo",
		Mode:      "test" + scraper.TurboSuffix,
		Status:    scraper.JobStatusDone,
		CreatedAt: time.Now().UTC(),
	}))

	rec := env.do(http.MethodGet, "/scrape/jobs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	job := data[0].(map[string]any)
	require.Equal(t, "test", job["mode"])
	require.Equal(t, true, job["turbo"])
}

func TestServer_ClearFinishedJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{
		ID: "job-done", Status: scraper.JobStatusDone, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{
		ID: "job-live", Status: scraper.JobStatusRunning, CreatedAt: time.Now().UTC(),
	}))

	rec := env.do(http.MethodDelete, "/scrape/jobs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeBody(t, rec)["deleted"])
	_, err := env.jobs.GetJob(ctx, "job-done")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	_, err = env.jobs.GetJob(ctx, "job-live")
	require.NoError(t, err)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "sekret"},
	})

	rec := env.do(http.MethodGet, "/scrape/jobs", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/scrape/jobs", nil)
	req.Header.Set("X-API-Key", "sekret")
	authed := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(authed, req)
	require.Equal(t, http.StatusOK, authed.Code)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	rec := env.do(http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}
