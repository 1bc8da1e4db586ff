// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/config"
	"github.com/dermosul/catalog-scraper/internal/id"
	"github.com/dermosul/catalog-scraper/internal/metrics"
	"github.com/dermosul/catalog-scraper/internal/scraper"
)

const (
	listJobsLimit  = 50
	enqueueTimeout = 5 * time.Second
)

// Server wires HTTP handlers to the job store, queue, and sink.
type Server struct {
	router chi.Router
	jobs   scraper.JobStore
	queue  scraper.Queue
	sink   scraper.Sink
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs scraper.JobStore,
	queue scraper.Queue,
	sink scraper.Sink,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		jobs:   jobs,
		queue:  queue,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metricsMiddleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/scrape", func(r chi.Router) {
		r.Post("/start", s.startScrape)
		r.Get("/jobs", s.listJobs)
		r.Delete("/jobs", s.clearFinishedJobs)
		r.Get("/status/{jobID}", s.jobStatus)
		r.Get("/result/{jobID}", s.jobResults)
		r.Post("/cancel/{jobID}", s.cancelJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A cheap store round-trip proves the backing services answer.
	if _, err := s.jobs.ListJobs(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRequest struct {
	URL    string                 `json:"url"`
	Mode   string                 `json:"mode"`
	Turbo  bool                   `json:"turbo"`
	UserID *string                `json:"userId"`
	Config *scraper.RuntimeConfig `json:"config"`
}

func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body")
		return
	}
	if req.Mode == "" {
		req.Mode = string(scraper.ModeFull)
	}
	if err := validateStart(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if !s.cfg.HostAllowed(req.URL) {
		writeError(w, http.StatusBadRequest, "url_not_allowed",
			"the URL host is not on the scraping allow-list")
		return
	}

	jobID, err := id.NewJobID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "could not create job")
		return
	}
	storedMode := req.Mode
	if req.Turbo {
		storedMode += scraper.TurboSuffix
	}
	now := time.Now().UTC()
	job := scraper.Job{
		ID:        jobID,
		UserID:    req.UserID,
		SourceURL: req.URL,
		Mode:      storedMode,
		Status:    scraper.JobStatusQueued,
		Logs: []scraper.LogEntry{{
			ID:        id.NewShortID(10),
			Level:     scraper.LogInfo,
			Message:   fmt.Sprintf("job created for %s", req.URL),
			Timestamp: now,
		}},
		CreatedAt: now,
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not create job")
		return
	}
	if req.Turbo {
		s.appendLog(r.Context(), jobID, scraper.LogInfo,
			"turbo mode requested: aggressive request rate and parallel detail fetches",
			map[string]any{"turbo": true})
	}

	payload := scraper.QueuePayload{
		JobID:     jobID,
		SourceURL: req.URL,
		Mode:      scraper.Mode(req.Mode),
		Turbo:     req.Turbo,
		UserID:    req.UserID,
		Config:    req.Config,
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, payload); err != nil {
		s.logger.Error("enqueue failed", zap.String("job_id", jobID), zap.Error(err))
		s.markEnqueueFailure(r.Context(), jobID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not enqueue job")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"jobId":  jobID,
		"status": job.Status,
		"mode":   storedMode,
		"turbo":  req.Turbo,
	})
}

func validateStart(req startRequest) error {
	if req.URL == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("url must be absolute with an http or https scheme")
	}
	switch scraper.Mode(req.Mode) {
	case scraper.ModeFull, scraper.ModeTest:
		return nil
	default:
		return fmt.Errorf("mode must be %q or %q", scraper.ModeFull, scraper.ModeTest)
	}
}

// markEnqueueFailure finalizes a job whose payload never reached the queue so
// it does not sit in queued forever.
func (s *Server) markEnqueueFailure(ctx context.Context, jobID string, cause error) {
	s.appendLog(ctx, jobID, scraper.LogError, "failed to enqueue job",
		map[string]any{"error": cause.Error()})
	if err := s.jobs.MarkFinished(ctx, jobID, scraper.JobStatusFailed); err != nil {
		s.logger.Error("finalize unenqueued job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context(), listJobsLimit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not list jobs")
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

func (s *Server) clearFinishedJobs(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.jobs.DeleteFinished(r.Context())
	if err != nil {
		s.logger.Error("clear finished jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not clear job history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not load job status")
		return
	}
	processed, err := s.sink.CountResults(r.Context(), jobID)
	if err != nil {
		s.logger.Error("count results failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not load job status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":              newJobView(job),
		"processedResults": processed,
	})
}

func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	results, err := s.sink.ListResults(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list results failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not load job results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not cancel job")
		return
	}

	if err := s.jobs.SetCancelRequested(r.Context(), jobID, true); err != nil {
		s.logger.Error("set cancel flag failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "could not cancel job")
		return
	}
	s.appendLog(r.Context(), jobID, scraper.LogWarn, "cancellation requested", nil)

	// A still-queued job never reaches a worker, so finalize it here once its
	// payload is off the queue.
	if job.Status == scraper.JobStatusQueued {
		removed, err := s.queue.Remove(r.Context(), jobID)
		if err != nil {
			s.logger.Warn("queue removal failed", zap.String("job_id", jobID), zap.Error(err))
		}
		if removed {
			if err := s.jobs.MarkFinished(r.Context(), jobID, scraper.JobStatusCancelled); err != nil {
				s.logger.Error("finalize cancelled job failed", zap.String("job_id", jobID), zap.Error(err))
			} else {
				metrics.ObserveJob(string(scraper.JobStatusCancelled))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) appendLog(ctx context.Context, jobID string, level scraper.LogLevel, message string, fields map[string]any) {
	entry := scraper.LogEntry{
		ID:        id.NewShortID(10),
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Context:   fields,
	}
	if err := s.jobs.AppendLog(ctx, jobID, entry); err != nil {
		s.logger.Warn("append job log failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// jobView is the client-facing job shape. The turbo marker is stripped from
// the stored mode string and surfaced as a flag.
type jobView struct {
	ID              string             `json:"id"`
	UserID          *string            `json:"userId,omitempty"`
	SourceURL       string             `json:"sourceUrl"`
	Mode            string             `json:"mode"`
	Turbo           bool               `json:"turbo"`
	Status          scraper.JobStatus  `json:"status"`
	CancelRequested bool               `json:"cancelRequested"`
	TotalFound      int                `json:"totalFound"`
	Processed       int                `json:"processed"`
	Logs            []scraper.LogEntry `json:"logs"`
	CreatedAt       time.Time          `json:"createdAt"`
	FinishedAt      *time.Time         `json:"finishedAt,omitempty"`
}

func newJobView(job scraper.Job) jobView {
	mode, turbo := job.NormalizedMode()
	logs := job.Logs
	if logs == nil {
		logs = []scraper.LogEntry{}
	}
	return jobView{
		ID:              job.ID,
		UserID:          job.UserID,
		SourceURL:       job.SourceURL,
		Mode:            mode,
		Turbo:           turbo,
		Status:          job.Status,
		CancelRequested: job.CancelRequested,
		TotalFound:      job.TotalFound,
		Processed:       job.Processed,
		Logs:            logs,
		CreatedAt:       job.CreatedAt,
		FinishedAt:      job.FinishedAt,
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
