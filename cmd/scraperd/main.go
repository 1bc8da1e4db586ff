// Package main wires together the catalog scraper service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dermosul/catalog-scraper/internal/api"
	"github.com/dermosul/catalog-scraper/internal/config"
	"github.com/dermosul/catalog-scraper/internal/logging"
	"github.com/dermosul/catalog-scraper/internal/metrics"
	rqueue "github.com/dermosul/catalog-scraper/internal/queue"
	qmemory "github.com/dermosul/catalog-scraper/internal/queue/memory"
	"github.com/dermosul/catalog-scraper/internal/scraper"
	"github.com/dermosul/catalog-scraper/internal/scraper/classify"
	"github.com/dermosul/catalog-scraper/internal/scraper/fetch"
	"github.com/dermosul/catalog-scraper/internal/scraper/robots"
	"github.com/dermosul/catalog-scraper/internal/scraper/runner"
	"github.com/dermosul/catalog-scraper/internal/sink"
	smemory "github.com/dermosul/catalog-scraper/internal/storage/memory"
	"github.com/dermosul/catalog-scraper/internal/storage/postgres"
	"github.com/dermosul/catalog-scraper/internal/worker"
)

const memoryQueueDepth = 256

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jobStore scraper.JobStore
	var productSink scraper.Sink
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewJobStore(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("connect job store", zap.Error(err))
		}
		defer pgStore.Close()
		pgSink, err := sink.NewPostgresSink(ctx, cfg.DB.DSN, logger.Named("sink"))
		if err != nil {
			logger.Fatal("connect sink", zap.Error(err))
		}
		defer pgSink.Close()
		jobStore = pgStore
		productSink = pgSink
		logger.Info("using postgres storage")
	} else {
		jobStore = smemory.NewJobStore()
		productSink = sink.NewMemorySink()
		logger.Warn("db.dsn not set, using in-memory storage")
	}

	var queue scraper.Queue
	if cfg.Redis.URL != "" {
		redisQueue, err := rqueue.NewRedisQueueFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis unavailable, using in-memory queue", zap.Error(err))
			queue = qmemory.NewQueue(memoryQueueDepth)
		} else {
			defer func() {
				if closeErr := redisQueue.Close(); closeErr != nil {
					logger.Warn("close redis queue", zap.Error(closeErr))
				}
			}()
			queue = redisQueue
			logger.Info("using redis queue")
		}
	} else {
		queue = qmemory.NewQueue(memoryQueueDepth)
		logger.Warn("redis.url not set, using in-memory queue")
	}

	gate := robots.NewGate(cfg.Scraper.UserAgent, logger.Named("robots"))
	fetcher := fetch.New(fetch.Config{
		UserAgent:            cfg.Scraper.UserAgent,
		MaxRequestsPerSecond: cfg.Scraper.MaxRequestsPerSecond,
		AllowDynamic:         cfg.Headless.Enabled,
		Timeout:              cfg.FetchTimeout(),
		Renderer: fetch.RendererConfig{
			UserAgent:  cfg.Scraper.UserAgent,
			NavTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			Settle:     time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
		},
	}, gate, logger.Named("fetch"))
	defer fetcher.Close()

	var classifier scraper.Classifier
	llm, err := classify.NewLLMClassifier(cfg.Classifier.Model, logger.Named("classify"))
	if err != nil {
		logger.Warn("llm classifier unavailable, using keyword heuristics", zap.Error(err))
		classifier = classify.NewHeuristicClassifier()
	} else {
		classifier = llm
	}

	run := runner.New(
		fetcher,
		classifier,
		cfg.Scraper.DetailBatchSize,
		cfg.Scraper.CategoryBatchSize,
		logger.Named("runner"),
	)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Scraper.WorkerConcurrency; i++ {
		w := worker.New(
			queue,
			jobStore,
			productSink,
			run,
			fetcher,
			&cfg,
			logger.Named("worker").With(zap.Int("index", i)),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	apiServer := api.NewServer(jobStore, queue, productSink, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	logger.Info("shutdown complete")
}
