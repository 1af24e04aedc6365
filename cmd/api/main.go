package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ist-insights-go/internal/cache"
	"ist-insights-go/internal/config"
	"ist-insights-go/internal/extractor"
	"ist-insights-go/internal/logger"
	"ist-insights-go/internal/metrics"
	"ist-insights-go/internal/pipeline"
	"ist-insights-go/internal/processor"
	"ist-insights-go/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}

	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	log.WithField("service", "ist-insights-go").Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("storage_mode", cfg.StorageMode).Info("opening ist event store")
	repo, err := store.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open ist event store")
	}
	defer repo.Close()

	m := metrics.NewManager()

	ext := extractor.New(extractor.Config{
		BaseURL:      cfg.ISTServiceURL,
		HTTPTimeout:  cfg.HTTPTimeout,
		MaxRetryTime: cfg.MaxRetryTime,
		Mock:         cfg.MockExtraction,
	}, log)
	proc := processor.New(ext, repo,
		processor.WithLogger(log),
		processor.WithMetrics(m),
		processor.WithHistoryLimit(cfg.HistoryLimit),
	)
	reports := pipeline.NewService(repo,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithCache(cache.New(cfg.CacheTTL, cfg.CacheSize)),
		pipeline.WithDefaults(cfg.ReportMaxSkills, cfg.ReportGapThreshold),
	)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newMux(&server{log: log, reports: reports, analyzer: proc, metrics: m}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.WithField("addr", cfg.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	log.Info("server stopped")
}
