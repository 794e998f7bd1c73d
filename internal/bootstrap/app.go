// Package bootstrap handles application initialization and lifecycle
// management for the citehub service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citehub/citehub/internal/api"
	"github.com/citehub/citehub/internal/config"
	"github.com/citehub/citehub/internal/crawler"
	"github.com/citehub/citehub/internal/fetch"
	"github.com/citehub/citehub/internal/logger"
	"github.com/citehub/citehub/internal/merge"
	"github.com/citehub/citehub/internal/metrics"
	"github.com/citehub/citehub/internal/sources"
	"github.com/citehub/citehub/internal/storage"
)

const (
	signalChannelBufferSize = 1
	// One slot per background loop: scheduler, merger, HTTP server.
	errorChannelBufferSize = 3
	shutdownTimeout        = 30 * time.Second
)

// Run initializes the service and runs it until a shutdown signal or a fatal
// error stops it.
func Run(cfg *config.Config) error {
	// Phase 1: Create logger
	log, err := logger.New(cfg.Logger.Level, cfg.App.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting citehub",
		logger.String("environment", cfg.App.Environment),
		logger.String("subject", cfg.Crawler.Subject),
		logger.Strings("sources", cfg.Crawler.Sources),
	)

	// Phase 2: Open record store
	store, err := storage.New(cfg.Storage.Root, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	// Phase 3: Set up crawl pipeline
	client := fetch.New(
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.Crawler.RequestTimeout}),
		fetch.WithRateLimit(cfg.Crawler.RateLimit, cfg.Crawler.RateBurst),
		fetch.WithUserAgent(cfg.Crawler.UserAgent),
	)

	stats := metrics.New()
	registry := crawler.NewRegistry()
	scheduler := crawler.NewScheduler(client, log)
	manager := crawler.NewManager(registry, scheduler, log)

	for _, ns := range cfg.Crawler.Sources {
		if err := addSource(ns, cfg, store, registry, scheduler, manager, stats, log); err != nil {
			return err
		}
	}

	// Phase 4: Set up merge engine
	opts := []merge.Option{
		merge.WithPeriod(cfg.Merger.Period),
		merge.WithThreshold(cfg.Merger.SimilarityThreshold),
		merge.WithMetrics(stats),
	}
	if schedule := cfg.MergeSchedule(); schedule != nil {
		opts = append(opts, merge.WithSchedule(schedule))
	}
	merger := merge.New(store, cfg.Crawler.Subject, manager.Namespaces(), log, opts...)

	// Phase 5: Set up HTTP server
	handler := api.NewHandler(store, manager, merger, stats, cfg.Crawler.Subject, log)
	router := api.NewRouter(handler, cfg.Server, log)
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Phase 6: Run until interrupted
	return runUntilInterrupt(server, scheduler, merger, log)
}

// addSource registers the namespace's adapter, restores its crawl task from
// storage, and hands both to the manager.
func addSource(
	ns string,
	cfg *config.Config,
	store *storage.Store,
	registry *crawler.Registry,
	scheduler *crawler.Scheduler,
	manager *crawler.Manager,
	stats *metrics.Metrics,
	log logger.Logger,
) error {
	src, err := sources.New(ns)
	if err != nil {
		return err
	}
	if err := registry.Register(src); err != nil {
		return fmt.Errorf("failed to register %s: %w", ns, err)
	}

	srcStore := store.Source(ns)
	if err := srcStore.Load(); err != nil {
		return fmt.Errorf("failed to load index for %s: %w", ns, err)
	}

	values, err := seedFields(src, srcStore, cfg.Sources[ns], log)
	if err != nil {
		return err
	}

	task, err := crawler.NewTask(src, srcStore, stats, log)
	if err != nil {
		return fmt.Errorf("failed to restore task for %s: %w", ns, err)
	}

	scheduler.Add(task)
	manager.Track(src, task, srcStore, values)

	log.Info("Source enabled",
		logger.String("source", ns),
		logger.Int("fields", len(values)),
	)
	return nil
}

// seedFields applies the source's configured field values. Config file seeds
// go on first, then anything persisted from earlier runs on top, so values
// set through the API survive restarts.
func seedFields(
	src crawler.Source,
	srcStore *storage.SourceStore,
	seeds map[string]string,
	log logger.Logger,
) (map[string]string, error) {
	stored, err := srcStore.LoadFields()
	if err != nil {
		return nil, fmt.Errorf("failed to load fields for %s: %w", src.Namespace(), err)
	}

	values := make(map[string]string, len(seeds)+len(stored))
	for key, val := range seeds {
		values[key] = val
	}
	for key, val := range stored {
		values[key] = val
	}

	for key, val := range values {
		if err := src.SetField(key, val); err != nil {
			log.Warn("Dropping unusable configured field",
				logger.String("source", src.Namespace()),
				logger.String("field", key),
				logger.Error(err),
			)
			delete(values, key)
		}
	}
	return values, nil
}

// runUntilInterrupt starts the background loops and the HTTP server, then
// blocks until a shutdown signal arrives or one of them fails.
func runUntilInterrupt(
	server *http.Server,
	scheduler *crawler.Scheduler,
	merger *merge.Merger,
	log logger.Logger,
) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, errorChannelBufferSize)

	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("scheduler error: %w", err)
		}
	}()

	go func() {
		if err := merger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("merger error: %w", err)
		}
	}()

	log.Info("Starting HTTP server", logger.String("address", server.Addr))
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-errChan:
		log.Error("Fatal error", logger.Error(err))
		runErr = err
	case sig := <-sigChan:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))
	}

	// Stop the crawl and merge loops first, then drain the server.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Info("Stopping HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to stop server", logger.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("failed to stop server: %w", err)
		}
	}

	log.Info("Server stopped")
	return runErr
}
