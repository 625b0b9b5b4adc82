// docpipe-service is the HTTP API server for the document pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"docpipe/internal/api"
	"docpipe/internal/config"
	"docpipe/internal/depgate"
	"docpipe/internal/dispatcher"
	"docpipe/internal/engine"
	"docpipe/internal/feed"
	"docpipe/internal/health"
	"docpipe/internal/history"
	"docpipe/internal/observability"
	"docpipe/internal/pipeline"
	"docpipe/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	engineCfg := engine.LoadConfigFromEnv()
	if err := engineCfg.Validate(); err != nil {
		return err
	}
	workerCfg := worker.LoadConfigFromEnv()
	gateCfg := depgate.LoadConfigFromEnv()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()
	pipelineCfg := pipeline.LoadConfigFromEnv(svcCfg.DataDir, svcCfg.PublicBaseURL)

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Engines
	launchers, err := engine.NewLaunchers(engineCfg)
	if err != nil {
		return err
	}
	engines := engine.NewRegistry(engineCfg, engine.NewHTTPProber(engineCfg.ProbeTimeout), launchers, metrics)

	gate := depgate.New(gateCfg, depgate.DefaultCapabilities())
	runner := worker.NewRunner(workerCfg)

	// Job history
	var store history.Store
	var historyCheck health.CheckFunc
	if svcCfg.DatabaseURL != "" {
		pg, err := history.NewPostgresStore(ctx, svcCfg.DatabaseURL, svcCfg.HistoryLimit)
		if err != nil {
			return err
		}
		store, historyCheck = pg, pg.Ping
		slog.Info("Job history stored in PostgreSQL")
	} else {
		store = history.NewMemoryStore(svcCfg.HistoryLimit)
		slog.Info("Job history kept in memory", "limit", svcCfg.HistoryLimit)
	}
	defer store.Close()

	// Webhooks and live feed
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)
	hub := feed.NewHub(64)
	defer hub.Close()

	executor, err := pipeline.NewExecutor(pipelineCfg, pipeline.Deps{
		Engines:   engines,
		Gate:      gate,
		Runner:    runner,
		History:   store,
		Notifier:  dispatcher.NewNotifier(eventDispatcher, pipelineCfg.EventSource),
		Publisher: hub,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	spoolDir := filepath.Join(svcCfg.DataDir, "spool")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool dir: %w", err)
	}

	// Create health checker
	checks := []health.Check{
		{Name: "worker", Critical: true, Fn: health.BinaryCheck(runner.Binary())},
		{Name: "data_dir", Critical: true, Fn: health.WritableDirCheck(svcCfg.DataDir)},
		{Name: depgate.Rasterizer, Fn: func(context.Context) error {
			if dep := gate.Check(depgate.Rasterizer); !dep.Installed {
				return fmt.Errorf("not installed, run: %s", dep.InstallCommand)
			}
			return nil
		}},
	}
	if historyCheck != nil {
		checks = append(checks, health.Check{Name: "history", Fn: historyCheck})
	}
	if dockerCheck := engine.DaemonCheck(launchers); dockerCheck != nil {
		checks = append(checks, health.Check{Name: "docker", Fn: dockerCheck})
	}
	healthChecker := health.NewChecker(checks...)

	// Create API router
	handler := api.NewHandler(api.HandlerConfig{
		Jobs:           executor,
		Dependencies:   gate,
		Engines:        engines,
		History:        store,
		HealthChecker:  healthChecker,
		SpoolDir:       spoolDir,
		MaxUploadBytes: svcCfg.MaxUploadBytes,
	})
	router := api.NewRouter(api.RouterConfig{
		Handler: handler,
		Feed:    hub,
		Metrics: metrics,
		APIKey:  svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Progress streams stay open for the whole job, so there is no write timeout.
	apiServer := &http.Server{
		Addr:              ":" + svcCfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port, "dataDir", svcCfg.DataDir)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		engines.ShutdownAll(context.Background())
		_ = engine.CloseLaunchers(launchers)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Let running jobs finish; cancel what is left after the timeout.
	// Cancelled jobs still emit their terminal record, which ends their streams.
	slog.Info("Waiting for running jobs", "active", executor.ActiveCount())
	jobsCtx, jobsCancel := context.WithTimeout(context.Background(), 25*time.Second)
	if err := executor.Close(jobsCtx); err != nil {
		slog.Warn("Running jobs were cancelled", "error", err)
	}
	jobsCancel()

	// Phase 3: Close servers now that every stream has ended
	slog.Info("Starting graceful shutdown")
	shutdown(10 * time.Second)

	// Phase 4: Stop engines and drain callbacks
	enginesCtx, enginesCancel := context.WithTimeout(context.Background(), 30*time.Second)
	engines.ShutdownAll(enginesCtx)
	enginesCancel()
	if err := engine.CloseLaunchers(launchers); err != nil {
		slog.Warn("Failed to close engine launchers", "error", err)
	}

	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	slog.Info("Shutdown complete")
	return nil
}
