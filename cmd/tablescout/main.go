// tablescout server accepts restaurant searches over HTTP, runs the
// staged model pipeline, and streams progress to clients over sockets.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/joho/godotenv"

	"github.com/tablescout/tablescout/pkg/api"
	"github.com/tablescout/tablescout/pkg/config"
	"github.com/tablescout/tablescout/pkg/dispatch"
	"github.com/tablescout/tablescout/pkg/llm"
	"github.com/tablescout/tablescout/pkg/logging"
	"github.com/tablescout/tablescout/pkg/pipeline"
	"github.com/tablescout/tablescout/pkg/places"
	"github.com/tablescout/tablescout/pkg/push"
	"github.com/tablescout/tablescout/pkg/store"
	"github.com/tablescout/tablescout/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment")
	}

	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting tablescout",
		"version", version.Full(),
		"env", cfg.Env,
		"http_port", cfg.HTTPPort)

	ctx := context.Background()

	// Store connection. Production fails closed; development continues
	// degraded and /ready reports not-ready until the store comes back.
	rdb, err := store.Connect(cfg.Redis)
	if err != nil {
		slog.Error("Failed to create store client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	if err := store.Ping(ctx, rdb, cfg.Redis.StartupPingTimeout); err != nil {
		if cfg.Redis.FailClosed {
			slog.Error("Store unreachable at startup", "error", err)
			os.Exit(1)
		}
		slog.Warn("Store unreachable at startup, continuing degraded", "error", err)
	} else {
		slog.Info("Connected to store")
	}

	jobs := store.NewJobStore(rdb, cfg.Redis.JobTTL)
	tickets := store.NewTicketStore(rdb, cfg.Redis.TicketTTL)

	// Model and place providers.
	modelProvider, err := llm.NewAnthropicProvider(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize model provider", "error", err)
		os.Exit(1)
	}
	modelClient := llm.NewClient(modelProvider, cfg.LLM)

	placesProvider, err := places.NewGoogleProvider(cfg.Places)
	if err != nil {
		slog.Error("Failed to initialize places provider", "error", err)
		os.Exit(1)
	}
	placesClient := places.NewClient(placesProvider, cfg.Places)
	slog.Info("Providers initialized")

	// Push layer: registry holds subscriptions and backlogs, publisher
	// coalesces progress, manager owns socket connections.
	registry := push.NewRegistry(slog.Default(), cfg.Push.BacklogCapacity)
	publisher := push.NewPublisher(slog.Default(), registry, cfg.Push.CoalesceInterval)

	// Pipeline and dispatch. The pipeline also composes the socket-side
	// refine nudge, so the manager takes it as its composer.
	pipe := pipeline.New(slog.Default(), cfg, modelClient, placesClient, jobs, publisher)
	pushManager := push.NewManager(slog.Default(), registry, publisher, jobs, pipe, cfg.Push.WriteTimeout)
	dispatcher := dispatch.New(slog.Default(), cfg, jobs, pipe, registry)

	sweeper := dispatch.NewSweeper(slog.Default(), cfg, jobs)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// HTTP surface.
	e := echo.New()
	server := api.NewServer(slog.Default(), cfg, rdb, jobs, tickets, dispatcher, pushManager)
	server.Routes(e)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("tablescout started",
		"max_concurrent_searches", cfg.Dispatch.MaxConcurrentSearches)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting HTTP first so no new jobs arrive during the drain.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Drain in-flight pipelines, bounded by the configured grace period,
	// then close sockets with a normal closure.
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.Dispatch.GracefulShutdown+5*time.Second)
	defer drainCancel()
	dispatcher.Shutdown(drainCtx)
	pushManager.CloseAll()

	slog.Info("Shutdown complete")
}
