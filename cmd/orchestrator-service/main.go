package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mercato/order-system/orchestrator-service/config"
	"github.com/mercato/order-system/orchestrator-service/handlers"
	"github.com/mercato/order-system/shared/telemetry"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "orchestrator-service").Logger()

	cfg, err := config.ReadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Info().Str("env", cfg.Env).Str("port", cfg.Port).Msg("starting orchestrator service")

	ctx := context.Background()
	deps, err := config.BuildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing dependencies")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if deps.Telemetry != nil {
		runCtx = telemetry.WithTelemetry(runCtx, deps.Telemetry)
	}

	// Start reply consumer
	if deps.ReplyConsumer != nil {
		if err := deps.ReplyConsumer.Start(runCtx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start reply consumer")
		}
	}

	// Sweep terminal workflows in the background
	go deps.SweepWorkflows.Run(runCtx, cfg.Workflow.SweepInterval)

	// Report in-flight step count
	go reportPendingRequests(runCtx, deps, cfg.Workflow.PendingGaugeInterval)

	router := setupRouter(deps)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Workflow.ShutdownGracePeriod)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("stopped")
}

func setupRouter(deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(2 * time.Minute))

	// Telemetry middleware (inject telemetry into context)
	if deps.Telemetry != nil {
		r.Use(telemetry.Middleware(deps.Telemetry))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", handlers.NewMetricsHandler())

	// Register orchestrator routes
	deps.OrchestratorHandlers.RegisterRoutes(r)

	return r
}

func reportPendingRequests(ctx context.Context, deps *config.Dependencies, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			telemetry.RecordGauge(ctx, "pending_step_requests", "Steps awaiting a reply", float64(deps.Registry.PendingCount()))
		}
	}
}
