package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KeshavSoni17/halo-backend/pkg/config"
	"github.com/KeshavSoni17/halo-backend/pkg/di"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/observability"
	"github.com/KeshavSoni17/halo-backend/pkg/router"
	"github.com/KeshavSoni17/halo-backend/pkg/secrets"
)

func main() {
	// Load configuration, including any .env file
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	var traceOutput io.Writer
	if cfg.Observability.StdoutTrace {
		traceOutput = os.Stdout
	}
	provider, err := observability.Setup(observability.Options{
		ServiceName: cfg.Observability.ServiceName,
		TraceOutput: traceOutput,
	})
	if err != nil {
		log.LogError(err, "Failed to initialize observability")
		os.Exit(1)
	}

	// Root context for background work; cancelled on shutdown
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	secretManager, err := secrets.NewManager(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize secret manager")
		os.Exit(1)
	}
	secrets.ResolveCredentials(ctx, secretManager, cfg, log)

	// Initialize database
	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	// Initialize dependency injection container
	container, err := di.New(ctx, cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	// Auto-migrate the schema
	if err := container.Store.Migrate(ctx); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	container.Start(ctx)

	// Initialize and setup router
	r := router.New(container, provider.MetricsHandler())
	r.SetupRoutes()

	// Create HTTP server. No write timeout: WebSocket connections are long lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a signal
	<-quit
	log.Info("Shutting down server...")

	// Create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown the server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	// Close transcription sessions before cancelling the background context
	// so their final transcripts are persisted
	container.Close(shutdownCtx)
	stop()

	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush telemetry")
	}

	log.Info("Server exited gracefully")
}
