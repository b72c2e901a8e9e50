package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vistorialab/vistoria/internal"
	"github.com/vistorialab/vistoria/internal/broker"
	"github.com/vistorialab/vistoria/internal/events"
	"github.com/vistorialab/vistoria/internal/handler"
	"github.com/vistorialab/vistoria/internal/metrics"
	"github.com/vistorialab/vistoria/internal/middleware"
	"github.com/vistorialab/vistoria/internal/notify"
	"github.com/vistorialab/vistoria/internal/queue"
	"github.com/vistorialab/vistoria/internal/repository"
	"github.com/vistorialab/vistoria/internal/service"
	"github.com/vistorialab/vistoria/internal/storage"
	"github.com/vistorialab/vistoria/internal/vision"
	"github.com/vistorialab/vistoria/internal/vision/anthropic"
	"github.com/vistorialab/vistoria/internal/vision/mock"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Initialize vision client
	var client vision.Client
	switch cfg.VisionProvider {
	case "anthropic":
		client = anthropic.New(anthropic.Config{}, repo, logger)
	default:
		client = mock.New()
	}
	if err := client.Reload(ctx); err != nil {
		logger.Warn("Failed to load analysis settings at startup", "error", err)
	}

	// Initialize photo storage
	var store storage.Storage
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		store, err = storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		store, err = storage.NewLocalStorage(storage.LocalConfig{
			BaseURL: cfg.LocalStorageURL,
		}, logger)
	}
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize broker. An empty AMQP_URL leaves the adapter disconnected
	// and the queue falls back to local polling. Started further down, after
	// the coordinator has registered its reconnect callback and consumer.
	work := broker.New(cfg.AmqpURL, logger)

	hub := events.NewHub()
	notifier := notify.NewService(cfg.NtfyEndpoint, cfg.NtfyTimeout)

	// Initialize queue coordinator
	coordinator := queue.New(repo, client, store, work, hub, notifier, queue.Config{
		PollInterval: cfg.PollInterval,
		PhotoURLTTL:  cfg.PhotoURLTTL,
	}, logger)

	// Recover records left over from a previous crash before accepting work.
	if err := coordinator.Recover(ctx); err != nil {
		return fmt.Errorf("queue recovery failed: %w", err)
	}

	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("queue coordinator failed to start: %w", err)
	}

	if cfg.AmqpURL != "" {
		work.Start(ctx)
		defer work.Close()
	} else {
		logger.Warn("AMQP_URL not set; running on local polling only")
	}

	quota := service.NewQuotaService(db, repo, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewQueueHandler(coordinator, repo, logger).RegisterRoutes(mux)
	handler.NewAdminHandler(coordinator, repo, client, work, logger).RegisterRoutes(mux)
	handler.NewEventsHandler(hub, logger).RegisterRoutes(mux)
	handler.NewHealthHandler(db, work, client, logger).RegisterRoutes(mux)
	handler.NewQuotaHandler(quota, logger).RegisterRoutes(mux)

	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	root := loggingMw.Handler(metrics.Middleware(mux))

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
