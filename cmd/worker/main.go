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

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/config"
	"github.com/dunamismax/pixelpress/internal/storage"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/telemetry"
	"github.com/dunamismax/pixelpress/internal/webhook"
	"github.com/dunamismax/pixelpress/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelpress-worker",
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Error("tracing setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	if err := compress.Startup(); err != nil {
		logger.Warn("primary encoder unavailable, using raster fallback", "err", err)
	}
	defer compress.Shutdown()

	jobStore, closeStore := store.Open(ctx, logger, cfg.Database.DSN)
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("job store close failed", "err", err)
		}
	}()

	storageClient, err := storage.Connect(ctx, storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Warn("object storage disabled, s3_presigned jobs will fail", "err", err)
		storageClient = nil
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg, storageClient, webhookClient, jobStore)
	if err != nil {
		logger.Error("worker init failed", "err", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           metricsMux(srv.MetricsHandler()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	defer shutdownMetrics(logger, metricsServer)

	logger.Info("starting worker",
		"concurrency", cfg.Worker.Concurrency,
		"max_active_jobs", cfg.Worker.MaxActiveJobs,
		"queue", cfg.Queue.Name,
		"redis", cfg.Queue.RedisAddr,
		"primary", compress.PrimaryBackend(),
		"metrics_addr", cfg.Worker.MetricsAddr,
	)

	// Run blocks until asynq receives SIGINT or SIGTERM.
	if err := srv.Run(); err != nil {
		logger.Error("worker failed", "err", err)
		os.Exit(1)
	}
}

func metricsMux(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func shutdownMetrics(logger *slog.Logger, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown failed", "err", err)
	}
}
