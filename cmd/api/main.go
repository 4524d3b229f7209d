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

	"github.com/dunamismax/pixelpress/internal/api"
	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/config"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/ratelimit"
	"github.com/dunamismax/pixelpress/internal/storage"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelpress-api",
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		fatal(logger, "tracing setup failed", err)
	}
	defer flushTracing(logger, shutdownTracing)

	if err := compress.Startup(); err != nil {
		logger.Warn("primary encoder unavailable, using raster fallback", "err", err)
	}
	defer compress.Shutdown()
	engine := compress.NewEngine(compress.Config{
		Workers:        cfg.Compression.Workers,
		DisablePrimary: !cfg.Compression.PrimaryEnabled,
		Reporter:       compress.MultiReporter{telemetry.LogReporter{Logger: logger}, telemetry.SpanReporter{}},
	})
	logger.Info("compression engine ready", "primary", compress.PrimaryBackend(), "workers", engine.Workers())

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close failed", "err", err)
		}
	}()

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
		logger.Warn("object storage disabled", "bucket", cfg.Storage.Bucket, "err", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis client close failed", "err", err)
		}
	}()

	var limiter api.RateLimiter
	if bucket, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, ""); err != nil {
		logger.Warn("rate limiting disabled", "err", err)
	} else {
		limiter = bucket
	}

	opts := api.Options{
		Queue:               queueClient,
		Jobs:                jobStore,
		Compressor:          engine,
		RateLimiter:         limiter,
		Tracer:              otel.Tracer("pixelpress/api"),
		PresignTTL:          cfg.API.PresignTTL,
		MaxUploadBytes:      cfg.Compression.MaxUploadBytes,
		DefaultQuality:      cfg.Compression.DefaultQuality,
		RateLimitUserHeader: cfg.RateLimit.UserHeader,
	}
	if storageClient != nil {
		opts.Storage = storageClient
	}
	app := api.NewServer(logger, opts)

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func flushTracing(logger *slog.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
