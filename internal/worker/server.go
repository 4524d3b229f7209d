package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/config"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/storage"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/telemetry"
	"github.com/dunamismax/pixelpress/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errObjectStorageUnavailable = errors.New("object storage is not configured")

type Server struct {
	logger          *slog.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	metrics         *metrics
	tracer          trace.Tracer
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer wires the compression engine, both pipeline processors and the
// asynq server. storageClient and webhookClient may be nil; jobs that need
// object storage then fail permanently.
func NewServer(
	logger *slog.Logger,
	cfg config.Config,
	storageClient *storage.Client,
	webhookClient webhookSender,
	jobStore store.JobStore,
) (*Server, error) {
	m := newMetrics()
	engine := compress.NewEngine(compress.Config{
		Workers:        cfg.Compression.Workers,
		DisablePrimary: !cfg.Compression.PrimaryEnabled,
		Reporter: compress.MultiReporter{
			m,
			telemetry.LogReporter{Logger: logger},
			telemetry.SpanReporter{},
		},
	})

	localProcessor, err := pipeline.NewLocalProcessor(cfg.Worker.LocalOutputDir, cfg.Compression.MaxUploadBytes, engine)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	var objectProcessor processor
	if storageClient != nil {
		objectProcessor, err = pipeline.NewObjectStoreProcessor(storageClient, cfg.Worker.OutputPrefix, cfg.Compression.MaxUploadBytes, engine)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			cfg.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					cfg.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn("task failed", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "err", err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		metrics:         m,
		tracer:          otel.Tracer("pixelpress/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeCompressImage, s.handleCompressImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleCompressImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseCompressImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.compress_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.pipeline_steps", len(payload.Pipeline)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger := s.logger.With("job_id", payload.JobID, "source_type", payload.SourceType)
	logger.Info("compressing", "steps", len(payload.Pipeline), "object_key", payload.ObjectKey)

	s.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	s.metrics.observeOutputs(result.Outputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")

		permanent := isPermanent(err)
		if !permanent && !finalAttempt(ctx) {
			logger.Warn("pipeline failed, will retry", "err", err)
			return fmt.Errorf("run pipeline: %w", err)
		}

		logger.Error("pipeline failed", "err", err, "permanent", permanent)
		s.saveResult(ctx, logger, payload.JobID, domain.JobStatusFailed, result.Outputs, err.Error())
		s.dispatchWebhook(ctx, logger, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
			"outputs":      result.Outputs,
		})
		if permanent {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	logger.Info("compressed", "outputs", len(result.Outputs), "succeeded", result.Succeeded(), "source_bytes", result.SourceBytes)
	s.saveResult(ctx, logger, payload.JobID, domain.JobStatusSucceeded, result.Outputs, "")

	if err := s.dispatchWebhook(ctx, logger, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "compressed")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.CompressImagePayload) (pipeline.Result, error) {
	request := pipeline.Request{
		JobID:       payload.JobID,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		ContentType: payload.ContentType,
		Pipeline:    payload.Pipeline,
	}

	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		return s.localProcessor.Process(ctx, request)
	default:
		if s.objectProcessor == nil {
			return pipeline.Result{}, errObjectStorageUnavailable
		}
		return s.objectProcessor.Process(ctx, request)
	}
}

// isPermanent reports failures that a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, pipeline.ErrAllStepsFailed) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, pipeline.ErrSourceTooLarge) ||
		errors.Is(err, errObjectStorageUnavailable)
}

// finalAttempt is true on the last asynq retry, and when ctx carries no
// retry metadata at all.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, logger *slog.Logger, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		logger.Warn("job status update failed", "status", status, "err", err)
	}
}

func (s *Server) saveResult(ctx context.Context, logger *slog.Logger, jobID, status string, outputs []domain.StepOutput, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.SaveResult(ctx, jobID, status, outputs, errMsg); err != nil {
		logger.Warn("job result save failed", "status", status, "err", err)
	}
}

// dispatchWebhook never fails the job; delivery errors are logged and
// counted.
func (s *Server) dispatchWebhook(ctx context.Context, logger *slog.Logger, payload queue.CompressImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		logger.Warn("webhook delivery failed", "event", event, "err", err)
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}
