package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/id"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

// Options carries the collaborators of the HTTP surface. Storage,
// RateLimiter and Tracer may be nil.
type Options struct {
	Queue       QueueEnqueuer
	Jobs        store.JobStore
	Storage     ObjectStorage
	Compressor  Compressor
	RateLimiter RateLimiter
	Tracer      trace.Tracer

	PresignTTL          time.Duration
	MaxUploadBytes      int64
	DefaultQuality      int
	RateLimitUserHeader string
}

type Server struct {
	logger                *slog.Logger
	queueClient           QueueEnqueuer
	jobStore              store.JobStore
	storage               ObjectStorage
	compressor            Compressor
	rateLimiter           RateLimiter
	tracer                trace.Tracer
	metrics               *metrics
	presignTTL            time.Duration
	maxUploadBytes        int64
	defaultQuality        int
	rateLimitUserIDHeader string
	mux                   *http.ServeMux
}

type QueueEnqueuer interface {
	EnqueueCompressImage(ctx context.Context, payload queue.CompressImagePayload) (*asynq.TaskInfo, error)
}

type ObjectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type Compressor interface {
	Compress(ctx context.Context, req compress.Request) (compress.Result, error)
}

func NewServer(logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	storage := opts.Storage
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	defaultQuality := opts.DefaultQuality
	if defaultQuality <= 0 {
		defaultQuality = 70
	}
	userHeader := opts.RateLimitUserHeader
	if userHeader == "" {
		userHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		queueClient:           opts.Queue,
		jobStore:              opts.Jobs,
		storage:               storage,
		compressor:            opts.Compressor,
		rateLimiter:           opts.RateLimiter,
		tracer:                opts.Tracer,
		metrics:               newMetrics(),
		presignTTL:            presignTTL,
		maxUploadBytes:        maxUpload,
		defaultQuality:        defaultQuality,
		rateLimitUserIDHeader: userHeader,
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

// Handler returns the routed mux wrapped as tracing -> metrics -> rate limit.
func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /v1/compress", s.handleCompress)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Error("generate presigned url failed", "job_id", jobID, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:          jobID,
		Status:      domain.JobStatusCreated,
		SourceType:  sourceType,
		WebhookURL:  req.WebhookURL,
		ContentType: req.ContentType,
		Pipeline:    req.Pipeline,
		ObjectKey:   objectKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error("create job failed", "job_id", job.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "malformed job id")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	payload := queue.CompressImagePayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		ContentType: job.ContentType,
		Pipeline:    job.Pipeline,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueCompressImage(r.Context(), payload)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeError(w, http.StatusConflict, "job is already queued")
			return
		}
		s.logger.Error("enqueue failed", "job_id", job.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn("update status failed", "job_id", job.ID, "err", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
