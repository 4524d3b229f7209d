package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/pipeline"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/dunamismax/pixelpress/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
)

type fakeProcessor struct {
	result pipeline.Result
	err    error
	calls  int
}

func (p *fakeProcessor) Process(_ context.Context, _ pipeline.Request) (pipeline.Result, error) {
	p.calls++
	return p.result, p.err
}

type sentWebhook struct {
	endpoint string
	event    string
	payload  map[string]any
}

type fakeWebhook struct {
	sent []sentWebhook
	err  error
}

func (w *fakeWebhook) Send(_ context.Context, endpoint, event string, payload any) error {
	body, _ := payload.(map[string]any)
	w.sent = append(w.sent, sentWebhook{endpoint: endpoint, event: event, payload: body})
	return w.err
}

func newTestServer(t *testing.T, local processor, hook *fakeWebhook) (*Server, *store.MemoryJobStore) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	s := &Server{
		logger:         slog.New(slog.DiscardHandler),
		sem:            make(chan struct{}, 1),
		localProcessor: local,
		webhookClient:  hook,
		jobStore:       jobs,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("test"),
	}
	return s, jobs
}

func seedJob(t *testing.T, jobs store.JobStore, id, sourceType string) {
	t.Helper()
	now := time.Now().UTC()
	if err := jobs.Create(context.Background(), domain.Job{
		ID:         id,
		Status:     domain.JobStatusQueued,
		SourceType: sourceType,
		ObjectKey:  "input.png",
		Pipeline:   []domain.PipelineStep{{ID: "web", Quality: 70}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func compressTask(t *testing.T, id, sourceType, webhookURL string) *asynq.Task {
	t.Helper()
	task, err := queue.NewCompressImageTask(queue.CompressImagePayload{
		JobID:       id,
		SourceType:  sourceType,
		WebhookURL:  webhookURL,
		ObjectKey:   "input.png",
		Pipeline:    []domain.PipelineStep{{ID: "web", Quality: 70}},
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func TestHandleCompressImageSavesOutputsAndNotifies(t *testing.T) {
	proc := &fakeProcessor{result: pipeline.Result{
		SourceBytes: 1_000,
		MimeType:    "image/png",
		Outputs: []domain.StepOutput{
			{StepID: "web", Success: true, Path: "out/web.webp", Format: "webp", Strategy: "webp", OriginalBytes: 1_000, Bytes: 400, RatioPercent: 60},
		},
	}}
	hook := &fakeWebhook{}
	s, jobs := newTestServer(t, proc, hook)
	seedJob(t, jobs, "job-1", domain.SourceTypeLocalFile)

	if err := s.handleCompressImage(context.Background(), compressTask(t, "job-1", domain.SourceTypeLocalFile, "https://hooks.example.com/done")); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, ok, err := jobs.Get(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("load job: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if len(job.Outputs) != 1 || job.Outputs[0].Bytes != 400 {
		t.Fatalf("expected saved output, got %+v", job.Outputs)
	}
	if len(hook.sent) != 1 || hook.sent[0].event != webhook.EventJobCompleted {
		t.Fatalf("expected one completed webhook, got %+v", hook.sent)
	}
	if got := testutil.ToFloat64(s.metrics.bytesSavedTotal); got != 600 {
		t.Fatalf("expected 600 bytes saved, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.jobsTotal.WithLabelValues(domain.SourceTypeLocalFile, domain.JobStatusSucceeded)); got != 1 {
		t.Fatalf("expected one succeeded job, got %v", got)
	}
}

func TestHandleCompressImageAllStepsFailedSkipsRetry(t *testing.T) {
	proc := &fakeProcessor{
		result: pipeline.Result{Outputs: []domain.StepOutput{{StepID: "web", Error: "decode failed"}}},
		err:    fmt.Errorf("job job-2: %w", pipeline.ErrAllStepsFailed),
	}
	hook := &fakeWebhook{}
	s, jobs := newTestServer(t, proc, hook)
	seedJob(t, jobs, "job-2", domain.SourceTypeLocalFile)

	err := s.handleCompressImage(context.Background(), compressTask(t, "job-2", domain.SourceTypeLocalFile, "https://hooks.example.com/done"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-2")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == "" {
		t.Fatal("expected error message on job")
	}
	if len(job.Outputs) != 1 || job.Outputs[0].Success {
		t.Fatalf("expected failed step output to be saved, got %+v", job.Outputs)
	}
	if len(hook.sent) != 1 || hook.sent[0].event != webhook.EventJobFailed {
		t.Fatalf("expected one failed webhook, got %+v", hook.sent)
	}
	if got := testutil.ToFloat64(s.metrics.outputsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected one failed output, got %v", got)
	}
}

func TestHandleCompressImageTransientErrorOnFinalAttemptMarksFailed(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("connection reset")}
	s, jobs := newTestServer(t, proc, &fakeWebhook{})
	seedJob(t, jobs, "job-3", domain.SourceTypeLocalFile)

	err := s.handleCompressImage(context.Background(), compressTask(t, "job-3", domain.SourceTypeLocalFile, ""))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient errors must not skip retry: %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-3")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed on final attempt, got %s", job.Status)
	}
}

func TestHandleCompressImageWebhookFailureKeepsJobSucceeded(t *testing.T) {
	proc := &fakeProcessor{result: pipeline.Result{
		Outputs: []domain.StepOutput{{StepID: "web", Success: true, PassThrough: true, OriginalBytes: 10, Bytes: 10}},
	}}
	hook := &fakeWebhook{err: errors.New("endpoint down")}
	s, jobs := newTestServer(t, proc, hook)
	seedJob(t, jobs, "job-4", domain.SourceTypeLocalFile)

	if err := s.handleCompressImage(context.Background(), compressTask(t, "job-4", domain.SourceTypeLocalFile, "https://hooks.example.com/done")); err != nil {
		t.Fatalf("webhook failure should not fail the job: %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-4")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if got := testutil.ToFloat64(s.metrics.webhookFailures.WithLabelValues(webhook.EventJobCompleted)); got != 1 {
		t.Fatalf("expected one webhook failure, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.outputsTotal.WithLabelValues("passthrough")); got != 1 {
		t.Fatalf("expected one passthrough output, got %v", got)
	}
}

func TestHandleCompressImageWithoutObjectStorage(t *testing.T) {
	proc := &fakeProcessor{}
	s, jobs := newTestServer(t, proc, &fakeWebhook{})
	seedJob(t, jobs, "job-5", domain.SourceTypeS3Presigned)

	err := s.handleCompressImage(context.Background(), compressTask(t, "job-5", domain.SourceTypeS3Presigned, ""))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if proc.calls != 0 {
		t.Fatalf("local processor should not run for s3 sources, ran %d times", proc.calls)
	}
}

func TestHandleCompressImageRejectsBadPayload(t *testing.T) {
	s, _ := newTestServer(t, &fakeProcessor{}, &fakeWebhook{})

	err := s.handleCompressImage(context.Background(), asynq.NewTask(queue.TypeCompressImage, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("wrap: %w", pipeline.ErrAllStepsFailed), true},
		{fmt.Errorf("wrap: %w", pipeline.ErrSourceTooLarge), true},
		{pipeline.ErrUnsupportedSourceType, true},
		{errObjectStorageUnavailable, true},
		{errors.New("timeout"), false},
	}
	for _, tt := range tests {
		if got := isPermanent(tt.err); got != tt.want {
			t.Fatalf("isPermanent(%v)=%v want %v", tt.err, got, tt.want)
		}
	}
}
