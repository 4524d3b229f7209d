package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/lib/pq"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	now := time.Now().UTC()
	if err := s.Create(ctx, domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "input.png",
		Pipeline:   []domain.PipelineStep{{ID: "web", Quality: 40}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusProcessing); err != nil {
		t.Fatalf("update status: %v", err)
	}

	outputs := []domain.StepOutput{{StepID: "web", Success: true, Format: "webp", Bytes: 100, OriginalBytes: 400, RatioPercent: 75}}
	job, err := s.SaveResult(ctx, "job-1", domain.JobStatusSucceeded, outputs, "")
	if err != nil {
		t.Fatalf("save result: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded || len(job.Outputs) != 1 {
		t.Fatalf("unexpected job after save: %+v", job)
	}

	outputs[0].Bytes = 1
	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Outputs[0].Bytes != 100 {
		t.Fatal("stored outputs must not alias the caller's slice")
	}
}

func TestMemoryJobStoreMissingJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(ctx, "nope"); ok || err != nil {
		t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateStatus(ctx, "nope", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.SaveResult(ctx, "nope", domain.JobStatusFailed, nil, "boom"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryJobStoreRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	job := domain.Job{ID: "job-1", Status: domain.JobStatusCreated}

	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, job); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})) {
		t.Fatal("expected 23505 to be a unique violation")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatal("plain errors are not unique violations")
	}
}
