package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrJobExists
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) SaveResult(_ context.Context, id, status string, outputs []domain.StepOutput, errMsg string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.Outputs = slices.Clone(outputs)
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

// cloneJob keeps callers from mutating stored slices.
func cloneJob(job domain.Job) domain.Job {
	job.Pipeline = slices.Clone(job.Pipeline)
	job.Outputs = slices.Clone(job.Outputs)
	return job
}
