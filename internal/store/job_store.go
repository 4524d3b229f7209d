package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelpress/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// SaveResult records the terminal status with the per-step outputs.
	SaveResult(ctx context.Context, id, status string, outputs []domain.StepOutput, errMsg string) (domain.Job, error)
}
