package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelpress/internal/compress"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType  string         `json:"source_type"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
	ObjectKey   string         `json:"object_key,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Pipeline    []PipelineStep `json:"pipeline"`
}

// PipelineStep is one compression variant of the job's source image.
type PipelineStep struct {
	ID                  string `json:"id"`
	Quality             int    `json:"quality"`
	Format              string `json:"format,omitempty"`
	MaxWidth            int    `json:"max_width,omitempty"`
	MaxHeight           int    `json:"max_height,omitempty"`
	MaintainAspectRatio *bool  `json:"maintain_aspect_ratio,omitempty"`
}

// KeepAspect defaults to true when the step does not say.
func (s PipelineStep) KeepAspect() bool {
	return s.MaintainAspectRatio == nil || *s.MaintainAspectRatio
}

// CompressFormat returns the requested output format; empty means auto.
func (s PipelineStep) CompressFormat() compress.Format {
	f, ok := compress.ParseFormat(s.Format)
	if !ok {
		return compress.Format(s.Format)
	}
	return f
}

// StepOutput is the persisted outcome of one pipeline step.
type StepOutput struct {
	StepID               string              `json:"step_id"`
	Success              bool                `json:"success"`
	Error                string              `json:"error,omitempty"`
	Path                 string              `json:"path,omitempty"`
	Format               string              `json:"format,omitempty"`
	Strategy             string              `json:"strategy,omitempty"`
	PassThrough          bool                `json:"pass_through,omitempty"`
	OriginalBytes        int                 `json:"original_bytes"`
	Bytes                int                 `json:"bytes"`
	RatioPercent         float64             `json:"compression_ratio_percent"`
	OriginalDimensions   compress.Dimensions `json:"original_dimensions"`
	CompressedDimensions compress.Dimensions `json:"compressed_dimensions"`
}

type Job struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	SourceType  string         `json:"source_type"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Pipeline    []PipelineStep `json:"pipeline"`
	ObjectKey   string         `json:"object_key"`
	Outputs     []StepOutput   `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if ct := strings.TrimSpace(r.ContentType); ct != "" {
		if _, ok := compress.FormatFromMIME(ct); !ok {
			return fmt.Errorf("unsupported content_type: %s", r.ContentType)
		}
	}
	if len(r.Pipeline) == 0 {
		return errors.New("pipeline must contain at least one step")
	}

	seen := make(map[string]struct{}, len(r.Pipeline))
	for i, step := range r.Pipeline {
		stepID := strings.TrimSpace(step.ID)
		if stepID == "" {
			return fmt.Errorf("pipeline[%d].id is required", i)
		}
		if _, dup := seen[stepID]; dup {
			return fmt.Errorf("pipeline[%d].id %q is duplicated", i, step.ID)
		}
		seen[stepID] = struct{}{}

		if _, ok := compress.ParseFormat(step.Format); !ok {
			return fmt.Errorf("pipeline[%d].format %q is not one of auto, jpeg, png, webp", i, step.Format)
		}
		if step.MaxWidth < 0 || step.MaxHeight < 0 {
			return fmt.Errorf("pipeline[%d] max bounds must not be negative", i)
		}
	}
	return nil
}
