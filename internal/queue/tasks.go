package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeCompressImage = "image:compress"

type CompressImagePayload struct {
	JobID       string                `json:"job_id"`
	SourceType  string                `json:"source_type"`
	WebhookURL  string                `json:"webhook_url,omitempty"`
	ObjectKey   string                `json:"object_key"`
	ContentType string                `json:"content_type,omitempty"`
	Pipeline    []domain.PipelineStep `json:"pipeline"`
	RequestedAt time.Time             `json:"requested_at"`
}

func NewCompressImageTask(payload CompressImagePayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("compress payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal compress payload: %w", err)
	}
	return asynq.NewTask(TypeCompressImage, body), nil
}

func ParseCompressImagePayload(task *asynq.Task) (CompressImagePayload, error) {
	var payload CompressImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CompressImagePayload{}, fmt.Errorf("unmarshal compress payload: %w", err)
	}
	if payload.JobID == "" {
		return CompressImagePayload{}, fmt.Errorf("compress payload missing job_id")
	}
	return payload, nil
}
