package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	maxRetry = 5
	// Each pipeline step is one full strategy race, so the deadline grows
	// with the step count.
	baseTimeout    = time.Minute
	perStepTimeout = 30 * time.Second
	maxTimeout     = 15 * time.Minute
	// Completed task IDs stay reserved this long, so a job cannot be
	// started twice after it finished.
	retention = 24 * time.Hour
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) Queue() string {
	return c.queue
}

// EnqueueCompressImage schedules a job. The job ID doubles as the task ID,
// so starting the same job twice is rejected by asynq with ErrTaskIDConflict.
func (c *Client) EnqueueCompressImage(ctx context.Context, payload CompressImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewCompressImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, c.options(payload)...)
}

func (c *Client) options(payload CompressImagePayload) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(TimeoutFor(len(payload.Pipeline))),
		asynq.Retention(retention),
	}
}

// TimeoutFor returns the task deadline for a pipeline with steps steps.
func TimeoutFor(steps int) time.Duration {
	return min(baseTimeout+time.Duration(max(steps, 1))*perStepTimeout, maxTimeout)
}

func (c *Client) Close() error {
	return c.client.Close()
}
