package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// Client enqueues stockroom tasks.
type Client struct {
	client *asynq.Client
}

// NewClient builds a client. The connection is opened lazily by asynq.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, fmt.Errorf("jobs: redis address required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueWriteOff queues a notice for a loan closed as LOST.
func (c *Client) EnqueueWriteOff(ctx context.Context, payload WriteOffPayload) (*asynq.TaskInfo, error) {
	task, err := NewWriteOffTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

// EnqueueDueScan queues an out-of-schedule maintenance due scan.
func (c *Client) EnqueueDueScan(ctx context.Context, payload DueScanPayload) (*asynq.TaskInfo, error) {
	task, err := NewDueScanTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
