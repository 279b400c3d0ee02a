package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/CZERTAINLY/Triage/internal/config"
)

// Client enqueues scan tasks.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
		queue: cfg.Worker.Queue,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueScan submits one scan to the queue and returns the task ID.
func (c *Client) EnqueueScan(ctx context.Context, payload ScanPayload) (string, error) {
	t, err := NewScanTask(payload, c.queue)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, t)
	if err != nil {
		return "", fmt.Errorf("enqueueing scan: %w", err)
	}
	slog.InfoContext(ctx, "scan queued",
		"task_id", info.ID, "queue", info.Queue, "workflow_id", payload.WorkflowID)
	return info.ID, nil
}
