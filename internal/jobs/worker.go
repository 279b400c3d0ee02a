package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/CZERTAINLY/Triage/internal/config"
	"github.com/CZERTAINLY/Triage/internal/progress"
	"github.com/CZERTAINLY/Triage/internal/task"
	"github.com/CZERTAINLY/Triage/internal/workspace"
)

// Worker consumes scan tasks from the queue and drives the runner.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	redis  redis.UniversalClient
}

func NewWorker(cfg config.Config, runner *task.Runner) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues:      map[string]int{cfg.Worker.Queue: 1},
		},
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	h := &scanHandler{runner: runner, redis: rdb}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeThorScan, h.handleScan)

	return &Worker{server: server, mux: mux, redis: rdb}
}

// Run consumes tasks until ctx is cancelled, then shuts down gracefully
// and lets in-flight scans finish.
func (w *Worker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Start(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.server.Shutdown()
		_ = w.redis.Close()
		return ctx.Err()
	case err := <-errCh:
		_ = w.redis.Close()
		if err != nil {
			return fmt.Errorf("queue worker: %w", err)
		}
		return nil
	}
}

type scanHandler struct {
	runner *task.Runner
	redis  redis.UniversalClient
}

// handleScan executes one queued scan. Input errors are permanent and
// skip retries; everything else is retried by the queue.
func (h *scanHandler) handleScan(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding scan payload: %v: %w", err, asynq.SkipRetry)
	}
	slog.InfoContext(ctx, "scan task received",
		"workflow_id", payload.WorkflowID, "inputs", len(payload.Inputs))

	var reporter progress.Reporter = progress.LogReporter{}
	if payload.WorkflowID != "" {
		reporter = progress.NewRedisReporter(h.redis, ProgressChannel(payload.WorkflowID))
	}

	res, err := h.runner.Run(ctx, task.Request{
		WorkflowID: payload.WorkflowID,
		OutputPath: payload.OutputPath,
		Inputs:     payload.Inputs,
		Options:    payload.Options,
	}, reporter)
	if err != nil {
		if errors.Is(err, workspace.ErrMissingInput) || errors.Is(err, workspace.ErrNoTargets) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding scan result: %w", err)
	}
	if _, err := t.ResultWriter().Write(data); err != nil {
		slog.WarnContext(ctx, "storing scan result failed",
			"workflow_id", payload.WorkflowID, "error", err)
	}
	slog.InfoContext(ctx, "scan task finished",
		"workflow_id", payload.WorkflowID, "outputs", len(res.OutputFiles))
	return nil
}
