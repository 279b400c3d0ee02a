// Package jobs connects the scan runner to the Redis-backed task queue:
// task definitions, the consuming worker and the enqueueing client.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/CZERTAINLY/Triage/internal/task"
	"github.com/CZERTAINLY/Triage/internal/workspace"
)

// TypeThorScan identifies a THOR Lite scan task on the queue.
const TypeThorScan = "thor:scan"

// scanTaskTimeout bounds queue-level task execution; the scan itself is
// additionally bounded by the configured scanner timeout.
const scanTaskTimeout = 6 * time.Hour

// ScanPayload is the JSON body of a queued scan task.
type ScanPayload struct {
	WorkflowID string            `json:"workflow_id"`
	OutputPath string            `json:"output_path"`
	Inputs     []workspace.Input `json:"inputs"`
	Options    task.Options      `json:"options"`
}

// NewScanTask builds a queue task carrying payload, destined for queue.
func NewScanTask(payload ScanPayload, queue string) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding scan payload: %w", err)
	}
	return asynq.NewTask(TypeThorScan, data,
		asynq.Queue(queue),
		asynq.MaxRetry(2),
		asynq.Timeout(scanTaskTimeout),
		asynq.Retention(24*time.Hour),
	), nil
}

// ProgressChannel names the Redis pub/sub channel carrying progress
// events for one workflow.
func ProgressChannel(workflowID string) string {
	return "triage:progress:" + workflowID
}
