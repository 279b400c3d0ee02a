// Package progress delivers live status events for a running scan.
// Reporters are best-effort: a consumer that cannot take an event never
// fails or stalls the scan.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Event is one progress update. Message is human-readable and rendered
// by consumers as-is; Current/Total are set only while inputs are being
// prepared.
type Event struct {
	Message string `json:"message"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// Reporter accepts progress events.
type Reporter interface {
	Report(ctx context.Context, e Event)
}

// LogReporter writes events to slog at debug level.
type LogReporter struct{}

func (LogReporter) Report(ctx context.Context, e Event) {
	if e.Total > 0 {
		slog.DebugContext(ctx, "progress", "message", e.Message, "current", e.Current, "total", e.Total)
		return
	}
	slog.DebugContext(ctx, "progress", "message", e.Message)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Report(context.Context, Event) {}

// Func adapts a function to a Reporter, used by tests.
type Func func(ctx context.Context, e Event)

func (f Func) Report(ctx context.Context, e Event) { f(ctx, e) }

// RedisReporter publishes JSON-encoded events to a Redis channel, one
// channel per workflow. Publish errors are logged and swallowed.
type RedisReporter struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisReporter(client redis.UniversalClient, channel string) RedisReporter {
	return RedisReporter{client: client, channel: channel}
}

func (r RedisReporter) Report(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.WarnContext(ctx, "encoding progress event failed", "error", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		slog.WarnContext(ctx, "publishing progress event failed", "channel", r.channel, "error", err)
	}
}
