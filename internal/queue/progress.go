package queue

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ProgressPublisher broadcasts job.progress updates over a Redis pub/sub
// channel. Progress is deliberately ephemeral, not an outbox event: spec.md
// §4.3/§6 treats job.progress as ephemeral (report_progress), unlike
// job.queued/started/completed/failed which are durable outbox events —
// a subscriber that isn't listening when a progress tick fires just misses
// it, which is fine for a percent-complete indicator.
type ProgressPublisher struct {
	redis *redis.Client
}

func NewProgressPublisher(rdb *redis.Client) *ProgressPublisher {
	return &ProgressPublisher{redis: rdb}
}

func progressChannel(operationID string) string {
	return fmt.Sprintf("reel:progress:%s", operationID)
}

// Publish best-effort broadcasts percent for operationID. Errors are
// swallowed — a dropped progress update never affects correctness.
func (p *ProgressPublisher) Publish(ctx context.Context, operationID string, percent int) {
	if p == nil || p.redis == nil {
		return
	}
	_ = p.redis.Publish(ctx, progressChannel(operationID), percent).Err()
}

// Subscribe returns a Redis subscription to operationID's progress channel,
// whose message payloads are the percent as decimal text; used by the gRPC
// SubscribeProgress server stream.
func (p *ProgressPublisher) Subscribe(ctx context.Context, operationID string) *redis.PubSub {
	return p.redis.Subscribe(ctx, progressChannel(operationID))
}
