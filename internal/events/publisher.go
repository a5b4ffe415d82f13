package events

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

const channel = "reel:events"

// wireEvent is the JSON envelope published on the Redis channel, giving
// subscribers enough to filter by operation or type without round-tripping
// through the outbox table themselves.
type wireEvent struct {
	OperationID string                 `json:"operation_id"`
	Type        string                 `json:"type"`
	Payload     map[string]interface{} `json:"payload"`
}

// Publisher fans a durable outbox event out to every live subscriber
// (spec.md §6's subscribe_events) over a Redis pub/sub channel, the same
// broadcast mechanism queue.ProgressPublisher uses for ephemeral progress —
// the durability guarantee here comes from the outbox's retry/backoff, not
// from Redis; a subscriber that isn't connected when an event publishes
// simply misses the live push (it can still be reconstructed from
// Operation.Status via get_operation).
type Publisher struct {
	redis *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{redis: rdb}
}

// Publish broadcasts ev to the shared events channel. Intended to be
// registered as a Registry subscriber (pattern "*") so every relayed event
// reaches it once per dispatch of its outbox row; a row the relay retries
// can be published more than once (at-least-once delivery).
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.redis == nil {
		return nil
	}
	body, err := json.Marshal(wireEvent{OperationID: ev.OperationID, Type: string(ev.Type), Payload: ev.Payload})
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, channel, body).Err()
}

// Subscribe returns a Redis subscription to the shared events channel. Its
// messages are unfiltered; the caller filters them against operationID/pattern
// after Decode (see grpcapi.Server.SubscribeEvents).
func (p *Publisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.redis.Subscribe(ctx, channel)
}

// Decode parses one message payload back into its components. Malformed
// payloads (which should never occur since Publish is the only writer)
// return zero values and a non-nil error.
func Decode(payload string) (operationID string, typ Type, data map[string]interface{}, err error) {
	var w wireEvent
	if err = json.Unmarshal([]byte(payload), &w); err != nil {
		return "", "", nil, err
	}
	return w.OperationID, Type(w.Type), w.Payload, nil
}
