// Package events defines the Outbox event vocabulary (spec.md §4.4/§6) and
// a small pattern-matching subscriber registry ("subscribe_events") that
// the Event Relay dispatches into.
package events

import (
	"context"
	"strings"
)

// Type is the dotted event type string, e.g. "job.completed".
type Type string

const (
	JobQueued    Type = "job.queued"
	JobStarted   Type = "job.started"
	JobProgress  Type = "job.progress"
	JobCompleted Type = "job.completed"
	JobFailed    Type = "job.failed"
)

// Event is a materialized, relay-dispatched event. Payload is whatever the
// producing subsystem marshaled into the outbox row (see outbox.Event).
type Event struct {
	OperationID string
	Type        Type
	Payload     map[string]interface{}
}

// Handler processes one dispatched event. Returning an error tells the
// relay to retry per the outbox's backoff policy (spec.md §4.4).
type Handler func(ctx context.Context, ev Event) error

// Registry matches event types against subscriber patterns. A pattern is
// either an exact type ("job.completed") or a prefix wildcard ("job.*"),
// mirroring the subscribe_events glob used throughout spec.md §6.
type Registry struct {
	subscribers []subscription
}

type subscription struct {
	pattern string
	handler Handler
}

func NewRegistry() *Registry { return &Registry{} }

// Subscribe registers handler for every event type matching pattern.
func (r *Registry) Subscribe(pattern string, handler Handler) {
	r.subscribers = append(r.subscribers, subscription{pattern: pattern, handler: handler})
}

// Dispatch runs every matching subscriber's handler in order, stopping and
// returning the first error (the relay marks the whole event failed and
// retries it — handlers should be idempotent).
func (r *Registry) Dispatch(ctx context.Context, ev Event) error {
	for _, sub := range r.subscribers {
		if !Matches(sub.pattern, string(ev.Type)) {
			continue
		}
		if err := sub.handler(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether eventType satisfies pattern, which is either an
// exact type ("job.completed") or a trailing-wildcard prefix ("job.*").
// Exported so transports (grpcapi's SubscribeEvents) can apply the same
// subscribe_events matching rule client-side against a live event feed.
func Matches(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
