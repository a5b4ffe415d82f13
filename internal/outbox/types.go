// Package outbox implements the Transactional Outbox (spec.md §4.4):
// events are written in the same database transaction as the business
// state change they describe, then relayed to subscribers at-least-once by
// a separate polling loop — avoiding the dual-write problem of writing to
// the database and a message bus as two separate, non-atomic steps.
package outbox

import (
	"time"

	"github.com/kelpejol/reel/internal/events"
)

// Status is an outbox row's position in its pending -> claimed ->
// {published, dead} lifecycle. A failed delivery returns the row to pending
// with a later next_attempt_at; no store method assigns StatusFailed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Event is one outbox row: a durably recorded fact awaiting relay.
type Event struct {
	ID             string
	OperationID    string
	IdempotencyKey string // unique per (operation_id, event_type); a retried insert is a no-op, not a duplicate event
	EventType      events.Type
	Payload        map[string]interface{}
	Status         Status
	Attempts       int
	NextAttemptAt  time.Time
	ClaimedAt      *time.Time
	CreatedAt      time.Time
}
