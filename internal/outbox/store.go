package outbox

import (
	"context"
	"time"
)

// Store persists outbox events. Insert participates in the Operation
// Pipeline's and Worker Pool's shared transactions (internal/txn); the
// other methods drive the Event Relay's own polling loop.
type Store interface {
	// Insert writes a new pending event. A duplicate IdempotencyKey is a
	// no-op: the store returns nil and leaves the existing row unchanged.
	Insert(ctx context.Context, e *Event) error

	// ClaimBatch atomically claims up to limit pending events whose
	// next_attempt_at is due, marking them Status=claimed with claimed_at set
	// to now so a concurrent relay instance won't double-claim them, and
	// returns the claimed rows.
	ClaimBatch(ctx context.Context, limit int, claimTimeout time.Duration) ([]*Event, error)

	// MarkPublished marks a claimed event delivered.
	MarkPublished(ctx context.Context, id string) error

	// MarkFailed records a failed delivery attempt. If the incremented
	// attempt count reaches maxAttempts the event is dead-lettered
	// (Status=dead); otherwise it goes back to pending with a backed-off
	// next_attempt_at.
	MarkFailed(ctx context.Context, id string, maxAttempts int, backoff time.Duration) error

	// ReapStuckClaims resets claimed events whose claim has been held past
	// claimTimeout back to pending, recovering from a relay worker that
	// claimed a batch and then crashed before publishing it.
	ReapStuckClaims(ctx context.Context, claimTimeout time.Duration) (int, error)
}
