package ledger

import (
	"context"
	"time"
)

// Store is the durable, transactional half of the ledger contract (spec.md
// §4.1). It is an interface so business-logic tests (pipeline, janitor) can
// run against an in-memory fake instead of a live PostgreSQL instance,
// resolving the gap the teacher's own balance_service_test.go flagged
// ("hard dependency on concrete Ledger struct makes unit testing hard").
type Store interface {
	// Reserve atomically checks balance >= amount and, if so, inserts a
	// negative reservation entry. Returns apperr.InsufficientFunds or
	// apperr.Conflict (already reserved) as typed errors on rejection.
	Reserve(ctx context.Context, userID, operationID string, amount int64, description string) (*ReserveResult, error)

	// Capture inserts a zero-value debit_capture entry terminating the
	// reservation for operationID. Returns apperr.NotFound if no
	// reservation exists, apperr.Conflict if already settled.
	Capture(ctx context.Context, operationID string) (*Entry, error)

	// Refund inserts a positive entry canceling the reservation for
	// operationID. Same not-found/already-settled semantics as Capture.
	Refund(ctx context.Context, operationID, reason string) (*Entry, error)

	// Credit inserts a positive addition entry unrelated to any operation.
	Credit(ctx context.Context, userID string, amount int64, description string) (*Entry, error)

	// Balance returns the snapshot-consistent sum of entries for userID.
	Balance(ctx context.Context, userID string) (int64, error)

	// ReservationEntry returns the reservation entry for operationID, or
	// apperr.NotFound. Used by the janitor to find the owning user and
	// reserved amount.
	ReservationEntry(ctx context.Context, operationID string) (*Entry, error)

	// IsSettled reports whether operationID already has a debit_capture or
	// refund entry.
	IsSettled(ctx context.Context, operationID string) (bool, error)

	// OrphanReservations returns reservation entries created before
	// olderThan that have no matching debit_capture or refund entry yet.
	// Used by the Reservation Janitor (spec.md §4.5).
	OrphanReservations(ctx context.Context, olderThan time.Time) ([]*Entry, error)
}
