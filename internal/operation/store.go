package operation

import "context"

// Store persists Operation rows. Like ledger.Store, it's an interface so
// the Pipeline, Worker Pool, and Janitor can be unit tested against
// MemoryStore instead of a live PostgreSQL instance.
type Store interface {
	// Create inserts a new pending Operation row.
	Create(ctx context.Context, op *Operation) error

	// Get returns the Operation by ID, or apperr.NotFound.
	Get(ctx context.Context, id string) (*Operation, error)

	// UpdateStatus transitions an operation's status, optionally recording
	// a result path (completed) or error message (failed).
	UpdateStatus(ctx context.Context, id string, status Status, resultPath, errMsg string) error

	// FindByFingerprint returns a non-terminal-or-completed operation for
	// the same asset+kind+parameters, if one exists, for the idempotency
	// check in spec.md §4.2 step 3. Returns nil, nil if none exists.
	FindByFingerprint(ctx context.Context, fingerprint string) (*Operation, error)

	// ExistsCompletedKind reports whether assetID already has a completed
	// operation of kind — used for the "reject repeat audio extraction"
	// semantic rule, distinct from the fingerprint idempotency check since
	// it applies regardless of parameters.
	ExistsCompletedKind(ctx context.Context, assetID string, kind Kind) (bool, error)

	// ListNonTerminal returns every pending or processing operation, used
	// by the Worker Pool's restore_on_start recovery path (spec.md §4.3).
	ListNonTerminal(ctx context.Context) ([]*Operation, error)

	// ListByUser returns a user's operations, most recent first, for the
	// admin CLI and REST/gRPC status endpoints.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Operation, error)

	// Cancel marks a non-terminal operation failed with reason, for
	// administrative cancellation (spec.md §5). Returns apperr.NotFound if
	// the operation doesn't exist, apperr.Conflict if it's already terminal.
	Cancel(ctx context.Context, id, reason string) error
}
