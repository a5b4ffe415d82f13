package ledger

import "time"

// EntryType is the append-only ledger entry discriminator (spec.md §3).
type EntryType string

const (
	TypeReservation   EntryType = "reservation"
	TypeDebitCapture  EntryType = "debit_capture"
	TypeRefund        EntryType = "refund"
	TypeAddition      EntryType = "addition"
	TypeAdjustment    EntryType = "adjustment"
)

// Entry is one append-only ledger row. Entries are never mutated.
type Entry struct {
	ID          string
	UserID      string
	OperationID string // empty for additions/adjustments with no associated operation
	Amount      int64  // signed; reservations are negative, captures are zero, refunds/additions positive
	Type        EntryType
	Description string
	CreatedAt   time.Time
}

// ReserveResult is returned by Store.Reserve.
type ReserveResult struct {
	Entry   *Entry
	Balance int64 // balance after the reservation is applied
}
