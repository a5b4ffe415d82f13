package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kelpejol/reel/internal/apperr"
)

// MemoryStore is an in-process Store used by unit tests across the pipeline,
// worker, and janitor packages, avoiding the "can't test without a live DB"
// problem the teacher's balance_service_test.go left as a TODO.
type MemoryStore struct {
	mu      sync.Mutex
	entries []*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) balanceLocked(userID string) int64 {
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum
}

func (m *MemoryStore) Reserve(ctx context.Context, userID, operationID string, amount int64, description string) (*ReserveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.OperationID == operationID && e.Type == TypeReservation {
			return nil, apperr.New(apperr.Conflict, "already reserved")
		}
	}

	balance := m.balanceLocked(userID)
	if balance < amount {
		return nil, apperr.New(apperr.InsufficientFunds, "insufficient funds")
	}

	entry := &Entry{
		ID:          uuid.New().String(),
		UserID:      userID,
		OperationID: operationID,
		Amount:      -amount,
		Type:        TypeReservation,
		Description: description,
		CreatedAt:   time.Now(),
	}
	m.entries = append(m.entries, entry)
	return &ReserveResult{Entry: entry, Balance: balance - amount}, nil
}

func (m *MemoryStore) findReservationLocked(operationID string) *Entry {
	for _, e := range m.entries {
		if e.OperationID == operationID && e.Type == TypeReservation {
			return e
		}
	}
	return nil
}

func (m *MemoryStore) settledLocked(operationID string) bool {
	for _, e := range m.entries {
		if e.OperationID == operationID && (e.Type == TypeDebitCapture || e.Type == TypeRefund) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) Capture(ctx context.Context, operationID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reservation := m.findReservationLocked(operationID)
	if reservation == nil {
		return nil, apperr.NotFoundf("no reservation for operation %s", operationID)
	}
	if m.settledLocked(operationID) {
		return nil, apperr.New(apperr.Conflict, "already settled")
	}

	entry := &Entry{
		ID:          uuid.New().String(),
		UserID:      reservation.UserID,
		OperationID: operationID,
		Amount:      0,
		Type:        TypeDebitCapture,
		Description: "capture",
		CreatedAt:   time.Now(),
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *MemoryStore) Refund(ctx context.Context, operationID, reason string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reservation := m.findReservationLocked(operationID)
	if reservation == nil {
		return nil, apperr.NotFoundf("no reservation for operation %s", operationID)
	}
	if m.settledLocked(operationID) {
		return nil, apperr.New(apperr.Conflict, "already settled")
	}

	entry := &Entry{
		ID:          uuid.New().String(),
		UserID:      reservation.UserID,
		OperationID: operationID,
		Amount:      -reservation.Amount, // cancels the negative reservation
		Type:        TypeRefund,
		Description: reason,
		CreatedAt:   time.Now(),
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *MemoryStore) Credit(ctx context.Context, userID string, amount int64, description string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &Entry{
		ID:          uuid.New().String(),
		UserID:      userID,
		Amount:      amount,
		Type:        TypeAddition,
		Description: description,
		CreatedAt:   time.Now(),
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *MemoryStore) Balance(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(userID), nil
}

func (m *MemoryStore) ReservationEntry(ctx context.Context, operationID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findReservationLocked(operationID)
	if e == nil {
		return nil, apperr.NotFoundf("no reservation for operation %s", operationID)
	}
	return e, nil
}

func (m *MemoryStore) IsSettled(ctx context.Context, operationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settledLocked(operationID), nil
}

func (m *MemoryStore) OrphanReservations(ctx context.Context, olderThan time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.Type != TypeReservation {
			continue
		}
		if !e.CreatedAt.Before(olderThan) {
			continue
		}
		if m.settledLocked(e.OperationID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
