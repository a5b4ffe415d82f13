package outbox

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for Event Relay unit tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*Event
	byKey  map[string]string // idempotency_key -> event id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: map[string]*Event{}, byKey: map[string]string{}}
}

func (s *MemoryStore) Insert(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[e.IdempotencyKey]; exists {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = e.CreatedAt
	}
	e.Status = StatusPending
	cp := *e
	s.events[e.ID] = &cp
	s.byKey[e.IdempotencyKey] = e.ID
	return nil
}

func (s *MemoryStore) ClaimBatch(ctx context.Context, limit int, claimTimeout time.Duration) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var claimed []*Event
	for _, e := range s.events {
		if len(claimed) >= limit {
			break
		}
		if e.Status != StatusPending || e.NextAttemptAt.After(now) {
			continue
		}
		e.Status = StatusClaimed
		claimedAt := now
		e.ClaimedAt = &claimedAt
		cp := *e
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkPublished(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		e.Status = StatusPublished
		e.ClaimedAt = nil
	}
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, maxAttempts int, backoff time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil
	}
	e.Attempts++
	if e.Attempts >= maxAttempts {
		e.Status = StatusDead
		e.ClaimedAt = nil
		return nil
	}
	delay := backoff * time.Duration(1<<uint(e.Attempts))
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	e.Status = StatusPending
	e.NextAttemptAt = time.Now().Add(delay + jitter)
	e.ClaimedAt = nil
	return nil
}

func (s *MemoryStore) ReapStuckClaims(ctx context.Context, claimTimeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-claimTimeout)
	n := 0
	for _, e := range s.events {
		if e.Status == StatusClaimed && e.ClaimedAt != nil && e.ClaimedAt.Before(cutoff) {
			e.Status = StatusPending
			e.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}
