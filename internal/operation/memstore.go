package operation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kelpejol/reel/internal/apperr"
)

// MemoryStore is an in-process Store for unit tests (Pipeline, Worker Pool,
// Janitor), avoiding a live PostgreSQL instance.
type MemoryStore struct {
	mu  sync.Mutex
	ops map[string]*Operation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: map[string]*Operation{}}
}

func (s *MemoryStore) Create(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ops[op.ID]; exists {
		return apperr.New(apperr.Conflict, "operation already exists")
	}
	cp := *op
	s.ops[op.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, apperr.NotFoundf("operation %s not found", id)
	}
	cp := *op
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, resultPath, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return apperr.NotFoundf("operation %s not found", id)
	}
	op.Status = status
	op.ResultPath = resultPath
	op.ErrorMessage = errMsg
	op.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return apperr.NotFoundf("operation %s not found", id)
	}
	if op.IsTerminal() {
		return apperr.New(apperr.Conflict, "operation already terminal")
	}
	op.Status = StatusFailed
	op.ErrorMessage = reason
	op.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FindByFingerprint(ctx context.Context, fingerprint string) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Operation
	for _, op := range s.ops {
		if op.Fingerprint != fingerprint {
			continue
		}
		if best == nil || op.CreatedAt.After(best.CreatedAt) {
			best = op
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) ExistsCompletedKind(ctx context.Context, assetID string, kind Kind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.ops {
		if op.AssetID == assetID && op.Kind == kind && op.Status == StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListNonTerminal(ctx context.Context) ([]*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Operation
	for _, op := range s.ops {
		if op.Status == StatusPending || op.Status == StatusProcessing {
			cp := *op
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*Operation
	for _, op := range s.ops {
		if op.UserID == userID {
			cp := *op
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
