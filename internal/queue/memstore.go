package queue

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for Worker Pool unit tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*Job{}}
}

func (s *MemoryStore) Enqueue(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	j.Status = StatusQueued
	j.NextAttemptAt = j.EnqueuedAt
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, workerID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*Job
	for _, j := range s.jobs {
		if j.Status == StatusQueued && !j.NextAttemptAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority.rank() != candidates[k].Priority.rank() {
			return candidates[i].Priority.rank() < candidates[k].Priority.rank()
		}
		return candidates[i].EnqueuedAt.Before(candidates[k].EnqueuedAt)
	})

	j := candidates[0]
	j.Status = StatusRunning
	j.ClaimedBy = workerID
	claimedAt := now
	j.ClaimedAt = &claimedAt
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = StatusCompleted
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id string, retryable bool, backoff time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	j.Attempts++
	if !retryable || j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		j.UpdatedAt = time.Now()
		return true, nil
	}
	delay := backoff * time.Duration(1<<uint(j.Attempts))
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	j.Status = StatusQueued
	j.NextAttemptAt = time.Now().Add(delay + jitter)
	j.UpdatedAt = time.Now()
	return false, nil
}

func (s *MemoryStore) RestoreOnStart(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recovered []*Job
	for _, j := range s.jobs {
		if j.Status == StatusRunning {
			j.Status = StatusQueued
			j.ClaimedBy = ""
			j.ClaimedAt = nil
			j.UpdatedAt = time.Now()
			cp := *j
			recovered = append(recovered, &cp)
		}
	}
	return recovered, nil
}

func (s *MemoryStore) DepthByPriority(ctx context.Context) (map[Priority]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := map[Priority]int{}
	for _, j := range s.jobs {
		if j.Status == StatusQueued {
			depth[j.Priority]++
		}
	}
	return depth, nil
}
