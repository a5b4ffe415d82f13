package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/kelpejol/reel/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert_DuplicateIdempotencyKeyIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &Event{
		OperationID: "op-1", IdempotencyKey: "op-1:job.queued", EventType: events.JobQueued,
	}))
	require.NoError(t, store.Insert(ctx, &Event{
		OperationID: "op-1", IdempotencyKey: "op-1:job.queued", EventType: events.JobQueued,
	}))

	assert.Len(t, store.events, 1, "a retried insert with the same idempotency key must not create a second row")
}

func TestClaimBatch_RespectsLimitAndDueTime(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &Event{OperationID: "op-1", IdempotencyKey: "k1", EventType: events.JobQueued}))
	require.NoError(t, store.Insert(ctx, &Event{OperationID: "op-2", IdempotencyKey: "k2", EventType: events.JobQueued}))
	require.NoError(t, store.Insert(ctx, &Event{OperationID: "op-3", IdempotencyKey: "k3", EventType: events.JobQueued}))
	store.events[store.byKey["k3"]].NextAttemptAt = time.Now().Add(time.Hour)

	claimed, err := store.ClaimBatch(ctx, 2, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 2, "only 2 of the 3 pending events are due, and the batch is capped at the limit anyway")
	for _, e := range claimed {
		assert.Equal(t, StatusClaimed, e.Status)
		assert.NotEqual(t, "op-3", e.OperationID, "an event scheduled in the future must not be claimed")
	}
}

func TestClaimBatch_DoesNotReclaimAlreadyClaimed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Event{OperationID: "op-1", IdempotencyKey: "k1", EventType: events.JobQueued}))

	first, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second, "a claimed-but-not-yet-published event must not be claimed again by a concurrent relay")
}

func TestMarkFailed_DeadLettersAtMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Event{OperationID: "op-1", IdempotencyKey: "k1", EventType: events.JobQueued}))
	claimed, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	id := claimed[0].ID

	require.NoError(t, store.MarkFailed(ctx, id, 2, time.Millisecond))
	assert.Equal(t, StatusPending, store.events[id].Status, "first failure with attempts remaining reschedules, doesn't dead-letter")

	claimed, err = store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 0, "the event is rescheduled into the future, not immediately due")

	store.events[id].NextAttemptAt = time.Now().Add(-time.Second)
	claimed, err = store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.MarkFailed(ctx, id, 2, time.Millisecond))
	assert.Equal(t, StatusDead, store.events[id].Status, "reaching max_attempts dead-letters the event")
}

func TestMarkPublished_ClearsClaim(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Event{OperationID: "op-1", IdempotencyKey: "k1", EventType: events.JobQueued}))
	claimed, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.MarkPublished(ctx, claimed[0].ID))
	assert.Equal(t, StatusPublished, store.events[claimed[0].ID].Status)
	assert.Nil(t, store.events[claimed[0].ID].ClaimedAt)
}

func TestReapStuckClaims_RestoresExpiredClaimsToPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &Event{OperationID: "op-1", IdempotencyKey: "k1", EventType: events.JobQueued}))
	claimed, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	stale := time.Now().Add(-time.Hour)
	store.events[claimed[0].ID].ClaimedAt = &stale

	n, err := store.ReapStuckClaims(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusPending, store.events[claimed[0].ID].Status)

	again, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, again, 1, "a reaped event becomes claimable again")
}
