package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaim_OrdersByPriorityThenFIFO(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, &Job{ID: "normal-1", Priority: PriorityNormal, MaxAttempts: 3}))
	time.Sleep(time.Millisecond)
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "low-1", Priority: PriorityLow, MaxAttempts: 3}))
	time.Sleep(time.Millisecond)
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "high-1", Priority: PriorityHigh, MaxAttempts: 3}))
	time.Sleep(time.Millisecond)
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "normal-2", Priority: PriorityNormal, MaxAttempts: 3}))

	first, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "high-1", first.ID, "high priority must be claimed before anything enqueued earlier")

	second, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "normal-1", second.ID, "within a priority, FIFO order applies")

	third, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "normal-2", third.ID)

	fourth, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "low-1", fourth.ID)
}

func TestClaim_SkipsNotYetDueJobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, &Job{ID: "future", Priority: PriorityHigh, MaxAttempts: 3}))
	store.jobs["future"].NextAttemptAt = time.Now().Add(time.Hour)

	job, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job, "a job scheduled in the future must not be claimable yet")
}

func TestClaim_MarksRunningUnderWorker(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Priority: PriorityNormal, MaxAttempts: 3}))

	job, err := store.Claim(ctx, "worker-7")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, "worker-7", job.ClaimedBy)
	assert.NotNil(t, job.ClaimedAt)

	again, err := store.Claim(ctx, "worker-8")
	require.NoError(t, err)
	assert.Nil(t, again, "a running job must not be claimable by a second worker")
}

func TestFail_RetriesWithBackoffUntilMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Priority: PriorityNormal, MaxAttempts: 2}))
	_, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)

	terminal, err := store.Fail(ctx, "j1", true, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, terminal, "first failure with attempts remaining must be retried, not terminal")
	assert.Equal(t, StatusQueued, store.jobs["j1"].Status)
	assert.True(t, store.jobs["j1"].NextAttemptAt.After(time.Now()), "a retried job is rescheduled into the future")

	_, err = store.Claim(ctx, "worker-1")
	require.NoError(t, err) // may be nil if NextAttemptAt hasn't elapsed; attempts already incremented either way

	terminal, err = store.Fail(ctx, "j1", true, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, terminal, "attempts reaching max_attempts must terminate the job")
	assert.Equal(t, StatusFailed, store.jobs["j1"].Status)
}

func TestFail_NonRetryableIsImmediatelyTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Priority: PriorityNormal, MaxAttempts: 5}))
	_, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)

	terminal, err := store.Fail(ctx, "j1", false, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, terminal, "a permanent failure is terminal regardless of attempts remaining")
	assert.Equal(t, StatusFailed, store.jobs["j1"].Status)
}

func TestRestoreOnStart_RequeuesRunningJobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Priority: PriorityNormal, MaxAttempts: 3}))
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j2", Priority: PriorityNormal, MaxAttempts: 3}))
	_, err := store.Claim(ctx, "worker-that-crashed")
	require.NoError(t, err)

	recovered, err := store.RestoreOnStart(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, StatusQueued, recovered[0].Status)
	assert.Equal(t, "", recovered[0].ClaimedBy)

	again, err := store.RestoreOnStart(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "restore_on_start must be idempotent: nothing left running on a second call")
}

func TestDepthByPriority_CountsOnlyQueued(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Priority: PriorityHigh, MaxAttempts: 3}))
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j2", Priority: PriorityHigh, MaxAttempts: 3}))
	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j3", Priority: PriorityNormal, MaxAttempts: 3}))
	_, err := store.Claim(ctx, "worker-1") // pulls one high job out of "queued"
	require.NoError(t, err)

	depth, err := store.DepthByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth[PriorityHigh])
	assert.Equal(t, 1, depth[PriorityNormal])
}
