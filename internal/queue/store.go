package queue

import (
	"context"
	"time"
)

// Store persists Job rows backing the Worker Pool.
type Store interface {
	// Enqueue inserts a new queued job, using the transaction carried on ctx
	// (internal/txn) when there is one. The Operation Pipeline calls it after
	// its reservation/Operation/Outbox transaction has committed.
	Enqueue(ctx context.Context, j *Job) error

	// Claim atomically claims the oldest due job with the highest priority
	// (high before normal before low, then FIFO within a priority),
	// marking it Status=running under workerID. Returns nil, nil if no job
	// is claimable right now.
	Claim(ctx context.Context, workerID string) (*Job, error)

	// Complete marks a job's terminal success.
	Complete(ctx context.Context, id string) error

	// Fail records a failed attempt. If retryable and attempts remain
	// under MaxAttempts, the job is rescheduled with exponential backoff
	// and jitter and terminal is false. Otherwise the job is marked
	// Status=failed (terminal) for good.
	Fail(ctx context.Context, id string, retryable bool, backoff time.Duration) (terminal bool, err error)

	// RestoreOnStart resets every job left Status=running (a worker died
	// mid-processing before a restart) back to queued, and returns them so
	// the caller can log what was recovered. Called once at startup.
	RestoreOnStart(ctx context.Context) ([]*Job, error)

	// DepthByPriority returns the count of queued jobs per priority, used
	// for the queue_depth gauge and the admin CLI's "queue stats" command.
	DepthByPriority(ctx context.Context) (map[Priority]int, error)
}
