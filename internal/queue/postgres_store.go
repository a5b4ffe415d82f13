package queue

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/txn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Enqueue(ctx context.Context, j *Job) error {
	q := txn.From(ctx, s.db)
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	j.Status = StatusQueued
	j.NextAttemptAt = j.EnqueuedAt
	_, err := q.ExecContext(ctx, `
		INSERT INTO queue_jobs
			(id, operation_id, priority, status, attempts, max_attempts, next_attempt_at, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $7)
	`, j.ID, j.OperationID, j.Priority, j.Status, j.MaxAttempts, j.NextAttemptAt, j.EnqueuedAt)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "insert job", err)
	}
	return nil
}

// priorityOrder is a SQL CASE expression ordering high < normal < low,
// matching Priority.rank so Claim prefers high priority then FIFO.
const priorityOrder = `CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 WHEN 'low' THEN 2 ELSE 1 END`

func (s *PostgresStore) Claim(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "begin claim tx", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, operation_id, priority, status, attempts, max_attempts, next_attempt_at, enqueued_at, updated_at
		FROM queue_jobs
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY `+priorityOrder+`, enqueued_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, StatusQueued, time.Now())

	j := &Job{}
	if err := row.Scan(&j.ID, &j.OperationID, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.NextAttemptAt, &j.EnqueuedAt, &j.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.TransientIO, "scan claimable job", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_jobs SET status = $1, claimed_by = $2, claimed_at = $3, updated_at = $3 WHERE id = $4
	`, StatusRunning, workerID, now, j.ID); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "mark job running", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "commit claim tx", err)
	}
	j.Status = StatusRunning
	j.ClaimedBy = workerID
	j.ClaimedAt = &now
	return j, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string) error {
	q := txn.From(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		UPDATE queue_jobs SET status = $1, updated_at = $2 WHERE id = $3
	`, StatusCompleted, time.Now(), id)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "mark job completed", err)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id string, retryable bool, backoff time.Duration) (bool, error) {
	q := txn.From(ctx, s.db)

	var attempts, maxAttempts int
	if err := q.QueryRowContext(ctx, `
		UPDATE queue_jobs SET attempts = attempts + 1 WHERE id = $1
		RETURNING attempts, max_attempts
	`, id).Scan(&attempts, &maxAttempts); err != nil {
		return false, apperr.Wrap(apperr.TransientIO, "increment job attempts", err)
	}

	if !retryable || attempts >= maxAttempts {
		if _, err := q.ExecContext(ctx, `
			UPDATE queue_jobs SET status = $1, updated_at = $2 WHERE id = $3
		`, StatusFailed, time.Now(), id); err != nil {
			return false, apperr.Wrap(apperr.TransientIO, "mark job failed", err)
		}
		return true, nil
	}

	delay := backoff * time.Duration(1<<uint(attempts))
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	next := time.Now().Add(delay + jitter)
	if _, err := q.ExecContext(ctx, `
		UPDATE queue_jobs SET status = $1, next_attempt_at = $2, updated_at = $3 WHERE id = $4
	`, StatusQueued, next, time.Now(), id); err != nil {
		return false, apperr.Wrap(apperr.TransientIO, "reschedule job", err)
	}
	return false, nil
}

func (s *PostgresStore) RestoreOnStart(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_id, priority, status, attempts, max_attempts, next_attempt_at, enqueued_at, updated_at
		FROM queue_jobs WHERE status = $1
	`, StatusRunning)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "query running jobs", err)
	}
	var recovered []*Job
	for rows.Next() {
		j := &Job{}
		if err := rows.Scan(&j.ID, &j.OperationID, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
			&j.NextAttemptAt, &j.EnqueuedAt, &j.UpdatedAt); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.TransientIO, "scan running job", err)
		}
		recovered = append(recovered, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "iterate running jobs", err)
	}

	for _, j := range recovered {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE queue_jobs SET status = $1, claimed_by = '', claimed_at = NULL, updated_at = $2
			WHERE id = $3
		`, StatusQueued, time.Now(), j.ID); err != nil {
			return nil, apperr.Wrap(apperr.TransientIO, "restore job", err)
		}
		j.Status = StatusQueued
	}
	return recovered, nil
}

func (s *PostgresStore) DepthByPriority(ctx context.Context) (map[Priority]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT priority, COUNT(*) FROM queue_jobs WHERE status = $1 GROUP BY priority
	`, StatusQueued)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "query queue depth", err)
	}
	defer rows.Close()
	depth := map[Priority]int{}
	for rows.Next() {
		var p Priority
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, apperr.Wrap(apperr.TransientIO, "scan queue depth", err)
		}
		depth[p] = n
	}
	return depth, rows.Err()
}
