package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
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

func (s *PostgresStore) Insert(ctx context.Context, e *Event) error {
	q := txn.From(ctx, s.db)
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal event payload", err)
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
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox_events
			(id, operation_id, idempotency_key, event_type, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, e.ID, e.OperationID, e.IdempotencyKey, e.EventType, payloadJSON, StatusPending, e.NextAttemptAt, e.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "insert outbox event", err)
	}
	return nil
}

func (s *PostgresStore) ClaimBatch(ctx context.Context, limit int, claimTimeout time.Duration) ([]*Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "begin claim tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, operation_id, idempotency_key, event_type, payload, status, attempts, next_attempt_at, created_at
		FROM outbox_events
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, StatusPending, time.Now(), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "query claimable events", err)
	}

	var claimed []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "iterate claimable events", err)
	}

	now := time.Now()
	for _, e := range claimed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE outbox_events SET status = $1, claimed_at = $2 WHERE id = $3
		`, StatusClaimed, now, e.ID); err != nil {
			return nil, apperr.Wrap(apperr.TransientIO, "mark event claimed", err)
		}
		e.Status = StatusClaimed
		e.ClaimedAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "commit claim tx", err)
	}
	return claimed, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1, claimed_at = NULL WHERE id = $2
	`, StatusPublished, id)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "mark event published", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, maxAttempts int, backoff time.Duration) error {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts
	`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("outbox event %s not found", id)
	}
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "increment attempts", err)
	}

	if attempts >= maxAttempts {
		_, err := s.db.ExecContext(ctx, `
			UPDATE outbox_events SET status = $1, claimed_at = NULL WHERE id = $2
		`, StatusDead, id)
		if err != nil {
			return apperr.Wrap(apperr.TransientIO, "dead-letter event", err)
		}
		return nil
	}

	delay := backoff * time.Duration(1<<uint(attempts))
	jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
	next := time.Now().Add(delay + jitter)

	_, err = s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1, next_attempt_at = $2, claimed_at = NULL WHERE id = $3
	`, StatusPending, next, id)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "reschedule event", err)
	}
	return nil
}

func (s *PostgresStore) ReapStuckClaims(ctx context.Context, claimTimeout time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1, claimed_at = NULL
		WHERE status = $2 AND claimed_at < $3
	`, StatusPending, StatusClaimed, time.Now().Add(-claimTimeout))
	if err != nil {
		return 0, apperr.Wrap(apperr.TransientIO, "reap stuck claims", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	e := &Event{}
	var payloadJSON []byte
	if err := rows.Scan(&e.ID, &e.OperationID, &e.IdempotencyKey, &e.EventType, &payloadJSON,
		&e.Status, &e.Attempts, &e.NextAttemptAt, &e.CreatedAt); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "scan outbox event", err)
	}
	if len(payloadJSON) > 0 {
		_ = json.Unmarshal(payloadJSON, &e.Payload)
	}
	return e, nil
}
