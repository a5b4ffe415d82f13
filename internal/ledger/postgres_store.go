package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/txn"
	"github.com/lib/pq"
)

// pgUniqueViolation is the lib/pq error code for a unique constraint
// violation, used to translate the partial-unique-index races spec.md §6
// asks for ("at most one reservation/capture/refund row per operation_id")
// into typed Conflict errors instead of leaking raw SQL errors.
const pgUniqueViolation = "23505"

// PostgresStore is the durable, source-of-truth implementation of Store.
// Every mutation runs inside a transaction holding a per-user PostgreSQL
// advisory lock (pg_advisory_xact_lock(hashtext(user_id))), which serializes
// concurrent reserve/capture/refund/credit calls for the same user without
// needing a separate mutable balance column — balance stays strictly
// "sum of entries", matching spec.md §3's invariant.
//
// Methods take a context that may already carry a shared transaction (see
// internal/txn) — the Operation Pipeline reserves credits, inserts the
// Operation row, and inserts the outbox event in one such transaction per
// spec.md §4.2 step 4. Called standalone (e.g. the admin CLI crediting a
// user), each method opens and commits its own transaction instead.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) lockUser(ctx context.Context, q txn.Queryer, userID string) error {
	_, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}

func (s *PostgresStore) sumEntries(ctx context.Context, q txn.Queryer, userID string) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1
	`, userID).Scan(&sum)
	return sum, err
}

func (s *PostgresStore) Reserve(ctx context.Context, userID, operationID string, amount int64, description string) (*ReserveResult, error) {
	var result *ReserveResult
	err := txn.EnsureTx(ctx, s.db, func(ctx context.Context) error {
		q := txn.From(ctx, s.db)

		if err := s.lockUser(ctx, q, userID); err != nil {
			return apperr.Wrap(apperr.TransientIO, "lock user", err)
		}

		balance, err := s.sumEntries(ctx, q, userID)
		if err != nil {
			return apperr.Wrap(apperr.TransientIO, "sum entries", err)
		}
		if balance < amount {
			return apperr.New(apperr.InsufficientFunds, "balance below reservation amount")
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

		_, err = q.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, user_id, operation_id, amount, type, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.ID, entry.UserID, entry.OperationID, entry.Amount, entry.Type, entry.Description, entry.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.Conflict, "already reserved")
			}
			return apperr.Wrap(apperr.TransientIO, "insert reservation", err)
		}

		result = &ReserveResult{Entry: entry, Balance: balance - amount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) settle(ctx context.Context, operationID string, entryType EntryType, amountFn func(reservationAmount int64) int64, description string) (*Entry, error) {
	var result *Entry
	err := txn.EnsureTx(ctx, s.db, func(ctx context.Context) error {
		q := txn.From(ctx, s.db)

		var userID string
		var reservedAmount int64
		err := q.QueryRowContext(ctx, `
			SELECT user_id, amount FROM ledger_entries
			WHERE operation_id = $1 AND type = $2
		`, operationID, TypeReservation).Scan(&userID, &reservedAmount)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFoundf("no reservation for operation %s", operationID)
		}
		if err != nil {
			return apperr.Wrap(apperr.TransientIO, "lookup reservation", err)
		}

		if err := s.lockUser(ctx, q, userID); err != nil {
			return apperr.Wrap(apperr.TransientIO, "lock user", err)
		}

		var settledCount int
		err = q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM ledger_entries
			WHERE operation_id = $1 AND type IN ($2, $3)
		`, operationID, TypeDebitCapture, TypeRefund).Scan(&settledCount)
		if err != nil {
			return apperr.Wrap(apperr.TransientIO, "check settled", err)
		}
		if settledCount > 0 {
			return apperr.New(apperr.Conflict, "already settled")
		}

		entry := &Entry{
			ID:          uuid.New().String(),
			UserID:      userID,
			OperationID: operationID,
			Amount:      amountFn(reservedAmount),
			Type:        entryType,
			Description: description,
			CreatedAt:   time.Now(),
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, user_id, operation_id, amount, type, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.ID, entry.UserID, entry.OperationID, entry.Amount, entry.Type, entry.Description, entry.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.Conflict, "already settled")
			}
			return apperr.Wrap(apperr.TransientIO, fmt.Sprintf("insert %s", entryType), err)
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Capture(ctx context.Context, operationID string) (*Entry, error) {
	return s.settle(ctx, operationID, TypeDebitCapture, func(int64) int64 { return 0 }, "capture")
}

func (s *PostgresStore) Refund(ctx context.Context, operationID, reason string) (*Entry, error) {
	return s.settle(ctx, operationID, TypeRefund, func(reserved int64) int64 { return -reserved }, reason)
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int64, description string) (*Entry, error) {
	var result *Entry
	err := txn.EnsureTx(ctx, s.db, func(ctx context.Context) error {
		q := txn.From(ctx, s.db)

		if err := s.lockUser(ctx, q, userID); err != nil {
			return apperr.Wrap(apperr.TransientIO, "lock user", err)
		}

		entry := &Entry{
			ID:          uuid.New().String(),
			UserID:      userID,
			Amount:      amount,
			Type:        TypeAddition,
			Description: description,
			CreatedAt:   time.Now(),
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, user_id, operation_id, amount, type, description, created_at)
			VALUES ($1, $2, NULL, $3, $4, $5, $6)
		`, entry.ID, entry.UserID, entry.Amount, entry.Type, entry.Description, entry.CreatedAt)
		if err != nil {
			return apperr.Wrap(apperr.TransientIO, "insert addition", err)
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	sum, err := s.sumEntries(ctx, txn.From(ctx, s.db), userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.TransientIO, "sum entries", err)
	}
	return sum, nil
}

func (s *PostgresStore) ReservationEntry(ctx context.Context, operationID string) (*Entry, error) {
	q := txn.From(ctx, s.db)
	e := &Entry{OperationID: operationID, Type: TypeReservation}
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, amount, description, created_at FROM ledger_entries
		WHERE operation_id = $1 AND type = $2
	`, operationID, TypeReservation).Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("no reservation for operation %s", operationID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "lookup reservation", err)
	}
	return e, nil
}

func (s *PostgresStore) IsSettled(ctx context.Context, operationID string) (bool, error) {
	q := txn.From(ctx, s.db)
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE operation_id = $1 AND type IN ($2, $3)
	`, operationID, TypeDebitCapture, TypeRefund).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientIO, "check settled", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) OrphanReservations(ctx context.Context, olderThan time.Time) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.operation_id, r.amount, r.description, r.created_at
		FROM ledger_entries r
		WHERE r.type = $1
		  AND r.created_at < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM ledger_entries s
		      WHERE s.operation_id = r.operation_id
		        AND s.type IN ($3, $4)
		  )
		ORDER BY r.created_at ASC
	`, TypeReservation, olderThan, TypeDebitCapture, TypeRefund)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "query orphans", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{Type: TypeReservation}
		if err := rows.Scan(&e.ID, &e.UserID, &e.OperationID, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.TransientIO, "scan orphan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}
