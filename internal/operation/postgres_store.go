package operation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kelpejol/reel/internal/apperr"
	"github.com/kelpejol/reel/internal/txn"
)

// PostgresStore is the durable Store implementation. Its mutating methods
// honor a shared transaction carried on ctx (internal/txn), letting the
// Pipeline insert the Operation row atomically alongside the Ledger
// reservation and the Outbox event (spec.md §4.2 step 4).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Create(ctx context.Context, op *Operation) error {
	q := txn.From(ctx, s.db)
	paramsJSON, err := json.Marshal(op.Parameters)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal parameters", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO operations
			(id, asset_id, user_id, kind, status, parameters, fingerprint, cost, result_path, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', '', $9, $9)
	`, op.ID, op.AssetID, op.UserID, op.Kind, op.Status, paramsJSON, op.Fingerprint, op.Cost, op.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "insert operation", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Operation, error) {
	return s.scanOne(ctx, `
		SELECT id, asset_id, user_id, kind, status, parameters, fingerprint, cost, result_path, error_message, created_at, updated_at
		FROM operations WHERE id = $1
	`, id)
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...interface{}) (*Operation, error) {
	q := txn.From(ctx, s.db)
	op := &Operation{}
	var paramsJSON []byte
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&op.ID, &op.AssetID, &op.UserID, &op.Kind, &op.Status, &paramsJSON,
		&op.Fingerprint, &op.Cost, &op.ResultPath, &op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("operation not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "query operation", err)
	}
	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &op.Parameters)
	}
	return op, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, resultPath, errMsg string) error {
	q := txn.From(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE operations SET status = $1, result_path = $2, error_message = $3, updated_at = $4
		WHERE id = $5
	`, status, resultPath, errMsg, time.Now(), id)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "update operation status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFoundf("operation %s not found", id)
	}
	return nil
}

func (s *PostgresStore) Cancel(ctx context.Context, id, reason string) error {
	q := txn.From(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE operations SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status NOT IN ($5, $6)
	`, StatusFailed, reason, time.Now(), id, StatusCompleted, StatusFailed)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, "cancel operation", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}
	op, getErr := s.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return apperr.New(apperr.Conflict, fmt.Sprintf("operation %s already %s", id, op.Status))
}

func (s *PostgresStore) FindByFingerprint(ctx context.Context, fingerprint string) (*Operation, error) {
	q := txn.From(ctx, s.db)
	op, err := s.scanOneWithQueryer(ctx, q, `
		SELECT id, asset_id, user_id, kind, status, parameters, fingerprint, cost, result_path, error_message, created_at, updated_at
		FROM operations WHERE fingerprint = $1
		ORDER BY created_at DESC LIMIT 1
	`, fingerprint)
	if apperr.Is(err, apperr.NotFound) {
		return nil, nil
	}
	return op, err
}

func (s *PostgresStore) scanOneWithQueryer(ctx context.Context, q txn.Queryer, query string, args ...interface{}) (*Operation, error) {
	op := &Operation{}
	var paramsJSON []byte
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&op.ID, &op.AssetID, &op.UserID, &op.Kind, &op.Status, &paramsJSON,
		&op.Fingerprint, &op.Cost, &op.ResultPath, &op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("operation not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "query operation", err)
	}
	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &op.Parameters)
	}
	return op, nil
}

func (s *PostgresStore) ExistsCompletedKind(ctx context.Context, assetID string, kind Kind) (bool, error) {
	q := txn.From(ctx, s.db)
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operations WHERE asset_id = $1 AND kind = $2 AND status = $3
	`, assetID, kind, StatusCompleted).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientIO, "check completed kind", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) ListNonTerminal(ctx context.Context) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_id, user_id, kind, status, parameters, fingerprint, cost, result_path, error_message, created_at, updated_at
		FROM operations WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`, StatusPending, StatusProcessing)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "list non-terminal operations", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_id, user_id, kind, status, parameters, fingerprint, cost, result_path, error_message, created_at, updated_at
		FROM operations WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, "list user operations", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

func (s *PostgresStore) scanAll(rows *sql.Rows) ([]*Operation, error) {
	var out []*Operation
	for rows.Next() {
		op := &Operation{}
		var paramsJSON []byte
		if err := rows.Scan(
			&op.ID, &op.AssetID, &op.UserID, &op.Kind, &op.Status, &paramsJSON,
			&op.Fingerprint, &op.Cost, &op.ResultPath, &op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(apperr.TransientIO, "scan operation", err)
		}
		if len(paramsJSON) > 0 {
			_ = json.Unmarshal(paramsJSON, &op.Parameters)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
