// Package txn lets several independently-packaged stores (ledger, operation,
// outbox) share a single PostgreSQL transaction without importing each
// other. spec.md §4.2 step 4 requires the Operation Pipeline to reserve
// credits, insert the Operation row, and insert the queued Outbox event in
// ONE transaction; §4.3 step 3/4 requires the same for worker settlement.
// Each store's methods call txn.From(ctx, db) to get whichever Queryer is
// active — the shared *sql.Tx if the pipeline opened one, or db itself for
// a standalone call (e.g. the CLI crediting a user directly).
package txn

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting store code stay
// agnostic to whether it's inside a caller-managed transaction.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// From returns the transaction carried on ctx, or db if none is active.
func From(ctx context.Context, db *sql.DB) Queryer {
	if tx, ok := ctx.Value(ctxKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db
}

// TxFromContext exposes the raw *sql.Tx, if any, for callers that need to
// tell the two cases apart rather than just getting a Queryer (EnsureTx
// below uses it this way).
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Run opens a transaction, puts it on the context, runs fn, and commits on
// success or rolls back on error/panic. Call this from the Operation
// Pipeline and worker settlement paths to group several stores' writes
// atomically.
func Run(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txCtx := context.WithValue(ctx, ctxKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// EnsureTx runs fn inside whatever transaction ctx already carries, or
// opens a new one scoped to this call if ctx carries none. Store methods
// call this so they work both standalone and nested inside an outer
// txn.Run.
func EnsureTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return Run(ctx, db, fn)
}
