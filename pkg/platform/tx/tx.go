// Package tx carries a SQL transaction through context so stores that share
// one logical mutation (token insert + audit append) commit or roll back as a
// unit without knowing about each other.
package tx

import (
	"context"
	"database/sql"
	"fmt"
)

type ctxKey struct{}
type hookKeyType struct{}

var (
	txKey   = ctxKey{}
	hookKey = hookKeyType{}
)

// hooks collects callbacks to run once the surrounding transaction commits.
type hooks struct {
	fns []func()
}

// With stores a SQL transaction in context for downstream store usage.
func With(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// AfterCommit schedules fn to run once the surrounding transaction commits.
// On rollback the callback is discarded. Outside a transaction there is
// nothing to wait for and fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(hookKey).(*hooks); ok {
		h.fns = append(h.fns, fn)
		return
	}
	fn()
}

// Runner begins a transaction, runs fn with the transaction in context, and
// commits or rolls back based on fn's error. A nil Runner (memory stores,
// tests) runs fn directly; memory stores are individually atomic.
type Runner struct {
	db *sql.DB
}

// NewRunner wraps a database handle for transactional execution.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// RunInTx executes fn inside a transaction. If a transaction is already in
// context the existing one is reused, so nested calls do not deadlock.
func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.db == nil {
		return fn(ctx)
	}
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	h := &hooks{}
	txCtx := context.WithValue(With(ctx, sqlTx), hookKey, h)
	if err := fn(txCtx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, fn := range h.fns {
		fn()
	}
	return nil
}
