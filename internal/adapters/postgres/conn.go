// Package postgres adapts every SQL-backed store interface in
// internal/ledger, internal/msm, internal/saga, internal/locks, and
// internal/recovery to a real Postgres schema, grounded on the teacher's
// transaction.postgresql.go (squirrel query builder, tracer spans per
// call, rowsAffected-based not-found detection).
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/hustlexp/moneycore/pkg/mlog"
	"github.com/hustlexp/moneycore/pkg/mpostgres"
)

// dbTx is the subset of dbresolver.DB this package needs beyond execer:
// the ability to start a transaction against the primary.
type dbTx interface {
	execer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// execer is satisfied by both *sql.DB (via dbresolver) and *sql.Tx, so
// every repository method can run either standalone or inside the
// saga orchestrator's RunInTx without caring which.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx attaches tx to ctx; every repository in this package prefers the
// ctx-scoped tx over the pool when present.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Store is the shared handle every repository in this package embeds.
type Store struct {
	Conn   *mpostgres.Connection
	Logger mlog.Logger
	Tracer trace.Tracer
}

func (s *Store) db(ctx context.Context) (execer, error) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx, nil
	}

	resolver, err := s.Conn.GetDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: get connection: %w", err)
	}

	// dbresolver.DB satisfies execer directly; reads may be routed to a
	// replica by the resolver itself, writes always go to the primary.
	return resolver, nil
}

// TxRunner implements saga.TxRunner against the primary connection pool.
type TxRunner struct {
	Conn *mpostgres.Connection
}

// RunInTx opens a serializable transaction (spec.md §5 "strictest
// available isolation ... for ledger-mutating paths"), stashes it in ctx,
// and commits on success or rolls back on any error or panic.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	resolver, err := r.Conn.GetDB(ctx)
	if err != nil {
		return fmt.Errorf("postgres: get connection: %w", err)
	}

	db, ok := resolver.(dbTx)
	if !ok {
		return fmt.Errorf("postgres: connection does not support BeginTx")
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("postgres: rollback after %w: %v", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}

	return nil
}
