// internal/store/store.go
// Package store persists records, actions, assignments and notification
// events in PostgreSQL. All queries run against a Querier so the same code
// serves both pooled connections and open transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"fps-workflow/internal/common/logger"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the handle passed into every component. Lifecycle is owned by
// the process entry point, never by individual components.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// DB exposes the pooled connection for reads outside a transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithinTx runs fn inside one transaction. Any error rolls back every
// write made by fn; partial application is never visible.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", map[string]interface{}{
				"error":         rbErr,
				"originalError": err,
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LockScope serializes concurrent reconciliations of the same
// (record, role) pair for the duration of the transaction. Different
// roles on the same record hash to different locks and proceed
// concurrently.
func LockScope(ctx context.Context, q Querier, recordCode, role string) error {
	_, err := q.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		recordCode+":"+role,
	)
	if err != nil {
		return fmt.Errorf("acquire scope lock: %w", err)
	}
	return nil
}
