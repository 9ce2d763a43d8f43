// Package db provides repository operations for the sync data models.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dbtx is the subset of *sql.DB and *sql.Tx the repository queries through.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository provides persistence for mirror records, queue items,
// conflicts, sync state and credentials.
//
// A Repository obtained inside WithTx routes every query through the
// transaction; the root Repository queries the pool directly.
type Repository struct {
	db *sql.DB
	q  dbtx
	tx *sql.Tx
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// DB returns the underlying connection pool.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// InTx reports whether the repository is bound to a transaction.
func (r *Repository) InTx() bool {
	return r.tx != nil
}

// WithTx runs fn inside a single transaction. fn receives a Repository bound
// to that transaction. If fn returns an error the transaction is rolled back.
// Calling WithTx on a repository that is already in a transaction reuses it.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &Repository{db: r.db, q: tx, tx: tx}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// toMillis converts t to unix milliseconds, the storage unit for timestamps.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, '?')
	}
	return string(buf)
}
