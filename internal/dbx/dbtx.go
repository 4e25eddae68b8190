// Package dbx provides tiny database/sql abstractions shared by repositories:
// a handle interface satisfied by both *sql.DB and *sql.Tx, a transaction
// helper and Postgres error classification.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of database/sql used by repositories.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. It commits when fn succeeds and rolls
// back on error or panic; panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
	pgDuplicateTable  = "42P07"
	pgInvalidSchema   = "3F000"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a primary key or unique index conflict.
func IsUniqueViolation(err error) bool { return pgCode(err) == pgUniqueViolation }

// IsUndefinedTable reports a missing table or schema.
func IsUndefinedTable(err error) bool {
	c := pgCode(err)
	return c == pgUndefinedTable || c == pgInvalidSchema
}

// IsDuplicateTable reports CREATE TABLE on an existing table.
func IsDuplicateTable(err error) bool { return pgCode(err) == pgDuplicateTable }

// Affected wraps an Exec result: driver errors become "db error", and a
// statement that touched no row yields notFound.
func Affected(res sql.Result, err error, notFound error) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
