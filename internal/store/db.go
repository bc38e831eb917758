package store

import (
	"context"
	"database/sql"
)

// DBTX abstracts the database handle used by the snapshot and cursor
// stores. Both *sql.DB and *sql.Tx satisfy it, so single-statement stores
// can run standalone or join a caller's transaction. The event store is
// not written against DBTX: an append spans several statements under an
// advisory lock, so it owns its transactions and takes *sql.DB directly.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)
