package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the narrow query surface the services need. *pgxpool.Pool
// satisfies it; tests substitute mocks.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB adds transactions for the multi-table commits: a provisioned key
// lands its client row, memberships and audit event atomically.
type TxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}
