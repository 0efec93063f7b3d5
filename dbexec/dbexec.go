// Package dbexec runs compiled statements against a MySQL-compatible
// database and hands back the JSON document each one produces.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier abstracts read-only statement execution. Document statements
// never write, so this is the whole database surface the executor
// needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardQuerier executes queries directly against a database handle.
type StandardQuerier struct {
	db *sql.DB
}

// NewStandardQuerier creates a querier that runs statements directly
// against the database.
func NewStandardQuerier(db *sql.DB) *StandardQuerier {
	return &StandardQuerier{db: db}
}

func (q *StandardQuerier) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if q.db == nil {
		return nil, sql.ErrConnDone
	}
	return q.db.QueryContext(ctx, query, args...)
}
