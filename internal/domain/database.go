package domain

import (
	"context"
	"database/sql"
)

type DumpMethod string

const (
	DumpPrimary  DumpMethod = "primary"
	DumpFallback DumpMethod = "fallback"
)

type DumpResult struct {
	Method       DumpMethod `json:"method_used"`
	Warnings     []string   `json:"warnings,omitempty"`
	PrimaryError string     `json:"primary_error,omitempty"`
}

// DatabaseDumper writes a complete logical dump of the source database to
// destination.
type DatabaseDumper interface {
	Dump(ctx context.Context, destination string, sink ProgressSink) (DumpResult, error)
}

// StatementExecutor runs one SQL statement against the live database.
// *sql.DB satisfies it.
type StatementExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StatementSession is a single connection, so session settings made by one
// statement apply to the next. *sql.Conn satisfies it.
type StatementSession interface {
	StatementExecutor
	Close() error
}
