// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

// Package store implements the persistence core of the somnia service: a
// uniform connection contract over two interchangeable storage engines
// (embedded SQLite and client-server PostgreSQL), and the soft-delete
// repository layer built on top of it.
package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Querier is the subset of database/sql used by repositories. Both a live
// connection and an open transaction satisfy it, so repository helpers can
// run inside or outside a transaction without caring which. Single-row
// reads go through QueryContext; database/sql's row helper cannot carry
// [ErrNotConnected], so connections do not expose it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ExecResult reports the outcome of a write statement.
type ExecResult struct {
	// Changes is the number of rows affected by the statement.
	Changes int64
	// LastInsertID is the identifier assigned by an INSERT. Zero on the
	// client-server engine, whose driver does not report it; postgres
	// inserts use a RETURNING clause instead.
	LastInsertID int64
}

// Health is the result of a connection health probe.
type Health struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
	Version   string        `json:"version"`
}

// Connection is a handle to exactly one storage engine instance. Exactly one
// Connection is shared process-wide per logical database. Every data method
// fails with [ErrNotConnected] before Connect has succeeded; Close performs
// an orderly flush before releasing the underlying resource.
type Connection interface {
	Querier

	// Connect opens the underlying resource and applies engine-specific
	// tuning. Tuning failures are logged but non-fatal.
	Connect(ctx context.Context) error

	// Close flushes and releases the underlying resource.
	Close() error

	// Exec runs a write statement and reports affected rows and, on the
	// embedded engine, the last inserted identifier.
	Exec(ctx context.Context, query string, args ...any) (ExecResult, error)

	// BeginTx starts an explicit transaction. Prefer WithinTx; BeginTx
	// exists for callers that must control commit timing themselves.
	BeginTx(ctx context.Context) (*Tx, error)

	// WithinTx begins a transaction, invokes fn with a transactional
	// Querier, commits on normal return, and rolls back (rethrowing) on
	// any error or panic from fn. This is the only sanctioned way to
	// group multi-statement writes.
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error

	// TableExists reports whether the named table exists in the store.
	TableExists(ctx context.Context, name string) (bool, error)

	// HealthCheck probes the connection and reports latency and the
	// engine version string.
	HealthCheck(ctx context.Context) (Health, error)

	// Type returns the engine selector ("sqlite" or "postgres").
	Type() string

	// Placeholder returns the squirrel placeholder format matching the
	// engine's dialect.
	Placeholder() sq.PlaceholderFormat
}

// Tx is a child resource of a Connection: it never outlives it, and must be
// explicitly committed or rolled back.
type Tx struct {
	*sql.Tx
}
