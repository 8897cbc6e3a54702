// Package storetest provides a store.Connection backed by an arbitrary
// *sql.DB, so tests outside the store package can drive repositories and
// services against a sqlmock handle.
package storetest

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/store"
)

// Conn implements store.Connection over a caller-supplied database handle.
type Conn struct {
	db     *sql.DB
	engine string
}

// New wraps db as a connection reporting the given engine ("sqlite" or
// "postgres"); the engine choice drives the placeholder dialect.
func New(db *sql.DB, engine string) *Conn {
	return &Conn{db: db, engine: engine}
}

func (c *Conn) Connect(ctx context.Context) error { return nil }
func (c *Conn) Close() error                      { return c.db.Close() }

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (store.ExecResult, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return store.ExecResult{}, err
	}
	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return store.ExecResult{Changes: changes, LastInsertID: lastID}, nil
}

func (c *Conn) BeginTx(ctx context.Context) (*store.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &store.Tx{Tx: tx}, nil
}

func (c *Conn) WithinTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *Conn) TableExists(ctx context.Context, name string) (bool, error) { return true, nil }

func (c *Conn) HealthCheck(ctx context.Context) (store.Health, error) {
	start := time.Now()
	err := c.db.PingContext(ctx)
	return store.Health{Connected: err == nil, Latency: time.Since(start)}, err
}

func (c *Conn) Type() string { return c.engine }

func (c *Conn) Placeholder() sq.PlaceholderFormat {
	if c.engine == config.EnginePostgres {
		return sq.Dollar
	}
	return sq.Question
}
