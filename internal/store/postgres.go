package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
)

// PostgresConnection is the client-server implementation of [Connection].
// Concurrency is handled by the driver's connection pool; TLS and other
// session options travel in the DSN.
type PostgresConnection struct {
	cfg    config.DB
	logger *logger.Logger
	db     *sql.DB
}

// NewPostgresConnection constructs an unconnected client-server connection.
func NewPostgresConnection(cfg config.DB, log *logger.Logger) *PostgresConnection {
	return &PostgresConnection{cfg: cfg, logger: log}
}

// Connect opens the pool against the configured DSN and pings the server.
func (c *PostgresConnection) Connect(ctx context.Context) error {
	conn, err := sql.Open("pgx", c.cfg.DSN)
	if err != nil {
		c.logger.Err(err).Str("func", "PostgresConnection.Connect").Msg("error occured during database connection")
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// setup connections
	conn.SetMaxOpenConns(c.cfg.MaxOpenConns)
	conn.SetMaxIdleConns(c.cfg.MaxOpenConns / 2)
	conn.SetConnMaxLifetime(30 * time.Minute)

	// ping database
	if err = conn.PingContext(ctx); err != nil {
		c.logger.Err(err).Str("func", "PostgresConnection.Connect").Msg("error connecting database (ping)")
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.db = conn
	c.logger.Info().Str("func", "PostgresConnection.Connect").Msg("connected to database successfully")

	return nil
}

// Close drains the pool.
func (c *PostgresConnection) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *PostgresConnection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db.ExecContext(ctx, query, args...)
}

func (c *PostgresConnection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db.QueryContext(ctx, query, args...)
}

// Exec runs a write statement. LastInsertID is always zero on this engine;
// inserts that need the identifier use a RETURNING clause.
func (c *PostgresConnection) Exec(ctx context.Context, query string, args ...any) (ExecResult, error) {
	if c.db == nil {
		return ExecResult{}, ErrNotConnected
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ExecResult{}, err
	}

	changes, _ := res.RowsAffected()
	return ExecResult{Changes: changes}, nil
}

// BeginTx starts an explicit transaction.
func (c *PostgresConnection) BeginTx(ctx context.Context) (*Tx, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeginningTransaction, err)
	}
	return &Tx{tx}, nil
}

// WithinTx implements the auto commit/rollback wrapper on the client-server engine.
func (c *PostgresConnection) WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if c.db == nil {
		return ErrNotConnected
	}
	return withinTx(ctx, c.db, fn)
}

// TableExists consults the information schema for the named table.
func (c *PostgresConnection) TableExists(ctx context.Context, name string) (bool, error) {
	if c.db == nil {
		return false, ErrNotConnected
	}

	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	return exists, nil
}

// HealthCheck pings the server and reports latency plus the server version.
func (c *PostgresConnection) HealthCheck(ctx context.Context) (Health, error) {
	if c.db == nil {
		return Health{}, ErrNotConnected
	}

	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return Health{Connected: false, Latency: time.Since(start)}, err
	}

	var version string
	if err := c.db.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		c.logger.Warn().Err(err).Str("func", "PostgresConnection.HealthCheck").Msg("version query failed")
	}

	return Health{Connected: true, Latency: time.Since(start), Version: version}, nil
}

// Type implements [Connection].
func (c *PostgresConnection) Type() string { return config.EnginePostgres }

// Placeholder implements [Connection]. PostgreSQL uses `$n` placeholders.
func (c *PostgresConnection) Placeholder() sq.PlaceholderFormat { return sq.Dollar }

// DSN returns the connection string, used by the backup service to invoke
// the dump utility.
func (c *PostgresConnection) DSN() string { return c.cfg.DSN }

// postgresError extracts the PostgreSQL error code from a driver error, or
// returns "" when err did not originate from the server.
func postgresError(err error) string {
	var pgErr *pgconn.PgError
	// if postgres returns error
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	return ""
}
