package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
)

// SQLiteConnection is the embedded-engine implementation of [Connection].
// The engine serializes writers at the storage level (write-lock escalation
// on BEGIN IMMEDIATE), so the abstraction adds no locking of its own.
type SQLiteConnection struct {
	cfg    config.DB
	logger *logger.Logger
	db     *sql.DB
}

// NewSQLiteConnection constructs an unconnected embedded-engine connection.
func NewSQLiteConnection(cfg config.DB, log *logger.Logger) *SQLiteConnection {
	return &SQLiteConnection{cfg: cfg, logger: log}
}

// Connect creates the database file if needed, opens the connection, pings
// it, and applies the performance pragmas. A pragma that fails to apply is
// logged and skipped; only open/ping failures abort the connect.
func (c *SQLiteConnection) Connect(ctx context.Context) error {
	if err := createLocalDBFileIfNotExists(c.cfg.SQLitePath); err != nil {
		c.logger.Err(err).Str("func", "SQLiteConnection.Connect").Msg("error creating database file")
		return fmt.Errorf("%w: creating database file: %v", ErrConnectionFailed, err)
	}

	conn, err := sql.Open("sqlite3", c.cfg.SQLitePath)
	if err != nil {
		c.logger.Err(err).Str("func", "SQLiteConnection.Connect").Msg("error connecting database")
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// ping database
	if err = conn.PingContext(ctx); err != nil {
		c.logger.Err(err).Str("func", "SQLiteConnection.Connect").Msg("error connecting database (ping)")
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.db = conn
	c.applyPragmas(ctx)

	c.logger.Debug().Str("func", "SQLiteConnection.Connect").
		Str("path", c.cfg.SQLitePath).
		Msg("connected to database successfully")

	return nil
}

// applyPragmas applies the engine tuning knobs once at connect time:
// WAL journaling, busy timeout, page cache, memory-mapped I/O, foreign-key
// enforcement, and NORMAL synchronous mode (safe under WAL).
func (c *SQLiteConnection) applyPragmas(ctx context.Context) {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", c.cfg.BusyTimeout.Milliseconds()),
		fmt.Sprintf("PRAGMA cache_size = -%d", c.cfg.CacheSizeKiB),
		fmt.Sprintf("PRAGMA mmap_size = %d", c.cfg.MmapSizeBytes),
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := c.db.ExecContext(ctx, pragma); err != nil {
			c.logger.Warn().Err(err).Str("func", "SQLiteConnection.applyPragmas").
				Str("pragma", pragma).
				Msg("pragma not applied")
		}
	}
}

// Close checkpoints the write-ahead log and releases the file handle.
func (c *SQLiteConnection) Close() error {
	if c.db == nil {
		return nil
	}

	// Fold the WAL back into the main file so a copied database file is
	// complete on its own.
	if _, err := c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		c.logger.Warn().Err(err).Str("func", "SQLiteConnection.Close").Msg("wal checkpoint failed")
	}

	err := c.db.Close()
	c.db = nil
	return err
}

func (c *SQLiteConnection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db.ExecContext(ctx, query, args...)
}

func (c *SQLiteConnection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db.QueryContext(ctx, query, args...)
}

// Exec runs a write statement and reports affected rows and the last
// inserted rowid.
func (c *SQLiteConnection) Exec(ctx context.Context, query string, args ...any) (ExecResult, error) {
	if c.db == nil {
		return ExecResult{}, ErrNotConnected
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ExecResult{}, err
	}

	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return ExecResult{Changes: changes, LastInsertID: lastID}, nil
}

// BeginTx starts an explicit transaction.
func (c *SQLiteConnection) BeginTx(ctx context.Context) (*Tx, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeginningTransaction, err)
	}
	return &Tx{tx}, nil
}

// WithinTx implements the auto commit/rollback wrapper on the embedded engine.
func (c *SQLiteConnection) WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if c.db == nil {
		return ErrNotConnected
	}
	return withinTx(ctx, c.db, fn)
}

// TableExists consults sqlite_master for the named table.
func (c *SQLiteConnection) TableExists(ctx context.Context, name string) (bool, error) {
	if c.db == nil {
		return false, ErrNotConnected
	}

	var found string
	err := c.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	return true, nil
}

// HealthCheck pings the file and reports latency plus the library version.
func (c *SQLiteConnection) HealthCheck(ctx context.Context) (Health, error) {
	if c.db == nil {
		return Health{}, ErrNotConnected
	}

	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return Health{Connected: false, Latency: time.Since(start)}, err
	}

	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		c.logger.Warn().Err(err).Str("func", "SQLiteConnection.HealthCheck").Msg("version query failed")
	}

	return Health{Connected: true, Latency: time.Since(start), Version: version}, nil
}

// Type implements [Connection].
func (c *SQLiteConnection) Type() string { return config.EngineSQLite }

// Placeholder implements [Connection]. SQLite uses `?` placeholders.
func (c *SQLiteConnection) Placeholder() sq.PlaceholderFormat { return sq.Question }

// Path returns the database file location. The backup service checkpoints
// the WAL into the main file and copies it out-of-band.
func (c *SQLiteConnection) Path() string { return c.cfg.SQLitePath }

func createLocalDBFileIfNotExists(dbFile string) error {
	if _, err := os.Stat(dbFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dbFile), 0o755); err != nil {
			return fmt.Errorf("error creating DB dir: %w", err)
		}
		// if not found - create
		f, err := os.Create(dbFile)
		if err != nil {
			return fmt.Errorf("error creating DB file: %w", err)
		}
		f.Close()
	}

	// file already exists
	return nil
}
