package migrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store"
)

// VersionTable is the append-only table recording the applied migration set.
const VersionTable = "schema_migrations"

// ErrMigrationFailed wraps any statement failure during migrate or rollback.
// The owning transaction has been rolled back in full when this is returned;
// the schema must not be considered upgraded.
var ErrMigrationFailed = errors.New("migration failed")

const versionTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
);`

// Runner applies and reverts migrations against one [store.Connection].
// Both engines share this implementation; statements authored in the
// embedded dialect are translated when the connection is client-server.
type Runner struct {
	conn   store.Connection
	logger *logger.Logger
}

// NewRunner constructs a Runner bound to conn.
func NewRunner(conn store.Connection, log *logger.Logger) *Runner {
	return &Runner{conn: conn, logger: log}
}

// statements splits script and, on the client-server engine, translates each
// statement and drops the ones with no equivalent there.
func (r *Runner) statements(script string) []string {
	if r.conn.Type() == config.EnginePostgres {
		return TranslateScript(script)
	}
	return SplitStatements(script)
}

// Initialize idempotently creates the version-tracking table.
func (r *Runner) Initialize(ctx context.Context) error {
	for _, stmt := range r.statements(versionTableDDL) {
		if _, err := r.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating version table: %w", err)
		}
	}
	return nil
}

// CurrentVersion returns the max applied version, or 0 when no migration has
// been applied yet.
func (r *Runner) CurrentVersion(ctx context.Context) (int64, error) {
	rows, err := r.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", VersionTable))
	if err != nil {
		return 0, fmt.Errorf("reading current version: %w", err)
	}
	defer rows.Close()

	var version int64
	if rows.Next() {
		if err := rows.Scan(&version); err != nil {
			return 0, fmt.Errorf("scanning current version: %w", err)
		}
	}
	return version, rows.Err()
}

// Pending returns the subset of all with a version above the current one,
// sorted ascending regardless of input order.
func (r *Runner) Pending(ctx context.Context, all []Migration) ([]Migration, error) {
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]Migration, 0, len(all))
	for _, m := range all {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	return pending, nil
}

// Migrate applies all pending migrations in ascending order, each inside its
// own transaction, recording the version only on success. A failing
// statement rolls the whole migration back and aborts the run; subsequent
// pending migrations are not attempted. Returns the number applied.
func (r *Runner) Migrate(ctx context.Context, all []Migration) (int, error) {
	if err := r.Initialize(ctx); err != nil {
		return 0, err
	}

	pending, err := r.Pending(ctx, all)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range pending {
		if err := r.applyOne(ctx, m); err != nil {
			r.logger.Err(err).Str("func", "Runner.Migrate").
				Int64("version", m.Version).
				Str("name", m.Name).
				Msg("migration failed, schema rolled back")
			return applied, fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, m.Version, m.Name, err)
		}

		applied++
		r.logger.Info().Str("func", "Runner.Migrate").
			Int64("version", m.Version).
			Str("name", m.Name).
			Msg("migration applied")
	}

	return applied, nil
}

func (r *Runner) applyOne(ctx context.Context, m Migration) error {
	return r.conn.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		for _, stmt := range r.statements(m.UpSQL) {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		return r.recordVersion(ctx, q, m)
	})
}

func (r *Runner) recordVersion(ctx context.Context, q store.Querier, m Migration) error {
	query, args, err := sq.Insert(VersionTable).
		Columns("version", "name", "applied_at").
		Values(m.Version, m.Name, time.Now().UTC()).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building version insert: %w", err)
	}

	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// RollbackTo applies reverse SQL for every version in (target, current],
// descending, each inside its own transaction that also removes the version
// record. Rolling back to 0 reverts everything.
func (r *Runner) RollbackTo(ctx context.Context, target int64, all []Migration) (int, error) {
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return 0, err
	}
	if target > current {
		return 0, fmt.Errorf("target version %d is above current version %d", target, current)
	}

	toRevert := make([]Migration, 0, len(all))
	for _, m := range all {
		if m.Version > target && m.Version <= current {
			toRevert = append(toRevert, m)
		}
	}
	sort.Slice(toRevert, func(i, j int) bool { return toRevert[i].Version > toRevert[j].Version })

	reverted := 0
	for _, m := range toRevert {
		if err := r.revertOne(ctx, m); err != nil {
			r.logger.Err(err).Str("func", "Runner.RollbackTo").
				Int64("version", m.Version).
				Str("name", m.Name).
				Msg("rollback failed")
			return reverted, fmt.Errorf("%w: rollback of version %d (%s): %v", ErrMigrationFailed, m.Version, m.Name, err)
		}

		reverted++
		r.logger.Info().Str("func", "Runner.RollbackTo").
			Int64("version", m.Version).
			Str("name", m.Name).
			Msg("migration reverted")
	}

	return reverted, nil
}

func (r *Runner) revertOne(ctx context.Context, m Migration) error {
	return r.conn.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		for _, stmt := range r.statements(m.DownSQL) {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		return r.removeVersion(ctx, q, m.Version)
	})
}

func (r *Runner) removeVersion(ctx context.Context, q store.Querier, version int64) error {
	query, args, err := sq.Delete(VersionTable).
		Where(sq.Eq{"version": version}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building version delete: %w", err)
	}

	_, err = q.ExecContext(ctx, query, args...)
	return err
}
