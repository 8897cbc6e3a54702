// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/models"
)

// Mapping describes how one entity type maps onto its table: the insertable
// data columns (bookkeeping columns are owned by the base repository), the
// entity→parameters function run on the write path, and the row scanner run
// on the read path. PHI-bearing entities encrypt/decrypt inside these two
// hooks, transparently to every generic operation.
type Mapping[T models.Persistable] struct {
	Table string

	// Columns lists the insertable data columns in order, excluding
	// id, created_at, updated_at and deleted_at.
	Columns []string

	// ToParams converts an entity into column→value parameters for the
	// columns listed above. It must not emit id or timestamp columns.
	ToParams func(entity T) (map[string]any, error)

	// ScanRow scans one result row. The select column order is always
	// id, Columns..., created_at, updated_at, deleted_at.
	ScanRow func(scan func(dest ...any) error) (T, error)
}

// FindOptions tunes FindAll/FindBy reads.
type FindOptions struct {
	// Limit and Offset page the result set; zero Limit means no limit.
	Limit  uint64
	Offset uint64

	// OrderBy is a raw ORDER BY expression, e.g. "entry_date DESC".
	OrderBy string

	// IncludeDeleted lifts the soft-delete filter. The only query paths
	// that set it are operator tooling and tests.
	IncludeDeleted bool
}

// Repository is the generic CRUD layer specialized per entity. It owns the
// soft-delete and audit-timestamp semantics: Update always stamps the update
// time and never lets a caller override the identifier or creation time;
// Delete stamps the delete time and makes the row invisible to every other
// query method; HardDelete is the only physical removal path.
type Repository[T models.Persistable] struct {
	conn    Connection
	mapping Mapping[T]
	logger  *logger.Logger
}

// NewRepository constructs the generic layer for one entity mapping.
func NewRepository[T models.Persistable](conn Connection, mapping Mapping[T], log *logger.Logger) *Repository[T] {
	log.Debug().Str("table", mapping.Table).Msg("creating repository")
	return &Repository[T]{conn: conn, mapping: mapping, logger: log}
}

// Conn exposes the underlying connection for composite operations that need
// a transaction spanning several repositories.
func (r *Repository[T]) Conn() Connection { return r.conn }

// Table returns the mapped table name.
func (r *Repository[T]) Table() string { return r.mapping.Table }

func (r *Repository[T]) selectColumns() []string {
	cols := make([]string, 0, len(r.mapping.Columns)+4)
	cols = append(cols, "id")
	cols = append(cols, r.mapping.Columns...)
	cols = append(cols, "created_at", "updated_at", "deleted_at")
	return cols
}

func (r *Repository[T]) selectBuilder(opts FindOptions) sq.SelectBuilder {
	b := sq.Select(r.selectColumns()...).
		From(r.mapping.Table).
		PlaceholderFormat(r.conn.Placeholder())
	if !opts.IncludeDeleted {
		b = b.Where(sq.Eq{"deleted_at": nil})
	}
	if opts.OrderBy != "" {
		b = b.OrderBy(opts.OrderBy)
	}
	if opts.Limit > 0 {
		b = b.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		b = b.Offset(opts.Offset)
	}
	return b
}

func (r *Repository[T]) queryMany(ctx context.Context, b sq.SelectBuilder) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		entity, err := r.mapping.ScanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScanningRows, err)
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

func (r *Repository[T]) queryOne(ctx context.Context, b sq.SelectBuilder) (T, error) {
	var zero T

	results, err := r.queryMany(ctx, b.Limit(1))
	if err != nil {
		return zero, err
	}
	if len(results) == 0 {
		return zero, ErrRecordNotFound
	}
	return results[0], nil
}

// FindByID returns the record with the given identifier, excluding
// soft-deleted rows. Returns [ErrRecordNotFound] when absent.
func (r *Repository[T]) FindByID(ctx context.Context, id int64) (T, error) {
	return r.queryOne(ctx, r.selectBuilder(FindOptions{}).Where(sq.Eq{"id": id}))
}

// FindAll returns records per opts. Soft-deleted rows are excluded unless
// opts.IncludeDeleted is set.
func (r *Repository[T]) FindAll(ctx context.Context, opts FindOptions) ([]T, error) {
	return r.queryMany(ctx, r.selectBuilder(opts))
}

// FindBy returns records matching the equality filters.
func (r *Repository[T]) FindBy(ctx context.Context, filters map[string]any, opts FindOptions) ([]T, error) {
	return r.queryMany(ctx, r.selectBuilder(opts).Where(sq.Eq(filters)))
}

// FindOneBy returns the first record matching the equality filters, or
// [ErrRecordNotFound].
func (r *Repository[T]) FindOneBy(ctx context.Context, filters map[string]any) (T, error) {
	return r.queryOne(ctx, r.selectBuilder(FindOptions{}).Where(sq.Eq(filters)))
}

// Insert persists a new record, stamping creation and update times, and
// returns the entity with its assigned identifier. A unique-constraint
// violation maps to [ErrDuplicateKey].
func (r *Repository[T]) Insert(ctx context.Context, entity T) (T, error) {
	var zero T

	params, err := r.mapping.ToParams(entity)
	if err != nil {
		return zero, err
	}

	now := time.Now().UTC()
	base := entity.Base()
	base.CreatedAt = now
	base.UpdatedAt = now

	values := make([]any, 0, len(r.mapping.Columns)+2)
	for _, col := range r.mapping.Columns {
		values = append(values, params[col])
	}
	values = append(values, now, now)

	builder := sq.Insert(r.mapping.Table).
		Columns(append(append([]string{}, r.mapping.Columns...), "created_at", "updated_at")...).
		Values(values...).
		PlaceholderFormat(r.conn.Placeholder())

	// The client-server driver does not report last-insert ids; ask the
	// engine for the identifier in the statement itself.
	if r.conn.Placeholder() == sq.Dollar {
		query, args, err := builder.Suffix("RETURNING id").ToSql()
		if err != nil {
			return zero, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
		}

		rows, err := r.conn.QueryContext(ctx, query, args...)
		if err != nil {
			if isDuplicateKey(err) {
				return zero, ErrDuplicateKey
			}
			return zero, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
		}
		defer rows.Close()

		var id int64
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				return zero, fmt.Errorf("%w: %v", ErrScanningRow, err)
			}
		}
		base.ID = &id
		return entity, rows.Err()
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		if isDuplicateKey(err) {
			return zero, ErrDuplicateKey
		}
		return zero, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}

	base.ID = &res.LastInsertID
	return entity, nil
}

// Update rewrites the record's data columns and stamps the update time. The
// identifier and creation time are never caller-writable. Updating a
// missing or soft-deleted record returns [ErrRecordNotFound].
func (r *Repository[T]) Update(ctx context.Context, entity T) (T, error) {
	var zero T

	base := entity.Base()
	if base.ID == nil {
		return zero, ErrMissingID
	}

	params, err := r.mapping.ToParams(entity)
	if err != nil {
		return zero, err
	}

	now := time.Now().UTC()
	base.UpdatedAt = now

	builder := sq.Update(r.mapping.Table).
		PlaceholderFormat(r.conn.Placeholder())
	for _, col := range r.mapping.Columns {
		builder = builder.Set(col, params[col])
	}
	builder = builder.
		Set("updated_at", now).
		Where(sq.Eq{"id": *base.ID, "deleted_at": nil})

	query, args, err := builder.ToSql()
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		if isDuplicateKey(err) {
			return zero, ErrDuplicateKey
		}
		return zero, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	if res.Changes == 0 {
		return zero, ErrRecordNotFound
	}

	return entity, nil
}

// Save inserts when the entity has no identifier yet, updates otherwise.
func (r *Repository[T]) Save(ctx context.Context, entity T) (T, error) {
	if entity.Base().ID == nil {
		return r.Insert(ctx, entity)
	}
	return r.Update(ctx, entity)
}

// Delete soft-deletes the record: it stamps the delete time, after which
// the row is invisible to every other query method. Returns
// [ErrRecordNotFound] when the record is absent or already deleted.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query, args, err := sq.Update(r.mapping.Table).
		Set("deleted_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "deleted_at": nil}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	if res.Changes == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// HardDelete physically removes the row, bypassing soft-delete semantics
// entirely. Irreversible; never issued by default query paths.
func (r *Repository[T]) HardDelete(ctx context.Context, id int64) error {
	query, args, err := sq.Delete(r.mapping.Table).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	if res.Changes == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Restore clears the delete timestamp of a soft-deleted record, making it
// visible again. Returns [ErrRecordNotFound] when no deleted record exists.
func (r *Repository[T]) Restore(ctx context.Context, id int64) error {
	query, args, err := sq.Update(r.mapping.Table).
		Set("deleted_at", nil).
		Set("updated_at", time.Now().UTC()).
		Where(sq.And{sq.Eq{"id": id}, sq.NotEq{"deleted_at": nil}}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	if res.Changes == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Exists reports whether any live record matches the equality filters.
func (r *Repository[T]) Exists(ctx context.Context, filters map[string]any) (bool, error) {
	count, err := r.Count(ctx, filters)
	return count > 0, err
}

// Count returns the number of live records matching the equality filters;
// nil filters count the whole table (soft-deleted rows excluded).
func (r *Repository[T]) Count(ctx context.Context, filters map[string]any) (int64, error) {
	b := sq.Select("COUNT(*)").
		From(r.mapping.Table).
		Where(sq.Eq{"deleted_at": nil}).
		PlaceholderFormat(r.conn.Placeholder())
	if len(filters) > 0 {
		b = b.Where(sq.Eq(filters))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrScanningRow, err)
		}
	}
	return count, rows.Err()
}
