// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

// Package audit records every data-touching action into an append-only
// trail. Entries are never updated; the only deletion path is the
// time-gated retention cleanup.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store"
	"github.com/noctua-health/somnia/models"
)

const table = "audit_log"

// RequestMeta carries client metadata attached to entries that originated
// from a request.
type RequestMeta struct {
	IP        string
	UserAgent string
	SessionID string
}

// QueryFilters narrows an audit trail read. Zero-valued fields are ignored.
type QueryFilters struct {
	UserID     *int64
	Action     models.AuditAction
	EntityType string
	EntityID   *int64
	IP         string
	From       time.Time
	To         time.Time
	Limit      uint64
	Offset     uint64
}

// Stats summarizes audit activity over a date range.
type Stats struct {
	From         time.Time                    `json:"from"`
	To           time.Time                    `json:"to"`
	Total        int64                        `json:"total"`
	ByAction     map[models.AuditAction]int64 `json:"by_action"`
	ByEntityType map[string]int64             `json:"by_entity_type"`
	UniqueUsers  int64                        `json:"unique_users"`
	OldestAt     *time.Time                   `json:"oldest_at,omitempty"`
	NewestAt     *time.Time                   `json:"newest_at,omitempty"`
}

// Service writes and reads the audit trail.
type Service struct {
	conn   store.Connection
	cfg    config.Audit
	logger *logger.Logger
}

// NewService constructs the audit service.
func NewService(conn store.Connection, cfg config.Audit, log *logger.Logger) *Service {
	return &Service{conn: conn, cfg: cfg, logger: log}
}

// Log persists one entry. Snapshots are redacted before serialization; a
// failure to write the trail is reported but must never abort the action
// being audited, so callers typically log and continue.
func (s *Service) Log(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	oldValue, err := marshalSnapshot(Redact(entry.OldValue))
	if err != nil {
		return fmt.Errorf("serializing old value: %w", err)
	}
	newValue, err := marshalSnapshot(Redact(entry.NewValue))
	if err != nil {
		return fmt.Errorf("serializing new value: %w", err)
	}

	query, args, err := sq.Insert(table).
		Columns("user_id", "action", "entity_type", "entity_id",
			"old_value", "new_value", "ip", "user_agent", "session_id", "created_at").
		Values(entry.UserID, entry.Action, entry.EntityType, entry.EntityID,
			oldValue, newValue, entry.IP, entry.UserAgent, entry.SessionID, entry.CreatedAt).
		PlaceholderFormat(s.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	if _, err := s.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}

	s.logger.Debug().Str("func", "Log").
		Str("action", string(entry.Action)).
		Str("entity_type", entry.EntityType).
		Msg("audit entry recorded")
	return nil
}

func marshalSnapshot(snapshot map[string]any) (any, error) {
	if snapshot == nil {
		return nil, nil
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// LogCreate records the creation of an entity.
func (s *Service) LogCreate(ctx context.Context, userID *int64, entityType string, entityID *int64, newValue map[string]any) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: userID, Action: models.AuditActionCreate,
		EntityType: entityType, EntityID: entityID, NewValue: newValue,
	})
}

// LogRead records a plain entity read. Reads of encrypted fields go through
// LogPHIAccess instead, which honors the PHI read-logging toggle.
func (s *Service) LogRead(ctx context.Context, userID *int64, entityType string, entityID *int64) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: userID, Action: models.AuditActionRead,
		EntityType: entityType, EntityID: entityID,
	})
}

// LogUpdate records an entity update with before/after snapshots.
func (s *Service) LogUpdate(ctx context.Context, userID *int64, entityType string, entityID *int64, oldValue, newValue map[string]any) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: userID, Action: models.AuditActionUpdate,
		EntityType: entityType, EntityID: entityID,
		OldValue: oldValue, NewValue: newValue,
	})
}

// LogDelete records a deletion, soft or hard.
func (s *Service) LogDelete(ctx context.Context, userID *int64, entityType string, entityID *int64, oldValue map[string]any) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: userID, Action: models.AuditActionDelete,
		EntityType: entityType, EntityID: entityID, OldValue: oldValue,
	})
}

// LogConsent records a consent grant or withdrawal.
func (s *Service) LogConsent(ctx context.Context, userID int64, granted bool) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: &userID, Action: models.AuditActionConsent,
		EntityType: "user", EntityID: &userID,
		NewValue: map[string]any{"granted": granted},
	})
}

// LogAuth records an authentication event with its client metadata.
func (s *Service) LogAuth(ctx context.Context, userID *int64, meta RequestMeta, success bool) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: userID, Action: models.AuditActionAuth,
		EntityType: "session",
		NewValue:   map[string]any{"success": success},
		IP:         meta.IP, UserAgent: meta.UserAgent, SessionID: meta.SessionID,
	})
}

// LogExport records a data subject export.
func (s *Service) LogExport(ctx context.Context, userID int64, rowCounts map[string]any) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: &userID, Action: models.AuditActionExport,
		EntityType: "user", EntityID: &userID, NewValue: rowCounts,
	})
}

// LogErase records a data subject erasure.
func (s *Service) LogErase(ctx context.Context, userID int64, rowCounts map[string]any) error {
	return s.Log(ctx, &models.AuditEntry{
		UserID: &userID, Action: models.AuditActionErase,
		EntityType: "user", EntityID: &userID, NewValue: rowCounts,
	})
}

// LogPHIAccess records a read of an encrypted field. It is a no-op when PHI
// read logging is disabled in the audit configuration; writes are always
// recorded regardless.
func (s *Service) LogPHIAccess(ctx context.Context, userID *int64, entityType, field string) error {
	if !s.cfg.LogPHIReads {
		return nil
	}
	return s.Log(ctx, &models.AuditEntry{
		UserID: userID, Action: models.AuditActionPHIAccess,
		EntityType: entityType,
		NewValue:   map[string]any{"field": field},
	})
}

// Query returns entries matching the filters, newest first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]*models.AuditEntry, error) {
	b := sq.Select("id", "user_id", "action", "entity_type", "entity_id",
		"old_value", "new_value", "ip", "user_agent", "session_id", "created_at").
		From(table).
		OrderBy("created_at DESC", "id DESC").
		PlaceholderFormat(s.conn.Placeholder())

	if filters.UserID != nil {
		b = b.Where(sq.Eq{"user_id": *filters.UserID})
	}
	if filters.Action != "" {
		b = b.Where(sq.Eq{"action": filters.Action})
	}
	if filters.EntityType != "" {
		b = b.Where(sq.Eq{"entity_type": filters.EntityType})
	}
	if filters.EntityID != nil {
		b = b.Where(sq.Eq{"entity_id": *filters.EntityID})
	}
	if filters.IP != "" {
		b = b.Where(sq.Eq{"ip": filters.IP})
	}
	if !filters.From.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": filters.From.UTC()})
	}
	if !filters.To.IsZero() {
		b = b.Where(sq.Lt{"created_at": filters.To.UTC()})
	}
	if filters.Limit > 0 {
		b = b.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		b = b.Offset(filters.Offset)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrScanningRows, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UserTrail returns the most recent entries for one user.
func (s *Service) UserTrail(ctx context.Context, userID int64, limit uint64) ([]*models.AuditEntry, error) {
	return s.Query(ctx, QueryFilters{UserID: &userID, Limit: limit})
}

func scanEntry(scan func(dest ...any) error) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	var id int64
	var userID, entityID sql.NullInt64
	var oldValue, newValue, ip, userAgent, sessionID sql.NullString
	var action string

	err := scan(&id, &userID, &action, &entry.EntityType, &entityID,
		&oldValue, &newValue, &ip, &userAgent, &sessionID, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.ID = &id
	entry.Action = models.AuditAction(action)
	if userID.Valid {
		entry.UserID = &userID.Int64
	}
	if entityID.Valid {
		entry.EntityID = &entityID.Int64
	}
	entry.IP = ip.String
	entry.UserAgent = userAgent.String
	entry.SessionID = sessionID.String

	if oldValue.Valid && oldValue.String != "" {
		if err := json.Unmarshal([]byte(oldValue.String), &entry.OldValue); err != nil {
			return nil, err
		}
	}
	if newValue.Valid && newValue.String != "" {
		if err := json.Unmarshal([]byte(newValue.String), &entry.NewValue); err != nil {
			return nil, err
		}
	}

	return &entry, nil
}

// GetStats aggregates activity over the given range: totals broken down by
// action and by entity type, unique acting users, and the range's oldest and
// newest entry timestamps.
func (s *Service) GetStats(ctx context.Context, from, to time.Time) (*Stats, error) {
	stats := &Stats{
		From:         from,
		To:           to,
		ByAction:     make(map[models.AuditAction]int64),
		ByEntityType: make(map[string]int64),
	}

	byAction, err := s.countGrouped(ctx, "action", from, to)
	if err != nil {
		return nil, err
	}
	for action, count := range byAction {
		stats.ByAction[models.AuditAction(action)] = count
		stats.Total += count
	}

	if stats.ByEntityType, err = s.countGrouped(ctx, "entity_type", from, to); err != nil {
		return nil, err
	}

	users, err := s.countUniqueUsers(ctx, from, to)
	if err != nil {
		return nil, err
	}
	stats.UniqueUsers = users

	if stats.OldestAt, err = s.boundary(ctx, "created_at ASC", from, to); err != nil {
		return nil, err
	}
	if stats.NewestAt, err = s.boundary(ctx, "created_at DESC", from, to); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Service) countGrouped(ctx context.Context, column string, from, to time.Time) (map[string]int64, error) {
	b := sq.Select(column, "COUNT(*)").
		From(table).
		GroupBy(column).
		PlaceholderFormat(s.conn.Placeholder())
	if !from.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": from.UTC()})
	}
	if !to.IsZero() {
		b = b.Where(sq.Lt{"created_at": to.UTC()})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrScanningRows, err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// boundary returns the first created_at under the given ordering, or nil when
// the range holds no entries. An ordered LIMIT 1 read keeps the driver's
// timestamp conversion, which an aggregate over the column would lose on the
// embedded engine.
func (s *Service) boundary(ctx context.Context, order string, from, to time.Time) (*time.Time, error) {
	b := sq.Select("created_at").
		From(table).
		OrderBy(order).
		Limit(1).
		PlaceholderFormat(s.conn.Placeholder())
	if !from.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": from.UTC()})
	}
	if !to.IsZero() {
		b = b.Where(sq.Lt{"created_at": to.UTC()})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}
	defer rows.Close()

	if rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrScanningRow, err)
		}
		return &at, rows.Err()
	}
	return nil, rows.Err()
}

func (s *Service) countUniqueUsers(ctx context.Context, from, to time.Time) (int64, error) {
	b := sq.Select("COUNT(DISTINCT user_id)").
		From(table).
		Where(sq.NotEq{"user_id": nil}).
		PlaceholderFormat(s.conn.Placeholder())
	if !from.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": from.UTC()})
	}
	if !to.IsZero() {
		b = b.Where(sq.Lt{"created_at": to.UTC()})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("%w: %v", store.ErrScanningRow, err)
		}
	}
	return count, rows.Err()
}

// Cleanup deletes entries older than the retention horizon and returns how
// many were removed. With a non-positive retention the trail is kept forever.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	query, args, err := sq.Delete(table).
		Where(sq.Lt{"created_at": cutoff}).
		PlaceholderFormat(s.conn.Placeholder()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	res, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}

	if res.Changes > 0 {
		s.logger.Info().Str("func", "Cleanup").
			Int64("deleted", res.Changes).
			Time("cutoff", cutoff).
			Msg("audit retention cleanup")
	}
	return res.Changes, nil
}
