package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/models"
)

// SessionRepository is the key/value session store behind the bot layer.
// Reads are TTL-aware: a session past its ExpiresAt behaves exactly like a
// missing one, even before PurgeExpired has removed the row.
type SessionRepository struct {
	*Repository[*models.Session]
	logger *logger.Logger
}

// NewSessionRepository constructs a [SessionRepository].
func NewSessionRepository(conn Connection, log *logger.Logger) *SessionRepository {
	r := &SessionRepository{logger: log}

	r.Repository = NewRepository(conn, Mapping[*models.Session]{
		Table: "sessions",
		Columns: []string{
			"key", "user_id", "data", "expires_at",
		},
		ToParams: r.entityToParams,
		ScanRow:  r.rowToEntity,
	}, log)

	return r
}

func (r *SessionRepository) entityToParams(s *models.Session) (map[string]any, error) {
	var expiresAt any
	if s.ExpiresAt != nil {
		expiresAt = s.ExpiresAt.UTC()
	}

	return map[string]any{
		"key":        s.Key,
		"user_id":    s.UserID,
		"data":       s.Data,
		"expires_at": expiresAt,
	}, nil
}

func (r *SessionRepository) rowToEntity(scan func(dest ...any) error) (*models.Session, error) {
	var s models.Session
	var id int64
	var expiresAt sql.NullTime
	var deletedAt sql.NullTime

	err := scan(&id, &s.Key, &s.UserID, &s.Data, &expiresAt,
		&s.CreatedAt, &s.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	s.ID = &id
	if expiresAt.Valid {
		t := expiresAt.Time
		s.ExpiresAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		s.DeletedAt = &t
	}

	return &s, nil
}

// Get returns the live session with the given key. An expired session is
// reported as [ErrRecordNotFound].
func (r *SessionRepository) Get(ctx context.Context, key string) (*models.Session, error) {
	session, err := r.FindOneBy(ctx, map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now().UTC()) {
		return nil, ErrRecordNotFound
	}
	return session, nil
}

// Put writes the session state for a key, creating the row on first use and
// overwriting it afterwards. Overwriting also refreshes the TTL.
func (r *SessionRepository) Put(ctx context.Context, session *models.Session) (*models.Session, error) {
	existing, err := r.FindOneBy(ctx, map[string]any{"key": session.Key})
	switch {
	case err == nil:
		session.ID = existing.ID
		session.CreatedAt = existing.CreatedAt
		return r.Update(ctx, session)
	case errors.Is(err, ErrRecordNotFound):
		return r.Insert(ctx, session)
	default:
		return nil, err
	}
}

// DeleteByKey removes the session with the given key. A missing key is not
// an error: the bot layer deletes unconditionally when a conversation ends.
func (r *SessionRepository) DeleteByKey(ctx context.Context, key string) error {
	query, args, err := sq.Delete(r.Table()).
		Where(sq.Eq{"key": key}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	return nil
}

// PurgeExpired physically removes every session whose TTL has passed and
// returns how many rows were deleted.
func (r *SessionRepository) PurgeExpired(ctx context.Context) (int64, error) {
	query, args, err := sq.Delete(r.Table()).
		Where(sq.Lt{"expires_at": time.Now().UTC()}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}

	if res.Changes > 0 {
		r.logger.Debug().Str("func", "PurgeExpired").
			Int64("sessions", res.Changes).
			Msg("purged expired sessions")
	}
	return res.Changes, nil
}
