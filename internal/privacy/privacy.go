// Package privacy implements the data-subject rights operations: a full
// export of everything stored about one participant, and erasure that
// removes or anonymizes it. Both leave an audit trail.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/audit"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store"
	"github.com/noctua-health/somnia/models"
)

// Export is the complete data-subject export for one participant. Encrypted
// fields are included in clear: the export exists so the subject can read
// their own data.
type Export struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	User         *models.User         `json:"user"`
	DiaryEntries []*models.DiaryEntry `json:"diary_entries"`
	Assessments  []*models.Assessment `json:"assessments"`
	Sessions     int64                `json:"sessions"`
	RowCounts    map[string]int64     `json:"row_counts"`
}

// EraseResult reports what an erasure removed.
type EraseResult struct {
	UserAnonymized bool             `json:"user_anonymized"`
	RowCounts      map[string]int64 `json:"row_counts"`
}

// Service performs the composite privacy operations across repositories.
type Service struct {
	conn        store.Connection
	users       *store.UserRepository
	diary       *store.DiaryRepository
	assessments *store.AssessmentRepository
	auditor     *audit.Service
	logger      *logger.Logger
}

// NewService constructs the privacy service.
func NewService(conn store.Connection, users *store.UserRepository, diary *store.DiaryRepository,
	assessments *store.AssessmentRepository, auditor *audit.Service, log *logger.Logger) *Service {
	return &Service{
		conn:        conn,
		users:       users,
		diary:       diary,
		assessments: assessments,
		auditor:     auditor,
		logger:      log,
	}
}

// ExportUserData gathers everything stored about the user into one document
// and records the export in the audit trail.
func (s *Service) ExportUserData(ctx context.Context, userID int64) (*Export, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}

	entries, err := s.diary.FindBy(ctx, map[string]any{"user_id": userID}, store.FindOptions{OrderBy: "entry_date ASC"})
	if err != nil {
		return nil, fmt.Errorf("loading diary entries: %w", err)
	}

	assessments, err := s.assessments.FindBy(ctx, map[string]any{"user_id": userID}, store.FindOptions{OrderBy: "completed_at ASC"})
	if err != nil {
		return nil, fmt.Errorf("loading assessments: %w", err)
	}

	sessions, err := s.countRows(ctx, "sessions", userID)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	export := &Export{
		GeneratedAt:  time.Now().UTC(),
		User:         user,
		DiaryEntries: entries,
		Assessments:  assessments,
		Sessions:     sessions,
		RowCounts: map[string]int64{
			"users":         1,
			"diary_entries": int64(len(entries)),
			"assessments":   int64(len(assessments)),
			"sessions":      sessions,
		},
	}

	if err := s.auditor.LogExport(ctx, userID, toAnyMap(export.RowCounts)); err != nil {
		s.logger.Error().Err(err).Str("func", "ExportUserData").Msg("recording export audit entry")
	}

	return export, nil
}

// EraseUserData implements the right to erasure. Clinical rows are
// physically deleted; the user row itself is anonymized rather than removed
// so historical aggregates and audit references stay resolvable. The whole
// erasure runs in one transaction.
func (s *Service) EraseUserData(ctx context.Context, userID int64) (*EraseResult, error) {
	// Confirm the user exists before touching anything. Already-erased
	// (soft-deleted) users are still erasable.
	if _, err := s.users.FindByID(ctx, userID); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}

	result := &EraseResult{RowCounts: make(map[string]int64)}

	err := s.conn.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		for _, table := range []string{"diary_entries", "assessments", "sessions"} {
			deleted, err := s.deleteRows(ctx, q, table, userID)
			if err != nil {
				return fmt.Errorf("erasing %s: %w", table, err)
			}
			result.RowCounts[table] = deleted
		}

		anonymized, err := s.anonymizeUser(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("anonymizing user: %w", err)
		}
		result.UserAnonymized = anonymized
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.auditor.LogErase(ctx, userID, toAnyMap(result.RowCounts)); err != nil {
		s.logger.Error().Err(err).Str("func", "EraseUserData").Msg("recording erasure audit entry")
	}

	s.logger.Info().Str("func", "EraseUserData").
		Int64("user_id", userID).
		Msg("user data erased")
	return result, nil
}

func (s *Service) deleteRows(ctx context.Context, q store.Querier, table string, userID int64) (int64, error) {
	query, args, err := sq.Delete(table).
		Where(sq.Eq{"user_id": userID}).
		PlaceholderFormat(s.conn.Placeholder()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}
	return res.RowsAffected()
}

// anonymizeUser blanks every identifying column and soft-deletes the row.
// The surrogate id and telegram_id are zeroed too: a re-registering
// participant gets a fresh row, never the old history.
func (s *Service) anonymizeUser(ctx context.Context, q store.Querier, userID int64) (bool, error) {
	now := time.Now().UTC()
	query, args, err := sq.Update("users").
		Set("telegram_id", -userID).
		Set("username", "").
		Set("first_name", "").
		Set("timezone", "").
		Set("language", "").
		Set("consent_given_at", nil).
		Set("active", false).
		Set("updated_at", now).
		Set("deleted_at", now).
		Where(sq.Eq{"id": userID}).
		PlaceholderFormat(s.conn.Placeholder()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrBuildingSQLQuery, err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrExecutingQuery, err)
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (s *Service) countRows(ctx context.Context, table string, userID int64) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").
		From(table).
		Where(sq.Eq{"user_id": userID}).
		PlaceholderFormat(s.conn.Placeholder()).
		ToSql()
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

func toAnyMap(counts map[string]int64) map[string]any {
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
