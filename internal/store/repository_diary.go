package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/noctua-health/somnia/internal/crypto"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/models"
)

// DiaryStats aggregates a participant's sleep diary over a date range.
// Averages cover only the numeric metrics; the free-text notes never leave
// the encrypted column for statistics.
type DiaryStats struct {
	Entries             int64           `json:"entries"`
	AvgSleepMinutes     float64         `json:"avg_sleep_minutes"`
	AvgTimeInBedMinutes float64         `json:"avg_time_in_bed_minutes"`
	AvgEfficiency       float64         `json:"avg_efficiency"`
	AvgQuality          float64         `json:"avg_quality"`
	QualityDistribution map[int]int64   `json:"quality_distribution"`
}

// DiaryRepository persists sleep-diary entries. Notes are PHI: encrypted in
// entityToParams, decrypted in rowToEntity.
type DiaryRepository struct {
	*Repository[*models.DiaryEntry]
	cipher crypto.FieldCipher
	logger *logger.Logger
}

// NewDiaryRepository constructs a [DiaryRepository].
func NewDiaryRepository(conn Connection, cipher crypto.FieldCipher, log *logger.Logger) *DiaryRepository {
	r := &DiaryRepository{cipher: cipher, logger: log}

	r.Repository = NewRepository(conn, Mapping[*models.DiaryEntry]{
		Table: "diary_entries",
		Columns: []string{
			"user_id", "entry_date", "sleep_onset_minutes", "night_awakenings",
			"total_sleep_minutes", "time_in_bed_minutes", "sleep_quality",
			"sleep_efficiency", "notes",
		},
		ToParams: r.entityToParams,
		ScanRow:  r.rowToEntity,
	}, log)

	return r
}

func (r *DiaryRepository) entityToParams(d *models.DiaryEntry) (map[string]any, error) {
	notes, err := r.cipher.EncryptField(d.Notes)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"user_id":             d.UserID,
		"entry_date":          d.EntryDate.UTC().Truncate(24 * time.Hour),
		"sleep_onset_minutes": d.SleepOnsetMinutes,
		"night_awakenings":    d.NightAwakenings,
		"total_sleep_minutes": d.TotalSleepMinutes,
		"time_in_bed_minutes": d.TimeInBedMinutes,
		"sleep_quality":       d.SleepQuality,
		"sleep_efficiency":    d.SleepEfficiency(),
		"notes":               notes,
	}, nil
}

func (r *DiaryRepository) rowToEntity(scan func(dest ...any) error) (*models.DiaryEntry, error) {
	var d models.DiaryEntry
	var id int64
	var efficiency float64
	var notes sql.NullString
	var deletedAt sql.NullTime

	err := scan(&id, &d.UserID, &d.EntryDate, &d.SleepOnsetMinutes,
		&d.NightAwakenings, &d.TotalSleepMinutes, &d.TimeInBedMinutes,
		&d.SleepQuality, &efficiency, &notes,
		&d.CreatedAt, &d.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	d.ID = &id
	d.Notes = r.cipher.DecryptField(notes.String)
	if deletedAt.Valid {
		t := deletedAt.Time
		d.DeletedAt = &t
	}

	return &d, nil
}

// FindByUserAndDateRange returns the participant's entries with entry_date
// in [from, to], oldest first.
func (r *DiaryRepository) FindByUserAndDateRange(ctx context.Context, userID int64, from, to time.Time) ([]*models.DiaryEntry, error) {
	b := r.selectBuilder(FindOptions{OrderBy: "entry_date ASC"}).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.GtOrEq{"entry_date": from.UTC()}).
		Where(sq.LtOrEq{"entry_date": to.UTC()})
	return r.queryMany(ctx, b)
}

// LatestForUser returns the participant's most recent entry.
func (r *DiaryRepository) LatestForUser(ctx context.Context, userID int64) (*models.DiaryEntry, error) {
	b := r.selectBuilder(FindOptions{OrderBy: "entry_date DESC"}).
		Where(sq.Eq{"user_id": userID})
	return r.queryOne(ctx, b)
}

// UpsertByUserAndDate inserts or updates the entry keyed by the natural
// (user_id, entry_date) pair. A participant filling the diary twice for the
// same night overwrites the earlier record rather than duplicating it.
func (r *DiaryRepository) UpsertByUserAndDate(ctx context.Context, d *models.DiaryEntry) (*models.DiaryEntry, error) {
	day := d.EntryDate.UTC().Truncate(24 * time.Hour)
	existing, err := r.FindOneBy(ctx, map[string]any{
		"user_id":    d.UserID,
		"entry_date": day,
	})
	switch {
	case err == nil:
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		return r.Update(ctx, d)
	case errors.Is(err, ErrRecordNotFound):
		return r.Insert(ctx, d)
	default:
		return nil, err
	}
}

// Stats computes the diary aggregates over [from, to].
func (r *DiaryRepository) Stats(ctx context.Context, userID int64, from, to time.Time) (*DiaryStats, error) {
	query, args, err := sq.Select(
		"COUNT(*)",
		"COALESCE(AVG(total_sleep_minutes), 0)",
		"COALESCE(AVG(time_in_bed_minutes), 0)",
		"COALESCE(AVG(sleep_efficiency), 0)",
		"COALESCE(AVG(sleep_quality), 0)",
	).
		From(r.Table()).
		Where(sq.Eq{"deleted_at": nil, "user_id": userID}).
		Where(sq.GtOrEq{"entry_date": from.UTC()}).
		Where(sq.LtOrEq{"entry_date": to.UTC()}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	defer rows.Close()

	stats := &DiaryStats{QualityDistribution: make(map[int]int64)}
	if rows.Next() {
		err = rows.Scan(&stats.Entries, &stats.AvgSleepMinutes,
			&stats.AvgTimeInBedMinutes, &stats.AvgEfficiency, &stats.AvgQuality)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScanningRow, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.qualityDistribution(ctx, stats, userID, from, to); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *DiaryRepository) qualityDistribution(ctx context.Context, stats *DiaryStats, userID int64, from, to time.Time) error {
	query, args, err := sq.Select("sleep_quality", "COUNT(*)").
		From(r.Table()).
		Where(sq.Eq{"deleted_at": nil, "user_id": userID}).
		Where(sq.GtOrEq{"entry_date": from.UTC()}).
		Where(sq.LtOrEq{"entry_date": to.UTC()}).
		GroupBy("sleep_quality").
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildingSQLQuery, err)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecutingQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var quality int
		var count int64
		if err := rows.Scan(&quality, &count); err != nil {
			return fmt.Errorf("%w: %v", ErrScanningRows, err)
		}
		stats.QualityDistribution[quality] = count
	}
	return rows.Err()
}

// AdherenceRate returns the fraction of days in [from, to] with a diary
// entry, in [0, 1]. Zero-length windows report zero adherence.
func (r *DiaryRepository) AdherenceRate(ctx context.Context, userID int64, from, to time.Time) (float64, error) {
	days := int64(to.Sub(from).Hours()/24) + 1
	if days <= 0 {
		return 0, nil
	}

	entries, err := r.countInRange(ctx, userID, from, to)
	if err != nil {
		return 0, err
	}

	rate := float64(entries) / float64(days)
	if rate > 1 {
		rate = 1
	}
	return rate, nil
}

func (r *DiaryRepository) countInRange(ctx context.Context, userID int64, from, to time.Time) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").
		From(r.Table()).
		Where(sq.Eq{"deleted_at": nil, "user_id": userID}).
		Where(sq.GtOrEq{"entry_date": from.UTC()}).
		Where(sq.LtOrEq{"entry_date": to.UTC()}).
		PlaceholderFormat(r.conn.Placeholder()).
		ToSql()
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
