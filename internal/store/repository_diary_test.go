package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/models"
)

func diaryColumns() []string {
	return []string{
		"id", "user_id", "entry_date", "sleep_onset_minutes", "night_awakenings",
		"total_sleep_minutes", "time_in_bed_minutes", "sleep_quality",
		"sleep_efficiency", "notes", "created_at", "updated_at", "deleted_at",
	}
}

func TestDiaryRepository_Insert_ComputesEfficiencyAndEncryptsNotes(t *testing.T) {
	conn, mock := newMockSQLite(t)
	repo := NewDiaryRepository(conn, testCipher(t), logger.Nop())

	var storedNotes string
	mock.ExpectExec("INSERT INTO diary_entries").
		WithArgs(int64(42), sqlmock.AnyArg(), 20, 2, 390, 480, 3,
			float64(390)/float64(480), &argCapture{dest: &storedNotes},
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := repo.Insert(context.Background(), &models.DiaryEntry{
		UserID:            42,
		EntryDate:         time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC),
		SleepOnsetMinutes: 20,
		NightAwakenings:   2,
		TotalSleepMinutes: 390,
		TimeInBedMinutes:  480,
		SleepQuality:      3,
		Notes:             "woke up twice, anxious",
	})
	require.NoError(t, err)
	assert.NotContains(t, storedNotes, "anxious")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiaryRepository_UpsertByUserAndDate_TruncatesToDay(t *testing.T) {
	conn, mock := newMockSQLite(t)
	repo := NewDiaryRepository(conn, testCipher(t), logger.Nop())

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Lookup must use the truncated day, regardless of the entry timestamp.
	mock.ExpectQuery("SELECT .+ FROM diary_entries").
		WithArgs(day, int64(42)).
		WillReturnRows(sqlmock.NewRows(diaryColumns()))
	mock.ExpectExec("INSERT INTO diary_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := repo.UpsertByUserAndDate(context.Background(), &models.DiaryEntry{
		UserID:    42,
		EntryDate: time.Date(2026, 3, 1, 22, 15, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiaryRepository_Stats(t *testing.T) {
	conn, mock := newMockSQLite(t)
	repo := NewDiaryRepository(conn, testCipher(t), logger.Nop())

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\), COALESCE\\(AVG").
		WithArgs(int64(42), from, to).
		WillReturnRows(sqlmock.NewRows([]string{"c", "a1", "a2", "a3", "a4"}).
			AddRow(int64(7), 400.5, 470.0, 0.852, 3.4))

	mock.ExpectQuery("SELECT sleep_quality, COUNT").
		WithArgs(int64(42), from, to).
		WillReturnRows(sqlmock.NewRows([]string{"sleep_quality", "count"}).
			AddRow(3, int64(4)).
			AddRow(4, int64(3)))

	stats, err := repo.Stats(context.Background(), 42, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.Entries)
	assert.InDelta(t, 400.5, stats.AvgSleepMinutes, 0.001)
	assert.InDelta(t, 0.852, stats.AvgEfficiency, 0.001)
	assert.Equal(t, map[int]int64{3: 4, 4: 3}, stats.QualityDistribution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiaryRepository_AdherenceRate(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC) // 7-day window

	t.Run("partial adherence", func(t *testing.T) {
		conn, mock := newMockSQLite(t)
		repo := NewDiaryRepository(conn, testCipher(t), logger.Nop())

		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

		rate, err := repo.AdherenceRate(context.Background(), 42, from, to)
		require.NoError(t, err)
		assert.InDelta(t, 5.0/7.0, rate, 0.001)
	})

	t.Run("capped at one", func(t *testing.T) {
		conn, mock := newMockSQLite(t)
		repo := NewDiaryRepository(conn, testCipher(t), logger.Nop())

		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

		rate, err := repo.AdherenceRate(context.Background(), 42, from, to)
		require.NoError(t, err)
		assert.Equal(t, 1.0, rate)
	})

	t.Run("inverted window reports zero", func(t *testing.T) {
		conn, _ := newMockSQLite(t)
		repo := NewDiaryRepository(conn, testCipher(t), logger.Nop())

		rate, err := repo.AdherenceRate(context.Background(), 42, to, from)
		require.NoError(t, err)
		assert.Zero(t, rate)
	})
}

func TestDiaryRepository_FindByUserAndDateRange_OrdersAscending(t *testing.T) {
	conn, mock := newMockSQLite(t)
	repo := NewDiaryRepository(conn, testCipher(t), logger.Nop())

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM diary_entries .+ORDER BY entry_date ASC").
		WillReturnRows(sqlmock.NewRows(diaryColumns()).
			AddRow(int64(1), int64(42), now.AddDate(0, 0, -2), 10, 1, 420, 460, 4, 0.913, "", now, now, nil).
			AddRow(int64(2), int64(42), now.AddDate(0, 0, -1), 15, 0, 440, 465, 4, 0.946, "", now, now, nil))

	entries, err := repo.FindByUserAndDateRange(context.Background(), 42, now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].EntryDate.Before(entries[1].EntryDate))
	assert.NoError(t, mock.ExpectationsWereMet())
}
