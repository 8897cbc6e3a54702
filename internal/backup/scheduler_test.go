package backup_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/noctua-health/somnia/internal/backup"
	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/mock"
	"github.com/noctua-health/somnia/internal/store/storetest"
	"github.com/noctua-health/somnia/models"
)

func TestScheduler_RunTier_Success(t *testing.T) {
	conn := newLiveConn(t)
	cfg := config.Backup{Dir: t.TempDir(), MaxAge: 26 * time.Hour}
	svc := backup.NewService(conn, cfg, nil, nil, logger.Nop())
	sched := backup.NewScheduler(svc, cfg, nil, logger.Nop())

	result := sched.RunTier(context.Background(), models.BackupTierDaily)

	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.BackupID)

	health := sched.Health()
	assert.True(t, health.Healthy)
	assert.False(t, health.LastSuccessAt.IsZero())
	require.Len(t, health.TierResults, 1)
	assert.Equal(t, models.BackupTierDaily, health.TierResults[0].Tier)
	assert.Equal(t, 1, health.TierCounts[models.BackupTierDaily])
	assert.Empty(t, health.RecentAlerts)
}

func TestScheduler_RunTier_FailureRaisesAlert(t *testing.T) {
	ctrl := gomock.NewController(t)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// The wrapped connection is not a snapshot-capable engine, so every
	// run fails before touching the database.
	cfg := config.Backup{Dir: t.TempDir(), MaxAge: 26 * time.Hour}
	svc := backup.NewService(storetest.New(db, config.EngineSQLite), cfg, nil, nil, logger.Nop())

	notifier := mock.NewMockNotifier(ctrl)
	var raised backup.Alert
	notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, alert backup.Alert) error {
			raised = alert
			return nil
		})

	sched := backup.NewScheduler(svc, cfg, notifier, logger.Nop())
	result := sched.RunTier(context.Background(), models.BackupTierManual)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, "error", raised.Severity)
	assert.Equal(t, models.BackupTierManual, raised.Tier)

	health := sched.Health()
	assert.False(t, health.Healthy)
	require.Len(t, health.RecentAlerts, 1)
	assert.Equal(t, raised.Message, health.RecentAlerts[0].Message)
}

func TestScheduler_VerifySnapshot_CorruptionRaisesAlert(t *testing.T) {
	conn := newLiveConn(t)
	cfg := config.Backup{Dir: t.TempDir(), MaxAge: 26 * time.Hour}
	svc := backup.NewService(conn, cfg, nil, nil, logger.Nop())

	ctrl := gomock.NewController(t)
	notifier := mock.NewMockNotifier(ctrl)
	var delivered backup.Alert
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, alert backup.Alert) error {
			delivered = alert
			return nil
		})

	sched := backup.NewScheduler(svc, cfg, notifier, logger.Nop())

	record, err := svc.Create(context.Background(), models.BackupTierWeekly)
	require.NoError(t, err)

	f, err := os.OpenFile(record.Path, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString("x")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = sched.VerifySnapshot(context.Background(), record.ID)
	assert.ErrorIs(t, err, backup.ErrChecksumInvalid)

	assert.Equal(t, "error", delivered.Severity)
	assert.Equal(t, models.BackupTierWeekly, delivered.Tier)
	assert.Contains(t, delivered.Message, "verification failed")

	health := sched.Health()
	require.Len(t, health.RecentAlerts, 1)
}

func TestScheduler_VerifySnapshot_IntactRaisesNothing(t *testing.T) {
	conn := newLiveConn(t)
	cfg := config.Backup{Dir: t.TempDir(), MaxAge: 26 * time.Hour}
	svc := backup.NewService(conn, cfg, nil, nil, logger.Nop())
	sched := backup.NewScheduler(svc, cfg, nil, logger.Nop())

	record, err := svc.Create(context.Background(), models.BackupTierManual)
	require.NoError(t, err)

	require.NoError(t, sched.VerifySnapshot(context.Background(), record.ID))

	err = sched.VerifySnapshot(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, backup.ErrBackupNotFound)

	assert.Empty(t, sched.Health().RecentAlerts)
}

func TestScheduler_StartStop(t *testing.T) {
	conn := newLiveConn(t)
	cfg := config.Backup{Dir: t.TempDir(), MaxAge: 26 * time.Hour, DailyInterval: time.Hour}
	svc := backup.NewService(conn, cfg, nil, nil, logger.Nop())
	sched := backup.NewScheduler(svc, cfg, nil, logger.Nop())

	sched.Start(context.Background())
	sched.Stop()

	health := sched.Health()
	next, ok := health.NextRuns[models.BackupTierDaily]
	require.True(t, ok)
	assert.True(t, next.After(time.Now().UTC()))
}
