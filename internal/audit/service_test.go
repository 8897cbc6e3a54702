package audit_test

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noctua-health/somnia/internal/audit"
	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store/storetest"
	"github.com/noctua-health/somnia/models"
)

const insertSQL = "INSERT INTO audit_log (user_id,action,entity_type,entity_id,old_value,new_value,ip,user_agent,session_id,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)"

const selectColumns = "SELECT id, user_id, action, entity_type, entity_id, old_value, new_value, ip, user_agent, session_id, created_at FROM audit_log"

func newService(t *testing.T, cfg config.Audit) (*audit.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return audit.NewService(storetest.New(db, config.EngineSQLite), cfg, logger.Nop()), mock
}

// argCapture matches any value and records it for later inspection.
type argCapture struct {
	value driver.Value
}

func (c *argCapture) Match(v driver.Value) bool {
	c.value = v
	return true
}

func entryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "action", "entity_type", "entity_id",
		"old_value", "new_value", "ip", "user_agent", "session_id", "created_at",
	})
}

func TestService_Log_RedactsSensitiveKeys(t *testing.T) {
	svc, mock := newService(t, config.Audit{})

	newValue := &argCapture{}
	userID := int64(42)
	entryID := int64(7)

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs(&userID, "update", "diary_entry", &entryID,
			nil, newValue, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := svc.LogUpdate(context.Background(), &userID, "diary_entry", &entryID, nil, map[string]any{
		"notes_token": "tok_123",
		"sleep_score": 62,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	raw, ok := newValue.value.(string)
	require.True(t, ok, "new_value should be serialized JSON")

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &snapshot))
	assert.Equal(t, audit.RedactedValue, snapshot["notes_token"])
	assert.NotContains(t, raw, "tok_123")
	assert.EqualValues(t, 62, snapshot["sleep_score"])
}

func TestService_LogConsent(t *testing.T) {
	svc, mock := newService(t, config.Audit{})

	newValue := &argCapture{}
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs(sqlmock.AnyArg(), "consent", "user", sqlmock.AnyArg(),
			nil, newValue, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, svc.LogConsent(context.Background(), 42, true))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.JSONEq(t, `{"granted":true}`, newValue.value.(string))
}

func TestService_LogPHIAccess_DisabledIsNoop(t *testing.T) {
	svc, mock := newService(t, config.Audit{LogPHIReads: false})

	err := svc.LogPHIAccess(context.Background(), nil, "user", "first_name")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_LogPHIAccess_Enabled(t *testing.T) {
	svc, mock := newService(t, config.Audit{LogPHIReads: true})

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs(sqlmock.AnyArg(), "phi_access", "user", nil,
			nil, `{"field":"first_name"}`, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	userID := int64(42)
	require.NoError(t, svc.LogPHIAccess(context.Background(), &userID, "user", "first_name"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Query_Filters(t *testing.T) {
	svc, mock := newService(t, config.Audit{})
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(
		selectColumns+" WHERE user_id = ? AND action = ? ORDER BY created_at DESC, id DESC LIMIT 10")).
		WithArgs(int64(42), models.AuditActionUpdate).
		WillReturnRows(entryRows().
			AddRow(int64(2), int64(42), "update", "diary_entry", int64(7),
				`{"sleep_score":50}`, `{"sleep_score":62}`, "", "", "", now).
			AddRow(int64(1), int64(42), "update", "user", int64(42),
				nil, nil, "10.0.0.1", "bot/1.0", "chat:42", now.Add(-time.Hour)))

	userID := int64(42)
	entries, err := svc.Query(context.Background(), audit.QueryFilters{
		UserID: &userID,
		Action: models.AuditActionUpdate,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, models.AuditActionUpdate, entries[0].Action)
	assert.EqualValues(t, 62, entries[0].NewValue["sleep_score"])
	assert.EqualValues(t, 50, entries[0].OldValue["sleep_score"])
	assert.Equal(t, "10.0.0.1", entries[1].IP)
	assert.Nil(t, entries[1].NewValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Query_FilterByIP(t *testing.T) {
	svc, mock := newService(t, config.Audit{})
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(
		selectColumns+" WHERE ip = ? ORDER BY created_at DESC, id DESC LIMIT 5")).
		WithArgs("203.0.113.7").
		WillReturnRows(entryRows().
			AddRow(int64(4), int64(42), "auth", "session", nil,
				nil, `{"success":false}`, "203.0.113.7", "bot/1.0", "chat:42", now))

	entries, err := svc.Query(context.Background(), audit.QueryFilters{IP: "203.0.113.7", Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "203.0.113.7", entries[0].IP)
	assert.Equal(t, models.AuditActionAuth, entries[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Query_DateRange(t *testing.T) {
	svc, mock := newService(t, config.Audit{})
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		selectColumns+" WHERE created_at >= ? AND created_at < ? ORDER BY created_at DESC, id DESC")).
		WithArgs(from, to).
		WillReturnRows(entryRows())

	entries, err := svc.Query(context.Background(), audit.QueryFilters{From: from, To: to})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_UserTrail(t *testing.T) {
	svc, mock := newService(t, config.Audit{})

	mock.ExpectQuery(regexp.QuoteMeta(
		selectColumns+" WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 5")).
		WithArgs(int64(42)).
		WillReturnRows(entryRows().
			AddRow(int64(3), int64(42), "export", "user", int64(42),
				nil, `{"diary_entries":12}`, "", "", "", time.Now().UTC()))

	entries, err := svc.UserTrail(context.Background(), 42, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionExport, entries[0].Action)
}

func TestService_GetStats(t *testing.T) {
	svc, mock := newService(t, config.Audit{})
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	oldest := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	newest := time.Date(2026, 8, 30, 21, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT action, COUNT(*) FROM audit_log WHERE created_at >= ? AND created_at < ? GROUP BY action")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow("create", int64(10)).
			AddRow("update", int64(4)).
			AddRow("phi_access", int64(25)))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT entity_type, COUNT(*) FROM audit_log WHERE created_at >= ? AND created_at < ? GROUP BY entity_type")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "count"}).
			AddRow("diary_entry", int64(30)).
			AddRow("user", int64(9)))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(DISTINCT user_id) FROM audit_log WHERE user_id IS NOT NULL AND created_at >= ? AND created_at < ?")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT created_at FROM audit_log WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC LIMIT 1")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(oldest))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT created_at FROM audit_log WHERE created_at >= ? AND created_at < ? ORDER BY created_at DESC LIMIT 1")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(newest))

	stats, err := svc.GetStats(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(39), stats.Total)
	assert.Equal(t, int64(10), stats.ByAction[models.AuditActionCreate])
	assert.Equal(t, int64(25), stats.ByAction[models.AuditActionPHIAccess])
	assert.Equal(t, int64(30), stats.ByEntityType["diary_entry"])
	assert.Equal(t, int64(9), stats.ByEntityType["user"])
	assert.Equal(t, int64(3), stats.UniqueUsers)
	require.NotNil(t, stats.OldestAt)
	require.NotNil(t, stats.NewestAt)
	assert.Equal(t, oldest, *stats.OldestAt)
	assert.Equal(t, newest, *stats.NewestAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_GetStats_EmptyTrail(t *testing.T) {
	svc, mock := newService(t, config.Audit{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT action, COUNT(*) FROM audit_log GROUP BY action")).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT entity_type, COUNT(*) FROM audit_log GROUP BY entity_type")).
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "count"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT user_id) FROM audit_log WHERE user_id IS NOT NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT created_at FROM audit_log ORDER BY created_at ASC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT created_at FROM audit_log ORDER BY created_at DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	stats, err := svc.GetStats(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.ByEntityType)
	assert.Nil(t, stats.OldestAt)
	assert.Nil(t, stats.NewestAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Cleanup(t *testing.T) {
	svc, mock := newService(t, config.Audit{RetentionDays: 30})

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log WHERE created_at < ?")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 17))

	deleted, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(17), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Cleanup_DisabledRetention(t *testing.T) {
	svc, mock := newService(t, config.Audit{RetentionDays: 0})

	deleted, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
