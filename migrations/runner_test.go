package migrations_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store/storetest"
	"github.com/noctua-health/somnia/migrations"
)

var testSet = []migrations.Migration{
	{
		Version: 1,
		Name:    "create_widgets",
		UpSQL:   "CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);",
		DownSQL: "DROP TABLE widgets;",
	},
	{
		Version: 2,
		Name:    "index_widgets",
		UpSQL:   "CREATE INDEX idx_widgets_name ON widgets (name);",
		DownSQL: "DROP INDEX idx_widgets_name;",
	},
}

func newRunner(t *testing.T, engine string) (*migrations.Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := storetest.New(db, engine)
	return migrations.NewRunner(conn, logger.Nop()), mock
}

func expectVersionQuery(mock sqlmock.Sqlmock, version int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(version))
}

func TestRunner_Migrate_AppliesPendingInOrder(t *testing.T) {
	runner, mock := newRunner(t, "sqlite")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionQuery(mock, 0)

	for _, m := range testSet {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(migrations.SplitStatements(m.UpSQL)[0])).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version,name,applied_at) VALUES (?,?,?)")).
			WithArgs(m.Version, m.Name, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	applied, err := runner.Migrate(context.Background(), testSet)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Migrate_SkipsApplied(t *testing.T) {
	runner, mock := newRunner(t, "sqlite")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionQuery(mock, 1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX idx_widgets_name ON widgets (name)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(int64(2), "index_widgets", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Migrate(context.Background(), testSet)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Migrate_FailureRollsBack(t *testing.T) {
	runner, mock := newRunner(t, "sqlite")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionQuery(mock, 0)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE widgets").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	applied, err := runner.Migrate(context.Background(), testSet)
	assert.ErrorIs(t, err, migrations.ErrMigrationFailed)
	assert.Equal(t, 0, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Migrate_TranslatesForPostgres(t *testing.T) {
	runner, mock := newRunner(t, "postgres")

	// The version table DDL itself must arrive translated.
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations.*TIMESTAMPTZ NOT NULL DEFAULT \\(NOW\\(\\)\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectVersionQuery(mock, 1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX idx_widgets_name ON widgets (name)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version,name,applied_at) VALUES ($1,$2,$3)")).
		WithArgs(int64(2), "index_widgets", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := runner.Migrate(context.Background(), testSet)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_RollbackTo(t *testing.T) {
	runner, mock := newRunner(t, "sqlite")

	expectVersionQuery(mock, 2)

	// Reverts run in descending version order, each in its own transaction.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP INDEX idx_widgets_name")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schema_migrations WHERE version = ?")).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE widgets")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schema_migrations WHERE version = ?")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reverted, err := runner.RollbackTo(context.Background(), 0, testSet)
	require.NoError(t, err)
	assert.Equal(t, 2, reverted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_RollbackTo_TargetAboveCurrent(t *testing.T) {
	runner, mock := newRunner(t, "sqlite")
	expectVersionQuery(mock, 1)

	_, err := runner.RollbackTo(context.Background(), 5, testSet)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Pending(t *testing.T) {
	runner, mock := newRunner(t, "sqlite")
	expectVersionQuery(mock, 1)

	pending, err := runner.Pending(context.Background(), testSet)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].Version)
}
