package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noctua-health/somnia/internal/audit"
	"github.com/noctua-health/somnia/internal/backup"
	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/crypto"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/privacy"
	"github.com/noctua-health/somnia/internal/store"
	"github.com/noctua-health/somnia/migrations"
	"github.com/noctua-health/somnia/models"
)

const testSignKey = "ops-test-secret"

type testEnv struct {
	server  *Server
	conn    *store.SQLiteConnection
	users   *store.UserRepository
	auditor *audit.Service
}

// newTestEnv boots the full stack on a temporary embedded database: schema
// migrations, encrypted repositories, audit, privacy, backups, and the
// router itself.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	conn := store.NewSQLiteConnection(config.DB{
		SQLitePath:  filepath.Join(t.TempDir(), "somnia.db"),
		BusyTimeout: time.Second,
	}, log)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { conn.Close() })

	_, err := migrations.NewRunner(conn, log).Migrate(ctx, migrations.All())
	require.NoError(t, err)

	cipher, err := crypto.NewPHIManager(config.Encryption{MasterKey: strings.Repeat("a", 64)}, log)
	require.NoError(t, err)

	users := store.NewUserRepository(conn, cipher, log)
	diary := store.NewDiaryRepository(conn, cipher, log)
	assessments := store.NewAssessmentRepository(conn, cipher, log)

	auditor := audit.NewService(conn, config.Audit{LogPHIReads: true}, log)
	privacySvc := privacy.NewService(conn, users, diary, assessments, auditor, log)
	backups := backup.NewService(conn, config.Backup{Dir: t.TempDir(), Compress: true}, nil, nil, log)

	srv := New(config.Ops{Address: "127.0.0.1:0", RequestTimeout: 5 * time.Second},
		testSignKey, conn, backups, nil, auditor, privacySvc, log)

	return &testEnv{server: srv, conn: conn, users: users, auditor: auditor}
}

func (e *testEnv) request(t *testing.T, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.http.Handler.ServeHTTP(rec, req)
	return rec
}

func signedToken(t *testing.T, key string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sqlite", body["engine"])
}

func TestServer_BearerAuth(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/backups/", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/backups/", signedToken(t, "not-the-key"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "ops",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}).SignedString([]byte(testSignKey))
		require.NoError(t, err)

		rec := env.request(t, http.MethodGet, "/backups/", expired)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/backups/", signedToken(t, testSignKey))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestServer_BackupRunAndVerify(t *testing.T) {
	env := newTestEnv(t)
	token := signedToken(t, testSignKey)

	rec := env.request(t, http.MethodPost, "/backups/run?tier=manual", token)
	require.Equal(t, http.StatusCreated, rec.Code)

	var record models.BackupMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, models.BackupTierManual, record.Tier)
	require.NotEmpty(t, record.ID)

	rec = env.request(t, http.MethodPost, "/backups/"+record.ID+"/verify", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var verdict map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.Equal(t, true, verdict["valid"])

	rec = env.request(t, http.MethodPost, "/backups/no-such-id/verify", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BackupRun_UnknownTier(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/backups/run?tier=hourly", signedToken(t, testSignKey))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AuditEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := signedToken(t, testSignKey)
	ctx := context.Background()

	userID := int64(42)
	entityID := int64(7)
	require.NoError(t, env.auditor.LogCreate(ctx, &userID, "diary_entry", &entityID,
		map[string]any{"sleep_quality": 4}))

	rec := env.request(t, http.MethodGet, "/audit/?user_id=42", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []*models.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionCreate, entries[0].Action)
	assert.Equal(t, "diary_entry", entries[0].EntityType)

	rec = env.request(t, http.MethodGet, "/audit/stats", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats audit.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByEntityType["diary_entry"])
	require.NotNil(t, stats.NewestAt)

	rec = env.request(t, http.MethodGet, "/audit/?from=not-a-timestamp", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PrivacyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := signedToken(t, testSignKey)
	ctx := context.Background()

	user, err := env.users.Insert(ctx, &models.User{
		TelegramID: 4242,
		Username:   "alice",
		FirstName:  "Alice",
		Timezone:   "Europe/Berlin",
		Language:   "de",
		Active:     true,
	})
	require.NoError(t, err)
	id := strconv.FormatInt(*user.ID, 10)

	rec := env.request(t, http.MethodGet, "/privacy/users/"+id+"/export", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var export privacy.Export
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Equal(t, "Alice", export.User.FirstName)
	assert.Equal(t, int64(1), export.RowCounts["users"])

	rec = env.request(t, http.MethodDelete, "/privacy/users/"+id, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var result privacy.EraseResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.UserAnonymized)

	rec = env.request(t, http.MethodGet, "/privacy/users/"+id+"/export", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodGet, "/privacy/users/999/export", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusWriter_RecordsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	assert.Equal(t, http.StatusOK, w.status)

	w.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, w.status)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
