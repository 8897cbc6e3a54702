package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *StructuredConfig {
	return &StructuredConfig{
		Storage: Storage{DB: DB{Type: EngineSQLite, SQLitePath: "./data/somnia.db"}},
		Backup:  Backup{MaxBackups: 60},
		Audit:   Audit{RetentionDays: 2190},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *StructuredConfig)
		wantErr error
	}{
		{
			name:   "valid sqlite",
			mutate: func(cfg *StructuredConfig) {},
		},
		{
			name: "valid postgres",
			mutate: func(cfg *StructuredConfig) {
				cfg.Storage.DB.Type = EnginePostgres
				cfg.Storage.DB.DSN = "postgres://localhost/somnia"
			},
		},
		{
			name:   "empty engine deferred to factory",
			mutate: func(cfg *StructuredConfig) { cfg.Storage.DB.Type = "" },
		},
		{
			name:    "unknown engine",
			mutate:  func(cfg *StructuredConfig) { cfg.Storage.DB.Type = "oracle" },
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *StructuredConfig) {
				cfg.Storage.DB.Type = EnginePostgres
				cfg.Storage.DB.DSN = ""
			},
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name:    "zero backup cap",
			mutate:  func(cfg *StructuredConfig) { cfg.Backup.MaxBackups = 0 },
			wantErr: ErrInvalidBackupConfigs,
		},
		{
			name:    "zero audit retention",
			mutate:  func(cfg *StructuredConfig) { cfg.Audit.RetentionDays = 0 },
			wantErr: ErrInvalidAuditConfigs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "somnia.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"app": {"environment": "staging"},
		"storage": {"db": {"type": "sqlite", "sqlite_path": "/var/lib/somnia/somnia.db"}},
		"backup": {"dir": "/var/backups/somnia", "daily_interval": "24h", "max_age": "26h"},
		"ops": {"address": "127.0.0.1:8090", "request_timeout": "15s"}
	}`), 0o600))

	cfg, err := parseJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, EngineSQLite, cfg.Storage.DB.Type)
	assert.Equal(t, "/var/lib/somnia/somnia.db", cfg.Storage.DB.SQLitePath)
	assert.Equal(t, "/var/backups/somnia", cfg.Backup.Dir)
	assert.Equal(t, 24*time.Hour, cfg.Backup.DailyInterval)
	assert.Equal(t, 26*time.Hour, cfg.Backup.MaxAge)
	assert.Equal(t, 15*time.Second, cfg.Ops.RequestTimeout)
}

func TestParseJSON_MissingFile(t *testing.T) {
	_, err := parseJSON(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`"90m"`), &d))
	assert.Equal(t, 90*time.Minute, time.Duration(d))

	require.NoError(t, json.Unmarshal([]byte(`3600000000000`), &d))
	assert.Equal(t, time.Hour, time.Duration(d))

	assert.Error(t, json.Unmarshal([]byte(`"not-a-duration"`), &d))
}
