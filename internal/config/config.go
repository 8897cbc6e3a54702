// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

package config

import (
	"time"
)

// Database engine selector values accepted by Storage.DB.Type.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// StructuredConfig is the top-level configuration container for the somnia
// persistence service. It aggregates all sub-configurations and is populated
// by merging values from environment variables, command-line flags, and an
// optional JSON file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// App holds application-level settings such as the deployment
	// environment name and the ops API token signing key.
	App App `envPrefix:"APP_"`

	// Storage holds configuration for the relational database backends.
	Storage Storage `envPrefix:"STORAGE_"`

	// Encryption holds the PHI field-encryption settings.
	Encryption Encryption `envPrefix:"PHI_"`

	// Audit holds retention and verbosity settings for the audit log.
	Audit Audit `envPrefix:"AUDIT_"`

	// Backup holds snapshot directory, tier schedules, retention windows,
	// and the optional cloud/webhook integrations.
	Backup Backup `envPrefix:"BACKUP_"`

	// Ops holds the operator HTTP API settings.
	Ops Ops `envPrefix:"OPS_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG" json:"-"`
}

// App holds application-level configuration values.
type App struct {
	// Environment is the deployment environment name ("development",
	// "staging", "production"). The connection factory warns when a
	// production process falls back to the embedded engine.
	// Env: APP_ENV
	Environment string `env:"ENV" envDefault:"development" json:"environment"`

	// TokenSignKey is the secret key used to sign and verify the JWT
	// bearer tokens accepted by the ops API. Must be kept confidential.
	// Env: APP_TOKEN_SIGN_KEY
	TokenSignKey string `env:"TOKEN_SIGN_KEY" json:"token_sign_key"`
}

// Storage groups the configuration for the relational database backends.
type Storage struct {
	// DB holds the engine selection and connection settings.
	DB DB `envPrefix:"DB_"`
}

// DB holds connection settings for both storage engines. Exactly one engine
// is active per process; the factory resolves which one (see store.Open).
type DB struct {
	// Type explicitly selects the engine ("sqlite" or "postgres").
	// When empty the factory infers the engine from DATABASE_URL.
	// Env: STORAGE_DB_DATABASE_TYPE
	Type string `env:"DATABASE_TYPE" json:"type"`

	// DSN is the PostgreSQL connection string. Its presence implies the
	// client-server engine when Type is unset.
	// Env: STORAGE_DB_DATABASE_URL
	DSN string `env:"DATABASE_URL" json:"dsn"`

	// SQLitePath is the embedded database file path, used when the
	// embedded engine is selected.
	// Env: STORAGE_DB_SQLITE_PATH
	SQLitePath string `env:"SQLITE_PATH" envDefault:"./data/somnia.db" json:"sqlite_path"`

	// MaxOpenConns bounds the client-server engine's connection pool.
	// Env: STORAGE_DB_MAX_OPEN_CONNS
	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"10" json:"max_open_conns"`

	// BusyTimeout is the embedded engine's lock wait budget.
	// Env: STORAGE_DB_BUSY_TIMEOUT
	BusyTimeout time.Duration `env:"BUSY_TIMEOUT" envDefault:"5s" json:"busy_timeout"`

	// CacheSizeKiB is the embedded engine's page-cache budget in KiB.
	// Env: STORAGE_DB_CACHE_SIZE_KIB
	CacheSizeKiB int `env:"CACHE_SIZE_KIB" envDefault:"64000" json:"cache_size_kib"`

	// MmapSizeBytes is the embedded engine's memory-map window.
	// Env: STORAGE_DB_MMAP_SIZE_BYTES
	MmapSizeBytes int64 `env:"MMAP_SIZE_BYTES" envDefault:"268435456" json:"mmap_size_bytes"`
}

// Encryption holds the PHI field-encryption settings.
type Encryption struct {
	// MasterKey is the field-encryption master key: either 64 hex
	// characters (raw 256-bit key) or an arbitrary passphrase that is
	// stretched into one. Empty disables field encryption with a startup
	// warning — acceptable for local development only.
	// Env: PHI_ENCRYPTION_KEY
	MasterKey string `env:"ENCRYPTION_KEY" json:"-"`

	// HashKey keys the deterministic lookup digest so equality indexes
	// over encrypted columns do not expose the underlying value.
	// Env: PHI_HASH_KEY
	HashKey string `env:"HASH_KEY" json:"-"`
}

// Audit holds audit-log retention and verbosity settings.
type Audit struct {
	// RetentionDays is the horizon past which the cleanup job may delete
	// entries. Defaults to six years.
	// Env: AUDIT_RETENTION_DAYS
	RetentionDays int `env:"RETENTION_DAYS" envDefault:"2190" json:"retention_days"`

	// LogPHIReads toggles per-access logging on PHI read paths. Writes
	// are always logged regardless of this flag.
	// Env: AUDIT_LOG_PHI_READS
	LogPHIReads bool `env:"LOG_PHI_READS" envDefault:"true" json:"log_phi_reads"`
}

// Backup holds snapshot and retention settings for the backup subsystem.
type Backup struct {
	// Dir is the directory snapshots and the metadata list are written to.
	// Env: BACKUP_DIR
	Dir string `env:"DIR" envDefault:"./backups" json:"dir"`

	// Tier intervals. Each tier fires independently.
	DailyInterval   time.Duration `env:"DAILY_INTERVAL" envDefault:"24h" json:"daily_interval"`
	WeeklyInterval  time.Duration `env:"WEEKLY_INTERVAL" envDefault:"168h" json:"weekly_interval"`
	MonthlyInterval time.Duration `env:"MONTHLY_INTERVAL" envDefault:"720h" json:"monthly_interval"`

	// GFS retention windows, in tier units.
	DailyRetentionDays     int `env:"DAILY_RETENTION_DAYS" envDefault:"7" json:"daily_retention_days"`
	WeeklyRetentionWeeks   int `env:"WEEKLY_RETENTION_WEEKS" envDefault:"4" json:"weekly_retention_weeks"`
	MonthlyRetentionMonths int `env:"MONTHLY_RETENTION_MONTHS" envDefault:"12" json:"monthly_retention_months"`

	// MaxBackups caps the number of retained snapshot files; the oldest
	// are deleted first once the cap is exceeded.
	// Env: BACKUP_MAX_BACKUPS
	MaxBackups int `env:"MAX_BACKUPS" envDefault:"60" json:"max_backups"`

	// MaxAge is the health-alert threshold: time since the last
	// successful snapshot of any tier before the hourly health check
	// raises an alert.
	// Env: BACKUP_MAX_AGE
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"26h" json:"max_age"`

	// Encrypt enables in-place snapshot encryption using the PHI master key.
	// Env: BACKUP_ENCRYPT
	Encrypt bool `env:"ENCRYPT" json:"encrypt"`

	// Compress gzips snapshots before optional encryption.
	// Env: BACKUP_COMPRESS
	Compress bool `env:"COMPRESS" envDefault:"true" json:"compress"`

	// S3Bucket enables cloud upload when non-empty.
	// Env: BACKUP_S3_BUCKET, BACKUP_S3_REGION, BACKUP_S3_ENDPOINT
	S3Bucket   string `env:"S3_BUCKET" json:"s3_bucket"`
	S3Region   string `env:"S3_REGION" json:"s3_region"`
	S3Endpoint string `env:"S3_ENDPOINT" json:"s3_endpoint"`

	// Static object-store credentials for self-hosted S3-compatible
	// backends. When empty the standard AWS credential chain applies.
	// Env: BACKUP_S3_ACCESS_KEY_ID, BACKUP_S3_SECRET_ACCESS_KEY
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID" json:"-"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY" json:"-"`

	// AlertWebhookURL receives health alerts as JSON POSTs when set.
	// Env: BACKUP_ALERT_WEBHOOK_URL
	AlertWebhookURL string `env:"ALERT_WEBHOOK_URL" json:"alert_webhook_url"`
}

// Ops holds the operator HTTP API settings.
type Ops struct {
	// Address is the TCP address the ops API listens on, "host:port".
	// Env: OPS_ADDRESS
	Address string `env:"ADDRESS" envDefault:"0.0.0.0:8090" json:"address"`

	// RequestTimeout bounds a single inbound request.
	// Env: OPS_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s" json:"request_timeout"`
}

// GetStructuredConfig loads, merges, and validates the application
// configuration from all available sources in the following priority order
// (last source wins for non-zero fields):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		build()
}
