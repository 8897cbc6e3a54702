package config

import "errors"

// Validation errors returned by [StructuredConfig.validate] when required
// configuration groups are incomplete or invalid.
var (
	// ErrInvalidStorageConfigs indicates invalid storage settings (for
	// example, an unknown engine type, or the client-server engine
	// selected without a connection string).
	ErrInvalidStorageConfigs = errors.New("invalid storage configuration")
	// ErrInvalidBackupConfigs indicates invalid backup settings (for
	// example, a non-positive retained-snapshots cap).
	ErrInvalidBackupConfigs = errors.New("invalid backup configuration")
	// ErrInvalidAuditConfigs indicates invalid audit settings (for
	// example, a non-positive retention horizon).
	ErrInvalidAuditConfigs = errors.New("invalid audit configuration")
)

// ErrParsingEnv wraps failures to read configuration from the environment,
// such as a value that cannot be converted to its field type.
var ErrParsingEnv = errors.New("failed to parse environment configuration")
