// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

package config

// validate checks that the final merged [StructuredConfig] satisfies all
// application invariants before it is used at startup.
//
// Returns nil if the configuration is valid, or a descriptive error otherwise.
func (cfg *StructuredConfig) validate() error {
	if cfg.Storage.DB.Type != "" &&
		cfg.Storage.DB.Type != EngineSQLite &&
		cfg.Storage.DB.Type != EnginePostgres {
		return ErrInvalidStorageConfigs
	}

	if cfg.Storage.DB.Type == EnginePostgres && cfg.Storage.DB.DSN == "" {
		return ErrInvalidStorageConfigs
	}

	if cfg.Backup.MaxBackups < 1 {
		return ErrInvalidBackupConfigs
	}

	if cfg.Audit.RetentionDays < 1 {
		return ErrInvalidAuditConfigs
	}

	return nil
}
