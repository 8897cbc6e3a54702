package store

import (
	"os"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
)

// NewConnection selects the concrete storage engine. Priority order:
//
//  1. explicit Type in the storage config (set by flag or DATABASE_TYPE);
//  2. a non-empty connection string, which implies the client-server engine;
//  3. the embedded engine as a bare development fallback.
//
// A production process falling through to the embedded fallback gets a
// warning: it almost always means DATABASE_URL went missing from the
// deployment environment.
//
// The returned connection is not yet connected; callers own the
// Connect/Close lifecycle.
func NewConnection(cfg *config.StructuredConfig, log *logger.Logger) Connection {
	db := cfg.Storage.DB

	switch db.Type {
	case config.EngineSQLite:
		return NewSQLiteConnection(db, log)
	case config.EnginePostgres:
		return NewPostgresConnection(db, log)
	}

	if db.DSN != "" {
		return NewPostgresConnection(db, log)
	}

	if isProduction(cfg.App.Environment) {
		log.Warn().Str("func", "NewConnection").
			Str("sqlite_path", db.SQLitePath).
			Msg("production environment without a connection string: falling back to the embedded engine")
	}

	return NewSQLiteConnection(db, log)
}

func isProduction(environment string) bool {
	if environment == "" {
		environment = os.Getenv("APP_ENV")
	}
	return environment == "production"
}
