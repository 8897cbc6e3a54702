// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

// Package migrations holds the versioned schema evolution of the somnia
// store and the runner that applies it to either storage engine.
//
// Migrations are authored once in the embedded engine's dialect; the runner
// translates them for the client-server engine at apply time (see
// TranslateToPostgres). Each migration is an immutable unit: a monotonically
// increasing version, a human name, forward SQL, and reverse SQL.
package migrations

// Migration is one immutable versioned schema change.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// All returns the full embedded migration set in ascending version order.
func All() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_users",
			UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    telegram_id INTEGER NOT NULL UNIQUE,
    username TEXT,
    first_name TEXT,
    timezone TEXT,
    language TEXT,
    consent_given_at DATETIME,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    deleted_at DATETIME
);

CREATE INDEX idx_users_deleted_at ON users (deleted_at);`,
			DownSQL: `DROP TABLE IF EXISTS users;`,
		},
		{
			Version: 2,
			Name:    "create_diary_entries",
			UpSQL: `
CREATE TABLE diary_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users (id),
    entry_date DATETIME NOT NULL,
    sleep_onset_minutes INTEGER NOT NULL DEFAULT 0,
    night_awakenings INTEGER NOT NULL DEFAULT 0,
    total_sleep_minutes INTEGER NOT NULL DEFAULT 0,
    time_in_bed_minutes INTEGER NOT NULL DEFAULT 0,
    sleep_quality INTEGER NOT NULL DEFAULT 0,
    sleep_efficiency REAL NOT NULL DEFAULT 0,
    notes TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    deleted_at DATETIME,
    UNIQUE (user_id, entry_date)
);

CREATE INDEX idx_diary_entries_user_date ON diary_entries (user_id, entry_date);`,
			DownSQL: `DROP TABLE IF EXISTS diary_entries;`,
		},
		{
			Version: 3,
			Name:    "create_assessments",
			UpSQL: `
CREATE TABLE assessments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users (id),
    type TEXT NOT NULL,
    score INTEGER NOT NULL,
    answers TEXT,
    completed_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    deleted_at DATETIME
);

CREATE INDEX idx_assessments_user_type ON assessments (user_id, type, completed_at);`,
			DownSQL: `DROP TABLE IF EXISTS assessments;`,
		},
		{
			Version: 4,
			Name:    "create_sessions",
			UpSQL: `
CREATE TABLE sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    user_id INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL DEFAULT '',
    expires_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    deleted_at DATETIME
);

CREATE INDEX idx_sessions_expires_at ON sessions (expires_at);`,
			DownSQL: `DROP TABLE IF EXISTS sessions;`,
		},
		{
			Version: 5,
			Name:    "create_audit_log",
			UpSQL: `
CREATE TABLE audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id INTEGER,
    old_value TEXT,
    new_value TEXT,
    ip TEXT,
    user_agent TEXT,
    session_id TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX idx_audit_log_user_id ON audit_log (user_id);
CREATE INDEX idx_audit_log_created_at ON audit_log (created_at);
CREATE INDEX idx_audit_log_action ON audit_log (action);`,
			DownSQL: `DROP TABLE IF EXISTS audit_log;`,
		},
	}
}
