package store

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/mattn/go-sqlite3"
)

// isDuplicateKey reports whether err is a unique-constraint violation on
// either engine. Repositories use it to map driver errors onto
// [ErrDuplicateKey] so callers never match on driver types.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	// client-server engine
	if postgresError(err) == pgerrcode.UniqueViolation {
		return true
	}

	// embedded engine
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}

	return false
}
