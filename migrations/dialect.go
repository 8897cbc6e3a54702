package migrations

import (
	"fmt"
	"regexp"
	"strings"
)

// Rewrite rules for porting a statement authored in the embedded engine's
// dialect to the client-server engine. Order matters: the autoincrement and
// datetime rules must run before the bare type-name rules.
var (
	reAutoincrement = regexp.MustCompile(`(?i)INTEGER\s+PRIMARY\s+KEY\s+AUTOINCREMENT`)
	reDatetimeShift = regexp.MustCompile(`(?i)datetime\(\s*'now'\s*,\s*'([+-])(\d+)\s+(\w+)'\s*\)`)
	reDatetimeNow   = regexp.MustCompile(`(?i)datetime\(\s*'now'\s*\)`)
	reDatetimeType  = regexp.MustCompile(`(?i)\bDATETIME\b`)
	reRealType      = regexp.MustCompile(`(?i)\bREAL\b`)
	reBlobType      = regexp.MustCompile(`(?i)\bBLOB\b`)
	reSqliteMaster  = regexp.MustCompile(`(?i)\bsqlite_master\b`)
	reNameColumn    = regexp.MustCompile(`\bname\b`)
	rePragma        = regexp.MustCompile(`(?i)^\s*PRAGMA\b`)
)

// TranslateToPostgres rewrites one embedded-dialect statement for the
// client-server engine. It returns the rewritten statement and true, or
// ("", false) when the statement has no equivalent and must be dropped
// (source-engine-only pragmas).
//
// Rewrites applied:
//   - INTEGER PRIMARY KEY AUTOINCREMENT → BIGSERIAL PRIMARY KEY
//   - datetime('now') and relative offsets → NOW() ± INTERVAL
//   - DATETIME → TIMESTAMPTZ, REAL → DOUBLE PRECISION, BLOB → BYTEA
//   - sqlite_master introspection → pg_catalog.pg_tables
func TranslateToPostgres(stmt string) (string, bool) {
	if rePragma.MatchString(stmt) {
		return "", false
	}

	out := reAutoincrement.ReplaceAllString(stmt, "BIGSERIAL PRIMARY KEY")

	out = reDatetimeShift.ReplaceAllStringFunc(out, func(m string) string {
		parts := reDatetimeShift.FindStringSubmatch(m)
		sign := "+"
		if parts[1] == "-" {
			sign = "-"
		}
		return fmt.Sprintf("NOW() %s INTERVAL '%s %s'", sign, parts[2], parts[3])
	})
	out = reDatetimeNow.ReplaceAllString(out, "NOW()")

	out = reDatetimeType.ReplaceAllString(out, "TIMESTAMPTZ")
	out = reRealType.ReplaceAllString(out, "DOUBLE PRECISION")
	out = reBlobType.ReplaceAllString(out, "BYTEA")

	if reSqliteMaster.MatchString(out) {
		out = reSqliteMaster.ReplaceAllString(out, "pg_catalog.pg_tables")
		out = strings.ReplaceAll(out, "type = 'table' AND ", "")
		// Only the bare introspection column; identifiers that merely
		// contain "name" (username, first_name) must survive.
		out = reNameColumn.ReplaceAllString(out, "tablename")
	}

	return out, true
}

// TranslateScript splits a whole embedded-dialect script and translates each
// statement, dropping the ones with no client-server equivalent.
func TranslateScript(script string) []string {
	var out []string
	for _, stmt := range SplitStatements(script) {
		translated, keep := TranslateToPostgres(stmt)
		if keep {
			out = append(out, translated)
		}
	}
	return out
}
