package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "single statement without trailing semicolon",
			script: "CREATE TABLE t (id INTEGER)",
			want:   []string{"CREATE TABLE t (id INTEGER)"},
		},
		{
			name:   "two statements",
			script: "CREATE TABLE a (id INTEGER);\nCREATE INDEX idx_a ON a (id);",
			want: []string{
				"CREATE TABLE a (id INTEGER)",
				"CREATE INDEX idx_a ON a (id)",
			},
		},
		{
			name:   "semicolon inside single-quoted literal",
			script: "INSERT INTO t VALUES ('a;b'); DELETE FROM t;",
			want: []string{
				"INSERT INTO t VALUES ('a;b')",
				"DELETE FROM t",
			},
		},
		{
			name:   "semicolon inside double-quoted identifier",
			script: `SELECT "weird;name" FROM t; SELECT 1;`,
			want: []string{
				`SELECT "weird;name" FROM t`,
				"SELECT 1",
			},
		},
		{
			name:   "escaped quote inside literal",
			script: "INSERT INTO t VALUES ('it''s; fine'); SELECT 1;",
			want: []string{
				"INSERT INTO t VALUES ('it''s; fine')",
				"SELECT 1",
			},
		},
		{
			name:   "semicolon inside line comment",
			script: "CREATE TABLE t (\n  id INTEGER -- primary; key\n);\nSELECT 1;",
			want: []string{
				"CREATE TABLE t (\n  id INTEGER -- primary; key\n)",
				"SELECT 1",
			},
		},
		{
			name:   "quote inside line comment",
			script: "SELECT 1; -- it's a comment\nSELECT 2;",
			want: []string{
				"SELECT 1",
				"-- it's a comment\nSELECT 2",
			},
		},
		{
			name:   "empty statements dropped",
			script: " ; ;SELECT 1; ;",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "empty script",
			script: "   \n  ",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

func TestSplitStatements_WholeMigrationSet(t *testing.T) {
	// Every embedded migration must split into at least one statement in
	// both directions.
	for _, m := range All() {
		if got := SplitStatements(m.UpSQL); len(got) == 0 {
			t.Errorf("migration %d %q: up script produced no statements", m.Version, m.Name)
		}
		if got := SplitStatements(m.DownSQL); len(got) == 0 {
			t.Errorf("migration %d %q: down script produced no statements", m.Version, m.Name)
		}
	}
}
