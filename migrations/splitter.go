package migrations

import "strings"

// SplitStatements splits a migration script on statement boundaries.
// Semicolons inside single- or double-quoted string literals or inside `--`
// line comments do not split a statement; a doubled quote inside a literal
// escapes it, per SQL rules. Empty statements (stray whitespace between
// semicolons) are dropped.
func SplitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	var inSingle, inDouble, inComment bool
	runes := []rune(script)

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if inComment {
			if ch == '\n' {
				inComment = false
			}
			current.WriteRune(ch)
			continue
		}

		switch {
		case ch == '-' && !inSingle && !inDouble && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
		case ch == '\'' && !inDouble:
			// A doubled quote is an escaped quote, not a close.
			if inSingle && i+1 < len(runes) && runes[i+1] == '\'' {
				current.WriteRune(ch)
				current.WriteRune(runes[i+1])
				i++
				continue
			}
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			if inDouble && i+1 < len(runes) && runes[i+1] == '"' {
				current.WriteRune(ch)
				current.WriteRune(runes[i+1])
				i++
				continue
			}
			inDouble = !inDouble
		case ch == ';' && !inSingle && !inDouble:
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteRune(ch)
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}
