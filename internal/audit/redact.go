package audit

import "strings"

// RedactedValue replaces any snapshot value whose key looks sensitive.
const RedactedValue = "[REDACTED]"

// sensitiveKeyFragments are matched case-insensitively as substrings of a
// snapshot key. Matching is deliberately broad: an audit trail that leaks a
// credential is worse than one with an over-redacted field.
var sensitiveKeyFragments = []string{
	"password",
	"token",
	"secret",
	"key",
	"ssn",
	"credit",
	"card",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Redact returns a deep copy of the snapshot with every sensitive value
// replaced. Nested maps and slices are walked recursively; the input is
// never mutated.
func Redact(snapshot map[string]any) map[string]any {
	if snapshot == nil {
		return nil
	}

	out := make(map[string]any, len(snapshot))
	for key, value := range snapshot {
		if isSensitiveKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Redact(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}
