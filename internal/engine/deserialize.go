package engine

import "time"

// Deserializer coerces one cell value given its column type. The default
// only special-cases "timestamp"; callers may supply their own to cover
// richer type mapping.
type Deserializer func(columnType string, value any) any

// DefaultDeserializer parses a non-null timestamp string as an instant,
// matching the coordinator's "YYYY-MM-DD HH:MM:SS[.sss]" wire format. A
// value that fails to parse is left as the raw string rather than
// dropped. All other types pass through unchanged.
func DefaultDeserializer(columnType string, value any) any {
	if columnType != "timestamp" || value == nil {
		return value
	}
	s, ok := value.(string)
	if !ok {
		return value
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return s
	}
	return t
}

func toRFC3339(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i] + "T" + s[i+1:] + "Z"
		}
	}
	return s + "Z"
}

// parseTimestamp parses the coordinator's space-separated timestamp
// format as an instant, the same semantics as the original client's
// `new Date(...)` coercion.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, toRFC3339(s))
}
