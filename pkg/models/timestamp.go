package models

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are the ISO-8601 variants accepted at the system boundary.
// The last two cover SQLite's datetime('now') output.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp into a UTC instant.
// Zone-less values are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: expected ISO-8601", s)
}

// ParseOptionalTimestamp is ParseTimestamp for nullable fields: empty input yields nil.
func ParseOptionalTimestamp(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// storageLayout is fixed-width so stored values sort correctly as text.
const storageLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in the canonical storage/wire format (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(storageLayout)
}
