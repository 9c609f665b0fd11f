package history

import (
	"fmt"
	"time"
)

// TimeLayout is the persisted timestamp format. It is fixed width and always
// UTC, so string order in SQL equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000"

// parseLayouts are tried in order by ParseTime.
var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// NormalizeTime converts t to UTC at microsecond precision, the resolution
// that survives a round trip through TimeLayout.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NormalizeTime(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}
