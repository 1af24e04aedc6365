package aggregator

import (
	"strings"
	"time"
)

const msPerDay = 24 * 60 * 60 * 1000

// isoLayout matches JavaScript's Date.prototype.toISOString output.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// Zoneless layouts are read as UTC.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
	time.RFC1123Z,
	time.RFC1123,
}

// parseCreatedAt returns false for missing or unparsable timestamps.
func parseCreatedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// utcDayIndex counts UTC calendar days since the Unix epoch.
func utcDayIndex(t time.Time) int64 {
	return floorDiv(t.UTC().UnixMilli(), msPerDay)
}

func dayStart(dayIndex int64) time.Time {
	return time.UnixMilli(dayIndex * msPerDay).UTC()
}

func formatISO(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(isoLayout)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
