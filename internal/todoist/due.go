package todoist

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimezone is used when no zone is configured.
const DefaultTimezone = "America/Denver"

const (
	floatingLayout = "2006-01-02T15:04:05"
	dateLayout     = "2006-01-02"
)

// LoadLocation resolves name, falling back to DefaultTimezone when empty.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("todoist: load timezone %q: %w", name, err)
	}
	return loc, nil
}

// DueFromMillis converts an epoch-millisecond due timestamp into the RFC 3339
// datetime the API accepts, expressed in loc. Zero means no due date.
func DueFromMillis(ms int64, loc *time.Location) string {
	if ms <= 0 {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format(time.RFC3339)
}

// Millis converts a due object into epoch milliseconds. Floating datetimes and
// all-day dates are read in the task's own timezone when it has one, else loc.
func (d *Due) Millis(loc *time.Location) (int64, error) {
	if d == nil {
		return 0, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if d.Timezone != "" {
		if tz, err := time.LoadLocation(d.Timezone); err == nil {
			loc = tz
		}
	}

	if d.Datetime != "" {
		if t, err := time.Parse(time.RFC3339, d.Datetime); err == nil {
			return t.UnixMilli(), nil
		}
		t, err := time.ParseInLocation(floatingLayout, d.Datetime, loc)
		if err != nil {
			return 0, fmt.Errorf("todoist: parse due datetime %q: %w", d.Datetime, err)
		}
		return t.UnixMilli(), nil
	}
	if d.Date != "" {
		t, err := time.ParseInLocation(dateLayout, d.Date, loc)
		if err != nil {
			return 0, fmt.Errorf("todoist: parse due date %q: %w", d.Date, err)
		}
		return t.UnixMilli(), nil
	}
	return 0, nil
}
