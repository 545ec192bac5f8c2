package period

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies one of the three independent scoring windows.
type Type string

const (
	Weekly  Type = "WEEKLY"
	Monthly Type = "MONTHLY"
	AllTime Type = "ALLTIME"
)

// AllTimeKey is the single fixed key for the all-time board.
const AllTimeKey = "alltime"

// ttlMargin keeps weekly/monthly data in the score store past the period's
// natural end, so the scheduler always archives before Redis drops the key.
const ttlMargin = 72 * time.Hour

// ParseType maps the query-string spellings to a period type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "all", "alltime", "all-time":
		return AllTime, nil
	}
	return "", fmt.Errorf("unknown period type %q", s)
}

// Types returns all period types in award order.
func Types() []Type {
	return []Type{Weekly, Monthly, AllTime}
}

// HasTTL reports whether keys of this type expire. ALLTIME keys are permanent.
func (t Type) HasTTL() bool {
	return t != AllTime
}

// CurrentKey derives the period key for the given instant. Exactly one current
// key exists per type: YYYY-Www for weekly, YYYY-MM for monthly, and the fixed
// alltime key.
func (t Type) CurrentKey(now time.Time) string {
	switch t {
	case Weekly:
		return WeekKey(now)
	case Monthly:
		return MonthKey(now)
	default:
		return AllTimeKey
	}
}

// WeekKey formats the ISO 8601 week of t, e.g. 2026-W05. Around New Year the
// ISO year differs from the calendar year, which is why this goes through
// time.ISOWeek instead of formatting t.Year directly.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthKey formats the calendar month of t, e.g. 2026-01.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// TTLUntil returns how long a key touched at now should live: until the
// period's natural end plus the safety margin. Zero means no expiry.
func (t Type) TTLUntil(now time.Time) time.Duration {
	var end time.Time
	switch t {
	case Weekly:
		// ISO weeks end at midnight before Monday.
		days := (8 - int(now.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = midnight.AddDate(0, 0, days)
	case Monthly:
		end = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	default:
		return 0
	}
	return end.Sub(now) + ttlMargin
}
