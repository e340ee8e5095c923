// Package timeutil provides calendar-day helpers bound to a configurable
// business timezone. Streaks and "completed today" counts are measured in
// the company's local days, not UTC days.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Common date formats.
const (
	FormatDate     = "2006-01-02"
	FormatTime     = "15:04"
	FormatDateTime = "2006-01-02 15:04"
)

// Clock returns the current time. Production code uses time.Now; tests
// pass a fixed function.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// Fixed returns a clock that always reports t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// Zone is a timezone used for calendar-day arithmetic.
type Zone struct {
	loc *time.Location
}

// UTC is the default zone.
var UTC = Zone{loc: time.UTC}

// LoadZone loads an IANA zone. An empty name yields UTC.
func LoadZone(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("timeutil: load zone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// NewZone wraps an existing location.
func NewZone(loc *time.Location) Zone {
	if loc == nil {
		loc = time.UTC
	}
	return Zone{loc: loc}
}

// Location returns the underlying location.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// String returns the zone name.
func (z Zone) String() string {
	return z.Location().String()
}

// In converts t into the zone.
func (z Zone) In(t time.Time) time.Time {
	return t.In(z.Location())
}

// StartOfDay returns local midnight of t's day.
func (z Zone) StartOfDay(t time.Time) time.Time {
	l := z.In(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, z.Location())
}

// EndOfDay returns the last nanosecond of t's local day.
func (z Zone) EndOfDay(t time.Time) time.Time {
	l := z.In(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 23, 59, 59, 999999999, z.Location())
}

// DayKey returns the local calendar date of t as YYYY-MM-DD.
func (z Zone) DayKey(t time.Time) string {
	return z.In(t).Format(FormatDate)
}

// IsSameDay reports whether t1 and t2 fall on the same local day.
func (z Zone) IsSameDay(t1, t2 time.Time) bool {
	return z.DayKey(t1) == z.DayKey(t2)
}

// IsToday reports whether t falls on now's local day.
func (z Zone) IsToday(t, now time.Time) bool {
	return z.IsSameDay(t, now)
}

// DaysBetween returns the signed number of calendar days from t1 to t2.
// Calendar arithmetic keeps DST transitions from shortening a day.
func (z Zone) DaysBetween(t1, t2 time.Time) int {
	a, b := z.In(t1), z.In(t2)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// ParseDate parses YYYY-MM-DD as local midnight.
func (z Zone) ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, z.Location())
}

// FormatDate formats t as YYYY-MM-DD in the zone.
func (z Zone) FormatDate(t time.Time) string {
	return z.In(t).Format(FormatDate)
}

// FormatRelative returns a short human-readable distance between t and now.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return formatFuture(-d)
	}
	return formatPast(d)
}

func formatPast(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "yesterday"
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatFuture(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("in %dh", int(d.Hours()))
	case d < 48*time.Hour:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %dd", int(d.Hours()/24))
	}
}
