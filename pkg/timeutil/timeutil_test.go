package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadZone(t *testing.T) {
	z, err := LoadZone("")
	require.NoError(t, err)
	assert.Equal(t, "UTC", z.String())

	_, err = LoadZone("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestZone_DayBoundaries(t *testing.T) {
	z := NewZone(time.FixedZone("UTC+5", 5*60*60))

	// 20:30 UTC is already the next day at UTC+5.
	ts := time.Date(2026, 3, 10, 20, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-11", z.DayKey(ts))
	assert.Equal(t, 11, z.StartOfDay(ts).Day())
	assert.Equal(t, 23, z.EndOfDay(ts).Hour())

	assert.True(t, z.IsSameDay(ts, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)))
	assert.False(t, UTC.IsSameDay(ts, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)))
}

func TestZone_DaysBetween(t *testing.T) {
	a := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2026, 1, 3, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, UTC.DaysBetween(a, b))
	assert.Equal(t, -2, UTC.DaysBetween(b, a))
	assert.Equal(t, 0, UTC.DaysBetween(a, a))
}

func TestZone_ParseAndFormat(t *testing.T) {
	d, err := UTC.ParseDate("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", UTC.FormatDate(d))
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", FormatRelative(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", FormatRelative(now.Add(-5*time.Minute), now))
	assert.Equal(t, "yesterday", FormatRelative(now.Add(-30*time.Hour), now))
	assert.Equal(t, "in 3d", FormatRelative(now.Add(72*time.Hour), now))
}

func TestFixedClock(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, Fixed(ts)())
}
