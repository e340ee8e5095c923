package progress

import (
	"sort"
	"time"

	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streak tracks consecutive local days with at least one completion.
type Streak struct {
	// Current - length of the run ending on LastActiveDay.
	Current int

	// Best - longest run seen.
	Best int

	// LastActiveDay - local midnight of the most recent active day.
	LastActiveDay time.Time

	zone timeutil.Zone
}

// NewStreak creates a streak tracker for a zone.
func NewStreak(zone timeutil.Zone) *Streak {
	return &Streak{zone: zone}
}

// RecordActivity folds one activity time into the streak. Times must be
// fed in ascending order.
func (s *Streak) RecordActivity(at time.Time) {
	day := s.zone.StartOfDay(at)

	if s.LastActiveDay.IsZero() {
		s.Current = 1
		s.Best = 1
		s.LastActiveDay = day
		return
	}

	switch s.zone.DaysBetween(s.LastActiveDay, day) {
	case 0:
		return
	case 1:
		s.Current++
		if s.Current > s.Best {
			s.Best = s.Current
		}
	default:
		s.Current = 1
	}
	s.LastActiveDay = day
}

// ActiveAt returns the streak length as seen at now: a run that ended
// before yesterday is broken and counts as zero.
func (s *Streak) ActiveAt(now time.Time) int {
	if s.LastActiveDay.IsZero() {
		return 0
	}
	if s.zone.DaysBetween(s.LastActiveDay, now) > 1 {
		return 0
	}
	return s.Current
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// BuildStats derives the achievement statistics from a user's rows and the
// guidance catalog. Rows are deduplicated first, and only explicitly
// completed rows for steps present in the catalog count.
func BuildStats(sections []guidance.Section, steps []guidance.Step, rows []StepProgress, now time.Time, zone timeutil.Zone) achievement.Stats {
	report := NewAggregator().Steps(sections, steps, rows)
	completed := CompletedKeys(rows)

	var stats achievement.Stats
	var (
		durationSum float64
		durationN   int
		activity    []time.Time
	)

	for _, st := range steps {
		r, ok := completed[Key{SectionID: st.SectionID, StepID: st.ID}]
		if !ok {
			continue
		}
		stats.StepsCompleted++
		if st.QuickWin {
			stats.QuickWinsCompleted++
		}
		if r.CompletedAt == nil {
			continue
		}
		at := *r.CompletedAt
		activity = append(activity, at)
		if zone.IsToday(at, now) {
			stats.StepsCompletedToday++
		}
		if !r.CreatedAt.IsZero() && !at.Before(r.CreatedAt) {
			durationSum += at.Sub(r.CreatedAt).Seconds()
			durationN++
		}
	}

	for _, sec := range report.Sections {
		if sec.Total > 0 && sec.Completed == sec.Total {
			stats.SectionsCompleted++
		}
	}

	sort.Slice(activity, func(i, j int) bool { return activity[i].Before(activity[j]) })
	streak := NewStreak(zone)
	for _, at := range activity {
		streak.RecordActivity(at)
	}
	stats.StreakDays = streak.ActiveAt(now)

	stats.CompletionRate = float64(report.Overall.Int())
	if durationN > 0 {
		stats.AverageTimePerStep = durationSum / float64(durationN)
	}
	return stats
}
