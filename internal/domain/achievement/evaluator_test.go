package achievement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(defs []Definition) []ID {
	out := make([]ID, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID)
	}
	return out
}

func TestEvaluate_FirstStepOnly(t *testing.T) {
	stats := Stats{
		StepsCompleted:      1,
		SectionsCompleted:   0,
		StreakDays:          0,
		CompletionRate:      5,
		QuickWinsCompleted:  0,
		StepsCompletedToday: 1,
		AverageTimePerStep:  1200,
	}

	got := NewEvaluator().Evaluate(stats, nil)

	require.Len(t, got, 1)
	assert.Equal(t, FirstStep, got[0].ID)
	assert.Equal(t, 10, got[0].Points)
	assert.Equal(t, RarityCommon, got[0].Rarity)
}

func TestEvaluate_AllThresholdsMet(t *testing.T) {
	stats := Stats{
		StepsCompleted:      40,
		SectionsCompleted:   6,
		StreakDays:          7,
		CompletionRate:      100,
		QuickWinsCompleted:  10,
		StepsCompletedToday: 5,
		AverageTimePerStep:  899,
	}

	got := NewEvaluator().Evaluate(stats, nil)

	assert.Equal(t, []ID{FirstStep, SectionMaster, SpeedDemon, WeekWarrior, Perfectionist, QuickWinner, EfficientWorker}, ids(got))
}

func TestEvaluate_SkipsOwned(t *testing.T) {
	stats := Stats{StepsCompleted: 3, AverageTimePerStep: 100}
	owned := []Owned{{AchievementID: FirstStep, AchievedAt: time.Now()}}

	got := NewEvaluator().Evaluate(stats, owned)

	assert.Equal(t, []ID{EfficientWorker}, ids(got))
}

func TestEvaluate_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
		id    ID
		want  bool
	}{
		{"speed demon at four", Stats{StepsCompletedToday: 4}, SpeedDemon, false},
		{"speed demon at five", Stats{StepsCompletedToday: 5}, SpeedDemon, true},
		{"week warrior at six", Stats{StreakDays: 6}, WeekWarrior, false},
		{"perfectionist at 99", Stats{CompletionRate: 99}, Perfectionist, false},
		{"efficient at exactly 900", Stats{StepsCompleted: 1, AverageTimePerStep: 900}, EfficientWorker, false},
		{"efficient needs a completed step", Stats{AverageTimePerStep: 0}, EfficientWorker, false},
		{"quick winner at ten", Stats{QuickWinsCompleted: 10}, QuickWinner, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := Lookup(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.want, def.Predicate(tt.stats))
		})
	}
}

func TestEvaluate_CustomCatalog(t *testing.T) {
	custom := Definition{
		ID:        "night_shift",
		Points:    5,
		Rarity:    RarityCommon,
		Predicate: func(s Stats) bool { return s.StepsCompleted > 100 },
	}
	noPredicate := Definition{ID: "broken"}

	ev := NewEvaluator(custom, noPredicate)

	assert.Empty(t, ev.Evaluate(Stats{StepsCompleted: 50}, nil))
	assert.Equal(t, []ID{"night_shift"}, ids(ev.Evaluate(Stats{StepsCompleted: 101}, nil)))
	assert.Len(t, ev.Definitions(), 2)
}

func TestCatalog_UniqueIDs(t *testing.T) {
	seen := map[ID]bool{}
	for _, d := range Catalog() {
		assert.False(t, seen[d.ID], "duplicate %s", d.ID)
		seen[d.ID] = true
		assert.NotNil(t, d.Predicate)
		assert.Positive(t, d.Points)
	}
}
