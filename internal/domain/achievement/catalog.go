// Package achievement holds the achievement catalog and the evaluator that
// decides which not-yet-owned achievements a statistics snapshot unlocks.
//
// Achievements are data: each definition pairs an identifier with a
// predicate over Stats and a reward. Adding an achievement means adding an
// entry to the catalog, not a branch.
package achievement

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats is the cumulative snapshot predicates are evaluated against.
type Stats struct {
	StepsCompleted      int     `json:"steps_completed"`
	SectionsCompleted   int     `json:"sections_completed"`
	StreakDays          int     `json:"streak_days"`
	CompletionRate      float64 `json:"completion_rate"`
	QuickWinsCompleted  int     `json:"quick_wins_completed"`
	StepsCompletedToday int     `json:"steps_completed_today"`

	// AverageTimePerStep is in seconds.
	AverageTimePerStep float64 `json:"average_time_per_step"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// ID identifies an achievement type.
type ID string

const (
	FirstStep       ID = "first_step"
	SectionMaster   ID = "section_master"
	SpeedDemon      ID = "speed_demon"
	WeekWarrior     ID = "week_warrior"
	Perfectionist   ID = "perfectionist"
	QuickWinner     ID = "quick_winner"
	EfficientWorker ID = "efficient_worker"
)

// Rarity is the reward tier.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Predicate decides whether a snapshot qualifies.
type Predicate func(Stats) bool

// Definition is one catalog entry.
type Definition struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Points      int       `json:"points"`
	Rarity      Rarity    `json:"rarity"`
	Predicate   Predicate `json:"-"`
}

// Thresholds.
const (
	SpeedDemonSteps        = 5
	WeekWarriorStreak      = 7
	PerfectionistRate      = 100
	QuickWinnerCount       = 10
	EfficientWorkerSeconds = 900
)

// Catalog returns the built-in achievement definitions.
func Catalog() []Definition {
	return []Definition{
		{
			ID: FirstStep, Title: "First Step", Description: "Complete your first guided step",
			Points: 10, Rarity: RarityCommon,
			Predicate: func(s Stats) bool { return s.StepsCompleted >= 1 },
		},
		{
			ID: SectionMaster, Title: "Section Master", Description: "Complete every step in a section",
			Points: 50, Rarity: RarityRare,
			Predicate: func(s Stats) bool { return s.SectionsCompleted >= 1 },
		},
		{
			ID: SpeedDemon, Title: "Speed Demon", Description: "Complete five steps in one day",
			Points: 30, Rarity: RarityRare,
			Predicate: func(s Stats) bool { return s.StepsCompletedToday >= SpeedDemonSteps },
		},
		{
			ID: WeekWarrior, Title: "Week Warrior", Description: "Make progress seven days in a row",
			Points: 75, Rarity: RarityEpic,
			Predicate: func(s Stats) bool { return s.StreakDays >= WeekWarriorStreak },
		},
		{
			ID: Perfectionist, Title: "Perfectionist", Description: "Reach 100% completion",
			Points: 200, Rarity: RarityLegendary,
			Predicate: func(s Stats) bool { return s.CompletionRate >= PerfectionistRate },
		},
		{
			ID: QuickWinner, Title: "Quick Winner", Description: "Complete ten quick wins",
			Points: 40, Rarity: RarityRare,
			Predicate: func(s Stats) bool { return s.QuickWinsCompleted >= QuickWinnerCount },
		},
		{
			ID: EfficientWorker, Title: "Efficient Worker", Description: "Average under 15 minutes per step",
			Points: 25, Rarity: RarityCommon,
			// A user with no completed steps has no average to speak of.
			Predicate: func(s Stats) bool {
				return s.StepsCompleted >= 1 && s.AverageTimePerStep < EfficientWorkerSeconds
			},
		},
	}
}

// Lookup returns the catalog entry for id.
func Lookup(id ID) (Definition, bool) {
	for _, d := range Catalog() {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// OWNERSHIP
// ══════════════════════════════════════════════════════════════════════════════

// Owned is an achievement the user already holds.
type Owned struct {
	AchievementID ID        `json:"achievement_id"`
	AchievedAt    time.Time `json:"achieved_at"`
}

// Unlock is an append-only unlock record.
type Unlock struct {
	UserID        string    `json:"user_id"`
	AchievementID ID        `json:"achievement_id"`
	AchievedAt    time.Time `json:"achieved_at"`
}
