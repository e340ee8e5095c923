// Package recommendation ranks what a user should do next.
//
// Candidates are scored with an additive urgency model and partitioned into
// four buckets. A candidate may sit in several buckets; the flattened top
// list keeps the first occurrence in bucket order.
package recommendation

import (
	"sort"

	"github.com/complyhub/guidance-core/internal/domain/guidance"
)

// Score weights.
const (
	WeightDeadline      = 50
	WeightQuickWin      = 30
	WeightPrerequisites = 20
	WeightEasy          = 15
	WeightSameCategory  = 10
	UrgentDeadlineDays  = 7
	QuickWinMaxMinutes  = 15
	UrgentCap           = 3
	QuickWinsCap        = 5
	NextLogicalCap      = 4
	SameCategoryCap     = 3
)

// Bucket names the reason a step was suggested.
type Bucket string

const (
	BucketUrgent       Bucket = "urgent"
	BucketQuickWin     Bucket = "quick_win"
	BucketNextLogical  Bucket = "next_logical"
	BucketSameCategory Bucket = "same_category"
)

// Recommendation is a scored candidate.
type Recommendation struct {
	guidance.CandidateStep
	UrgencyScore int    `json:"urgency_score"`
	Bucket       Bucket `json:"bucket"`
}

// Set holds the four buckets.
type Set struct {
	Urgent       []Recommendation `json:"urgent"`
	QuickWins    []Recommendation `json:"quick_wins"`
	NextLogical  []Recommendation `json:"next_logical"`
	SameCategory []Recommendation `json:"same_category"`
}

// IsEmpty reports whether every bucket is empty.
func (s Set) IsEmpty() bool {
	return len(s.Urgent) == 0 && len(s.QuickWins) == 0 && len(s.NextLogical) == 0 && len(s.SameCategory) == 0
}

// Top flattens the buckets in order urgent, quick wins, next logical, same
// category; drops repeated step ids keeping the first; stable-sorts by
// descending score; and truncates to limit. A non-positive limit yields an
// empty list.
func (s Set) Top(limit int) []Recommendation {
	if limit <= 0 {
		return []Recommendation{}
	}

	all := make([]Recommendation, 0, len(s.Urgent)+len(s.QuickWins)+len(s.NextLogical)+len(s.SameCategory))
	seen := make(map[string]struct{})
	for _, bucket := range [][]Recommendation{s.Urgent, s.QuickWins, s.NextLogical, s.SameCategory} {
		for _, r := range bucket {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			all = append(all, r)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].UrgencyScore > all[j].UrgencyScore
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Score computes the urgency score of a candidate. An empty current
// category matches nothing.
func Score(c guidance.CandidateStep, currentCategory string) int {
	score := 0
	if isUrgent(c) {
		score += WeightDeadline
	}
	if c.QuickWin {
		score += WeightQuickWin
	}
	if c.PrerequisitesMet {
		score += WeightPrerequisites
	}
	if c.IsEasy() {
		score += WeightEasy
	}
	if sameCategory(c, currentCategory) {
		score += WeightSameCategory
	}
	return score
}

func isUrgent(c guidance.CandidateStep) bool {
	return c.DeadlineDays != nil && *c.DeadlineDays <= UrgentDeadlineDays
}

func isQuickWin(c guidance.CandidateStep) bool {
	return c.QuickWin && c.IsEasy() && c.EstimatedMinutes <= QuickWinMaxMinutes
}

func sameCategory(c guidance.CandidateStep, current string) bool {
	return current != "" && c.Category == current
}

// Engine builds recommendation sets. It is stateless.
type Engine struct{}

// NewEngine creates an engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Build scores candidates and fills the buckets. Apart from urgent, which
// is ordered by ascending deadline then descending score, buckets keep
// candidate order.
func (e *Engine) Build(candidates []guidance.CandidateStep, currentCategory string) Set {
	set := Set{
		Urgent:       []Recommendation{},
		QuickWins:    []Recommendation{},
		NextLogical:  []Recommendation{},
		SameCategory: []Recommendation{},
	}

	var urgent []Recommendation
	for _, c := range candidates {
		score := Score(c, currentCategory)
		rec := func(b Bucket) Recommendation {
			return Recommendation{CandidateStep: c, UrgencyScore: score, Bucket: b}
		}

		if isUrgent(c) {
			urgent = append(urgent, rec(BucketUrgent))
		}
		if isQuickWin(c) && len(set.QuickWins) < QuickWinsCap {
			set.QuickWins = append(set.QuickWins, rec(BucketQuickWin))
		}
		if c.PrerequisitesMet && len(set.NextLogical) < NextLogicalCap {
			set.NextLogical = append(set.NextLogical, rec(BucketNextLogical))
		}
		if sameCategory(c, currentCategory) && len(set.SameCategory) < SameCategoryCap {
			set.SameCategory = append(set.SameCategory, rec(BucketSameCategory))
		}
	}

	sort.SliceStable(urgent, func(i, j int) bool {
		di, dj := *urgent[i].DeadlineDays, *urgent[j].DeadlineDays
		if di != dj {
			return di < dj
		}
		return urgent[i].UrgencyScore > urgent[j].UrgencyScore
	})
	if len(urgent) > UrgentCap {
		urgent = urgent[:UrgentCap]
	}
	set.Urgent = append(set.Urgent, urgent...)

	return set
}
