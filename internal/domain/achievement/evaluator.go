package achievement

import "context"

// Evaluator checks statistics against a set of definitions.
type Evaluator struct {
	defs []Definition
}

// NewEvaluator creates an evaluator. With no definitions the built-in
// catalog is used.
func NewEvaluator(defs ...Definition) *Evaluator {
	if len(defs) == 0 {
		defs = Catalog()
	}
	return &Evaluator{defs: defs}
}

// Definitions returns the definitions the evaluator knows.
func (e *Evaluator) Definitions() []Definition {
	out := make([]Definition, len(e.defs))
	copy(out, e.defs)
	return out
}

// Evaluate returns the definitions that qualify and are not in owned,
// in catalog order. Definitions without a predicate never qualify.
func (e *Evaluator) Evaluate(stats Stats, owned []Owned) []Definition {
	have := make(map[ID]bool, len(owned))
	for _, o := range owned {
		have[o.AchievementID] = true
	}

	var qualified []Definition
	for _, d := range e.defs {
		if have[d.ID] || d.Predicate == nil {
			continue
		}
		if d.Predicate(stats) {
			qualified = append(qualified, d)
		}
	}
	return qualified
}

// Repository persists unlock records.
type Repository interface {
	// FetchOwned returns the user's unlocked achievements.
	FetchOwned(ctx context.Context, userID string) ([]Owned, error)

	// AppendUnlock writes one unlock. Writing an already-owned
	// (user, achievement) pair is a no-op that returns inserted=false.
	AppendUnlock(ctx context.Context, u Unlock) (inserted bool, err error)
}
