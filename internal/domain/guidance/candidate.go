package guidance

import (
	"sort"
)

// StepSet is a set of step identifiers.
type StepSet map[string]struct{}

// NewStepSet builds a set from ids.
func NewStepSet(ids ...string) StepSet {
	s := make(StepSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s StepSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s StepSet) Add(id string) {
	s[id] = struct{}{}
}

// IDs returns the members sorted.
func (s StepSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CandidateStep is a not-yet-completed step annotated with the facts the
// recommendation engine scores on.
type CandidateStep struct {
	Step

	// PrerequisitesMet - every prerequisite step is completed.
	PrerequisitesMet bool `json:"prerequisites_met"`

	// DeadlineDays - days left until the step's deadline for this company.
	// Negative when overdue, nil when the step has no deadline.
	DeadlineDays *int `json:"deadline_days,omitempty"`
}

// CandidateQuery carries the inputs of a candidate fetch.
type CandidateQuery struct {
	UserID          string
	Completed       StepSet
	CurrentCategory string
	CompanyAgeDays  int
}

// Annotate turns catalog steps into candidates for one user. Completed
// steps are dropped. Catalog order is preserved.
func Annotate(steps []Step, completed StepSet, companyAgeDays int) []CandidateStep {
	if companyAgeDays < 0 {
		companyAgeDays = 0
	}

	out := make([]CandidateStep, 0, len(steps))
	for _, st := range steps {
		if completed.Has(st.ID) {
			continue
		}

		c := CandidateStep{Step: st, PrerequisitesMet: true}
		for _, p := range st.PrerequisiteIDs {
			if !completed.Has(p) {
				c.PrerequisitesMet = false
				break
			}
		}
		if st.DeadlineOffsetDays != nil {
			left := *st.DeadlineOffsetDays - companyAgeDays
			c.DeadlineDays = &left
		}
		out = append(out, c)
	}
	return out
}

// SortSteps orders steps by section position, then step position, then id.
func SortSteps(steps []Step, sections []Section) {
	secPos := make(map[string]int, len(sections))
	for _, s := range sections {
		secPos[s.ID] = s.Position
	}
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if pa, pb := secPos[a.SectionID], secPos[b.SectionID]; pa != pb {
			return pa < pb
		}
		if a.SectionID != b.SectionID {
			return a.SectionID < b.SectionID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
}
