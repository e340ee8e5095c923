// Package guidance models the guided-setup catalog: sections, the steps
// inside them, and the annotated candidates handed to the recommendation
// engine.
package guidance

import (
	"fmt"
	"strings"

	"github.com/complyhub/guidance-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DIFFICULTY
// ══════════════════════════════════════════════════════════════════════════════

// Difficulty is the effort level of a step.
type Difficulty string

const (
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyComplex Difficulty = "complex"
)

// IsValid reports whether d is a known difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyComplex:
		return true
	}
	return false
}

// ParseDifficulty normalizes a raw difficulty string.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", shared.NewDomainError("guidance", "ParseDifficulty", shared.ErrInvalidInput,
			fmt.Sprintf("unknown difficulty %q", s))
	}
	return d, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SECTION
// ══════════════════════════════════════════════════════════════════════════════

// Section groups related steps under one theme.
type Section struct {
	// ID - stable slug, e.g. "company-setup".
	ID string `json:"id" yaml:"id"`

	// Title - display title.
	Title string `json:"title" yaml:"title"`

	// Category - theme tag the presentation layer uses for styling and
	// for the "current category" context.
	Category string `json:"category" yaml:"category"`

	// Position - ordering within the catalog.
	Position int `json:"position" yaml:"position"`
}

// Validate checks section invariants.
func (s Section) Validate() error {
	if !shared.IsValidSlug(s.ID) {
		return shared.NewDomainError("guidance", "ValidateSection", shared.ErrInvalidID,
			fmt.Sprintf("invalid section id %q", s.ID))
	}
	if strings.TrimSpace(s.Title) == "" {
		return shared.NewDomainError("guidance", "ValidateSection", shared.ErrEmptyValue,
			fmt.Sprintf("section %s has no title", s.ID))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STEP
// ══════════════════════════════════════════════════════════════════════════════

// Step is a single guided action inside a section.
type Step struct {
	// ID - stable slug, unique across the catalog.
	ID string `json:"id" yaml:"id"`

	// SectionID - parent section.
	SectionID string `json:"section_id" yaml:"section_id"`

	// Title - display title.
	Title string `json:"title" yaml:"title"`

	// Category - category tag compared against the user's current context.
	Category string `json:"category" yaml:"category"`

	// Difficulty - easy, medium or complex.
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`

	// EstimatedMinutes - expected time to finish the step.
	EstimatedMinutes int `json:"estimated_minutes" yaml:"estimated_minutes"`

	// QuickWin - flagged by editors as a fast, high-value action.
	QuickWin bool `json:"quick_win" yaml:"quick_win"`

	// DeadlineOffsetDays - days after incorporation when a regulatory
	// deadline falls. Nil when the step has no deadline.
	DeadlineOffsetDays *int `json:"deadline_offset_days,omitempty" yaml:"deadline_offset_days,omitempty"`

	// PrerequisiteIDs - steps that must be completed first.
	PrerequisiteIDs []string `json:"prerequisite_ids,omitempty" yaml:"prerequisites,omitempty"`

	// Position - ordering within the section.
	Position int `json:"position" yaml:"position"`
}

// IsEasy reports whether the step is flagged easy.
func (s Step) IsEasy() bool {
	return s.Difficulty == DifficultyEasy
}

// Validate checks step invariants.
func (s Step) Validate() error {
	const op = "ValidateStep"
	if !shared.IsValidSlug(s.ID) {
		return shared.NewDomainError("guidance", op, shared.ErrInvalidID, fmt.Sprintf("invalid step id %q", s.ID))
	}
	if !shared.IsValidSlug(s.SectionID) {
		return shared.NewDomainError("guidance", op, shared.ErrInvalidID,
			fmt.Sprintf("step %s has invalid section id %q", s.ID, s.SectionID))
	}
	if !s.Difficulty.IsValid() {
		return shared.NewDomainError("guidance", op, shared.ErrInvalidInput,
			fmt.Sprintf("step %s has unknown difficulty %q", s.ID, s.Difficulty))
	}
	if s.EstimatedMinutes < 0 {
		return shared.NewDomainError("guidance", op, shared.ErrNegativeValue,
			fmt.Sprintf("step %s has negative estimate", s.ID))
	}
	for _, p := range s.PrerequisiteIDs {
		if p == s.ID {
			return shared.NewDomainError("guidance", op, shared.ErrInvalidInput,
				fmt.Sprintf("step %s lists itself as prerequisite", s.ID))
		}
	}
	return nil
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int {
	return &v
}
