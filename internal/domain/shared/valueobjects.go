// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID is the opaque identifier issued by the hosted auth provider.
type UserID string

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty reports whether the ID is missing.
func (u UserID) IsEmpty() bool {
	return strings.TrimSpace(string(u)) == ""
}

// NewUserID creates a UserID, rejecting blank input.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if uid.IsEmpty() {
		return "", ErrMissingUserID
	}
	return uid, nil
}

// Step, section and document slugs: lowercase words joined by hyphens,
// underscores or dots.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// IsValidSlug reports whether s is a usable catalog identifier.
func IsValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// ═══════════════════════════════════════════════════════════════════════════
// Percentage Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Percentage is an integer completion percentage in [0, 100].
type Percentage int

// Int returns the raw value.
func (p Percentage) Int() int {
	return int(p)
}

// IsComplete reports whether the percentage reached 100.
func (p Percentage) IsComplete() bool {
	return p >= 100
}

// Percent computes round(100*completed/total) clamped to [0, 100].
// A zero or negative total yields 0.
func Percent(completed, total int) Percentage {
	if total <= 0 || completed <= 0 {
		return 0
	}
	v := math.Round(100 * float64(completed) / float64(total))
	if v > 100 {
		return 100
	}
	return Percentage(v)
}
