// Package progress turns raw per-user step and document rows into
// completion percentages and achievement statistics.
package progress

import (
	"context"
	"sort"
	"time"
)

// StepProgress is one stored row for (user, section, step). The store may
// hold several rows for the same pair after repeated visits.
type StepProgress struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	SectionID     string     `json:"section_id"`
	StepID        string     `json:"step_id"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastVisitedAt time.Time  `json:"last_visited_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsCompleted reports an explicit completion. A visited row is not complete.
func (p StepProgress) IsCompleted() bool {
	return p.Completed
}

// Key identifies a logical progress record.
type Key struct {
	SectionID string
	StepID    string
}

// Key returns the row's logical key.
func (p StepProgress) Key() Key {
	return Key{SectionID: p.SectionID, StepID: p.StepID}
}

// Dedupe keeps one row per (section, step): the one visited most recently.
// It sorts a copy by LastVisitedAt descending and keeps the first row seen
// per key, so equal timestamps resolve to input order. The input slice is
// not modified.
func Dedupe(rows []StepProgress) []StepProgress {
	sorted := make([]StepProgress, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastVisitedAt.After(sorted[j].LastVisitedAt)
	})

	seen := make(map[Key]struct{}, len(sorted))
	out := make([]StepProgress, 0, len(sorted))
	for _, r := range sorted {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// CompletedKeys returns the keys of completed rows after deduplication.
func CompletedKeys(rows []StepProgress) map[Key]StepProgress {
	out := make(map[Key]StepProgress)
	for _, r := range Dedupe(rows) {
		if r.IsCompleted() {
			out[r.Key()] = r
		}
	}
	return out
}

// CompletedStepIDs returns the ids of completed steps after deduplication.
func CompletedStepIDs(rows []StepProgress) []string {
	keys := CompletedKeys(rows)
	ids := make([]string, 0, len(keys))
	for k := range keys {
		ids = append(ids, k.StepID)
	}
	sort.Strings(ids)
	return ids
}

// Repository reads and writes step progress rows.
type Repository interface {
	// FetchStepProgress returns all rows for the user, duplicates included.
	FetchStepProgress(ctx context.Context, userID string) ([]StepProgress, error)

	// RecordVisit creates the row if absent and bumps last_visited_at.
	RecordVisit(ctx context.Context, userID, sectionID, stepID string, at time.Time) error

	// MarkStepCompleted sets completed=true and completed_at on the row,
	// creating it if absent.
	MarkStepCompleted(ctx context.Context, userID, sectionID, stepID string, at time.Time) error
}
