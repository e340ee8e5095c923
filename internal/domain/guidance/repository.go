package guidance

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository reads and writes the guidance catalog.
type Repository interface {
	// ListSections returns every section ordered by position.
	ListSections(ctx context.Context) ([]Section, error)

	// ListSteps returns every step ordered by section then position.
	ListSteps(ctx context.Context) ([]Step, error)

	// GetStep returns one step.
	// Returns shared.ErrStepNotFound when the step does not exist.
	GetStep(ctx context.Context, id string) (*Step, error)

	// UpsertSection inserts or replaces a section.
	UpsertSection(ctx context.Context, s Section) error

	// UpsertStep inserts or replaces a step and its prerequisites.
	UpsertStep(ctx context.Context, s Step) error
}

// CandidateFetcher returns the annotated, not-yet-completed steps for a user.
type CandidateFetcher interface {
	FetchCandidates(ctx context.Context, q CandidateQuery) ([]CandidateStep, error)
}
