package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements guidance.Repository and
// guidance.CandidateFetcher for PostgreSQL.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

const selectSteps = `
	SELECT st.id, st.section_id, st.title, st.category, st.difficulty,
	       st.estimated_minutes, st.quick_win, st.deadline_offset_days, st.position
	FROM steps st
	JOIN sections se ON se.id = st.section_id
`

// ListSections returns every section ordered by position.
func (r *CatalogRepository) ListSections(ctx context.Context) ([]guidance.Section, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, title, category, position
		FROM sections
		ORDER BY position, id
	`)
	if err != nil {
		return nil, storeError("ListSections", err)
	}
	defer rows.Close()

	var sections []guidance.Section
	for rows.Next() {
		var s guidance.Section
		if err := rows.Scan(&s.ID, &s.Title, &s.Category, &s.Position); err != nil {
			return nil, storeError("ListSections", err)
		}
		sections = append(sections, s)
	}
	return sections, storeError("ListSections", rows.Err())
}

// ListSteps returns every step ordered by section then position.
func (r *CatalogRepository) ListSteps(ctx context.Context) ([]guidance.Step, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, selectSteps+` ORDER BY se.position, st.section_id, st.position, st.id`)
	if err != nil {
		return nil, storeError("ListSteps", err)
	}
	steps, err := pgx.CollectRows(rows, scanStep)
	if err != nil {
		return nil, storeError("ListSteps", err)
	}

	prereqs, err := r.prerequisites(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range steps {
		steps[i].PrerequisiteIDs = prereqs[steps[i].ID]
	}
	return steps, nil
}

// GetStep returns one step.
func (r *CatalogRepository) GetStep(ctx context.Context, id string) (*guidance.Step, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, selectSteps+` WHERE st.id = $1`, id)
	if err != nil {
		return nil, storeError("GetStep", err)
	}
	step, err := pgx.CollectOneRow(rows, scanStep)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStepNotFound
		}
		return nil, storeError("GetStep", err)
	}

	prereqs, err := r.prerequisites(ctx, id)
	if err != nil {
		return nil, err
	}
	step.PrerequisiteIDs = prereqs[id]
	return &step, nil
}

// FetchCandidates returns the user's not-yet-completed steps annotated
// with prerequisite and deadline facts.
func (r *CatalogRepository) FetchCandidates(ctx context.Context, q guidance.CandidateQuery) ([]guidance.CandidateStep, error) {
	steps, err := r.ListSteps(ctx)
	if err != nil {
		return nil, err
	}
	return guidance.Annotate(steps, q.Completed, q.CompanyAgeDays), nil
}

// UpsertSection inserts or replaces a section.
func (r *CatalogRepository) UpsertSection(ctx context.Context, s guidance.Section) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	_, err := r.conn.Exec(ctx, `
		INSERT INTO sections (id, title, category, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			position = EXCLUDED.position
	`, s.ID, s.Title, s.Category, s.Position)
	return storeError("UpsertSection", err)
}

// UpsertStep inserts or replaces a step and its prerequisite edges.
func (r *CatalogRepository) UpsertStep(ctx context.Context, s guidance.Step) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO steps (
				id, section_id, title, category, difficulty,
				estimated_minutes, quick_win, deadline_offset_days, position
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				section_id = EXCLUDED.section_id,
				title = EXCLUDED.title,
				category = EXCLUDED.category,
				difficulty = EXCLUDED.difficulty,
				estimated_minutes = EXCLUDED.estimated_minutes,
				quick_win = EXCLUDED.quick_win,
				deadline_offset_days = EXCLUDED.deadline_offset_days,
				position = EXCLUDED.position
		`, s.ID, s.SectionID, s.Title, s.Category, string(s.Difficulty),
			s.EstimatedMinutes, s.QuickWin, s.DeadlineOffsetDays, s.Position)
		if err != nil {
			if IsForeignKeyViolation(err) {
				return shared.ErrSectionNotFound
			}
			return fmt.Errorf("upsert step %s: %w", s.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM step_prerequisites WHERE step_id = $1`, s.ID); err != nil {
			return fmt.Errorf("clear prerequisites of %s: %w", s.ID, err)
		}

		batch := &pgx.Batch{}
		for i, p := range s.PrerequisiteIDs {
			batch.Queue(`
				INSERT INTO step_prerequisites (step_id, prerequisite_id, ord)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, s.ID, p, i)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if shared.IsNotFound(err) {
		return err
	}
	return storeError("UpsertStep", err)
}

// prerequisites loads prerequisite edges, for one step or for all when
// stepID is empty.
func (r *CatalogRepository) prerequisites(ctx context.Context, stepID string) (map[string][]string, error) {
	query := `SELECT step_id, prerequisite_id FROM step_prerequisites`
	var args []any
	if stepID != "" {
		query += ` WHERE step_id = $1`
		args = append(args, stepID)
	}
	query += ` ORDER BY step_id, ord, prerequisite_id`

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("ListPrerequisites", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var step, prereq string
		if err := rows.Scan(&step, &prereq); err != nil {
			return nil, storeError("ListPrerequisites", err)
		}
		out[step] = append(out[step], prereq)
	}
	return out, storeError("ListPrerequisites", rows.Err())
}

func scanStep(row pgx.CollectableRow) (guidance.Step, error) {
	var (
		s          guidance.Step
		difficulty string
		deadline   *int
	)
	err := row.Scan(&s.ID, &s.SectionID, &s.Title, &s.Category, &difficulty,
		&s.EstimatedMinutes, &s.QuickWin, &deadline, &s.Position)
	if err != nil {
		return guidance.Step{}, err
	}
	s.Difficulty = guidance.Difficulty(difficulty)
	s.DeadlineOffsetDays = deadline
	return s, nil
}
