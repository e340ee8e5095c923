package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/complyhub/guidance-core/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// STEP PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// latestRow selects the row readers treat as current for a key.
const latestRow = `
	SELECT id FROM user_step_progress
	WHERE user_id = $1 AND section_id = $2 AND step_id = $3
	ORDER BY last_visited_at DESC, created_at DESC
	LIMIT 1
`

// FetchStepProgress returns all rows for the user, duplicates included.
func (r *ProgressRepository) FetchStepProgress(ctx context.Context, userID string) ([]progress.StepProgress, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, user_id, section_id, step_id, completed,
		       completed_at, last_visited_at, created_at
		FROM user_step_progress
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, storeError("FetchStepProgress", err)
	}
	defer rows.Close()

	var out []progress.StepProgress
	for rows.Next() {
		var p progress.StepProgress
		if err := rows.Scan(&p.ID, &p.UserID, &p.SectionID, &p.StepID, &p.Completed,
			&p.CompletedAt, &p.LastVisitedAt, &p.CreatedAt); err != nil {
			return nil, storeError("FetchStepProgress", err)
		}
		out = append(out, p)
	}
	return out, storeError("FetchStepProgress", rows.Err())
}

// RecordVisit bumps last_visited_at on the current row, inserting one when
// the user has never touched the step.
func (r *ProgressRepository) RecordVisit(ctx context.Context, userID, sectionID, stepID string, at time.Time) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Exec(ctx, `
		UPDATE user_step_progress
		SET last_visited_at = GREATEST(last_visited_at, $4)
		WHERE id = (`+latestRow+`)
	`, userID, sectionID, stepID, at)
	if err != nil {
		return storeError("RecordVisit", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO user_step_progress (id, user_id, section_id, step_id, completed, last_visited_at, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $5)
	`, uuid.NewString(), userID, sectionID, stepID, at)
	return storeError("RecordVisit", err)
}

// MarkStepCompleted sets completed on the current row, keeping the first
// completion time.
func (r *ProgressRepository) MarkStepCompleted(ctx context.Context, userID, sectionID, stepID string, at time.Time) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Exec(ctx, `
		UPDATE user_step_progress
		SET completed = TRUE,
		    completed_at = COALESCE(completed_at, $4),
		    last_visited_at = GREATEST(last_visited_at, $4)
		WHERE id = (`+latestRow+`)
	`, userID, sectionID, stepID, at)
	if err != nil {
		return storeError("MarkStepCompleted", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO user_step_progress (id, user_id, section_id, step_id, completed, completed_at, last_visited_at, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5, $5)
	`, uuid.NewString(), userID, sectionID, stepID, at)
	return storeError("MarkStepCompleted", err)
}
