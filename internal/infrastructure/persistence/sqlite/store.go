// Package sqlite is an embedded store over modernc.org/sqlite. It serves
// local runs and tests with the same ports the PostgreSQL layer
// implements. Timestamps are stored as Unix microseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/progress"
	"github.com/complyhub/guidance-core/internal/domain/shared"
)

// Store implements the catalog, candidate, progress, document and
// achievement ports over one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database at dsn. Use "file::memory:" style DSNs for
// throwaway databases.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; an in-memory database is also private to its connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// ListSections returns every section ordered by position.
func (s *Store) ListSections(ctx context.Context) ([]guidance.Section, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, category, position FROM sections ORDER BY position, id`)
	if err != nil {
		return nil, storeError("ListSections", err)
	}
	defer rows.Close()

	var out []guidance.Section
	for rows.Next() {
		var sec guidance.Section
		if err := rows.Scan(&sec.ID, &sec.Title, &sec.Category, &sec.Position); err != nil {
			return nil, storeError("ListSections", err)
		}
		out = append(out, sec)
	}
	return out, storeError("ListSections", rows.Err())
}

const selectSteps = `
	SELECT st.id, st.section_id, st.title, st.category, st.difficulty,
	       st.estimated_minutes, st.quick_win, st.deadline_offset_days, st.position
	FROM steps st
	JOIN sections se ON se.id = st.section_id
`

// ListSteps returns every step ordered by section then position.
func (s *Store) ListSteps(ctx context.Context) ([]guidance.Step, error) {
	steps, err := s.querySteps(ctx, selectSteps+` ORDER BY se.position, st.section_id, st.position, st.id`)
	if err != nil {
		return nil, err
	}
	prereqs, err := s.prerequisites(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range steps {
		steps[i].PrerequisiteIDs = prereqs[steps[i].ID]
	}
	return steps, nil
}

// GetStep returns one step or shared.ErrStepNotFound.
func (s *Store) GetStep(ctx context.Context, id string) (*guidance.Step, error) {
	steps, err := s.querySteps(ctx, selectSteps+` WHERE st.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, shared.ErrStepNotFound
	}
	prereqs, err := s.prerequisites(ctx, id)
	if err != nil {
		return nil, err
	}
	step := steps[0]
	step.PrerequisiteIDs = prereqs[id]
	return &step, nil
}

// FetchCandidates returns the annotated, not-yet-completed steps.
func (s *Store) FetchCandidates(ctx context.Context, q guidance.CandidateQuery) ([]guidance.CandidateStep, error) {
	steps, err := s.ListSteps(ctx)
	if err != nil {
		return nil, err
	}
	return guidance.Annotate(steps, q.Completed, q.CompanyAgeDays), nil
}

// UpsertSection inserts or replaces a section.
func (s *Store) UpsertSection(ctx context.Context, sec guidance.Section) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sections (id, title, category, position) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			position = excluded.position
	`, sec.ID, sec.Title, sec.Category, sec.Position)
	return storeError("UpsertSection", err)
}

// UpsertStep inserts or replaces a step and its prerequisite edges.
func (s *Store) UpsertStep(ctx context.Context, st guidance.Step) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sections WHERE id = ?`, st.SectionID).Scan(&exists)
	if err != nil {
		return storeError("UpsertStep", err)
	}
	if exists == 0 {
		return shared.ErrSectionNotFound
	}

	return s.withTx(ctx, "UpsertStep", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps (
				id, section_id, title, category, difficulty,
				estimated_minutes, quick_win, deadline_offset_days, position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				section_id = excluded.section_id,
				title = excluded.title,
				category = excluded.category,
				difficulty = excluded.difficulty,
				estimated_minutes = excluded.estimated_minutes,
				quick_win = excluded.quick_win,
				deadline_offset_days = excluded.deadline_offset_days,
				position = excluded.position
		`, st.ID, st.SectionID, st.Title, st.Category, string(st.Difficulty),
			st.EstimatedMinutes, st.QuickWin, nullableInt(st.DeadlineOffsetDays), st.Position)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM step_prerequisites WHERE step_id = ?`, st.ID); err != nil {
			return err
		}
		for i, p := range st.PrerequisiteIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO step_prerequisites (step_id, prerequisite_id, ord) VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, st.ID, p, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) querySteps(ctx context.Context, query string, args ...any) ([]guidance.Step, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("ListSteps", err)
	}
	defer rows.Close()

	var out []guidance.Step
	for rows.Next() {
		var (
			st         guidance.Step
			difficulty string
			deadline   sql.NullInt64
		)
		if err := rows.Scan(&st.ID, &st.SectionID, &st.Title, &st.Category, &difficulty,
			&st.EstimatedMinutes, &st.QuickWin, &deadline, &st.Position); err != nil {
			return nil, storeError("ListSteps", err)
		}
		st.Difficulty = guidance.Difficulty(difficulty)
		if deadline.Valid {
			st.DeadlineOffsetDays = guidance.IntPtr(int(deadline.Int64))
		}
		out = append(out, st)
	}
	return out, storeError("ListSteps", rows.Err())
}

func (s *Store) prerequisites(ctx context.Context, stepID string) (map[string][]string, error) {
	query := `SELECT step_id, prerequisite_id FROM step_prerequisites`
	var args []any
	if stepID != "" {
		query += ` WHERE step_id = ?`
		args = append(args, stepID)
	}
	query += ` ORDER BY step_id, ord, prerequisite_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// ══════════════════════════════════════════════════════════════════════════════
// STEP PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const latestRow = `
	SELECT id FROM user_step_progress
	WHERE user_id = ? AND section_id = ? AND step_id = ?
	ORDER BY last_visited_at DESC, created_at DESC
	LIMIT 1
`

// FetchStepProgress returns all rows for the user, duplicates included.
func (s *Store) FetchStepProgress(ctx context.Context, userID string) ([]progress.StepProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, section_id, step_id, completed, completed_at, last_visited_at, created_at
		FROM user_step_progress
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, storeError("FetchStepProgress", err)
	}
	defer rows.Close()

	var out []progress.StepProgress
	for rows.Next() {
		var (
			p                  progress.StepProgress
			completedAt        sql.NullInt64
			visited, createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.SectionID, &p.StepID, &p.Completed,
			&completedAt, &visited, &createdAt); err != nil {
			return nil, storeError("FetchStepProgress", err)
		}
		p.CompletedAt = fromNullMicros(completedAt)
		p.LastVisitedAt = fromMicros(visited)
		p.CreatedAt = fromMicros(createdAt)
		out = append(out, p)
	}
	return out, storeError("FetchStepProgress", rows.Err())
}

// RecordVisit bumps last_visited_at on the current row or inserts one.
func (s *Store) RecordVisit(ctx context.Context, userID, sectionID, stepID string, at time.Time) error {
	ts := at.UnixMicro()
	return s.withTx(ctx, "RecordVisit", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE user_step_progress
			SET last_visited_at = MAX(last_visited_at, ?)
			WHERE id = (`+latestRow+`)
		`, ts, userID, sectionID, stepID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_step_progress (id, user_id, section_id, step_id, completed, last_visited_at, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)
		`, uuid.NewString(), userID, sectionID, stepID, ts, ts)
		return err
	})
}

// MarkStepCompleted sets completed on the current row or inserts one.
// The first completion time is kept.
func (s *Store) MarkStepCompleted(ctx context.Context, userID, sectionID, stepID string, at time.Time) error {
	ts := at.UnixMicro()
	return s.withTx(ctx, "MarkStepCompleted", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE user_step_progress
			SET completed = 1,
			    completed_at = COALESCE(completed_at, ?),
			    last_visited_at = MAX(last_visited_at, ?)
			WHERE id = (`+latestRow+`)
		`, ts, ts, userID, sectionID, stepID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_step_progress (id, user_id, section_id, step_id, completed, completed_at, last_visited_at, created_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		`, uuid.NewString(), userID, sectionID, stepID, ts, ts, ts)
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENTS
// ══════════════════════════════════════════════════════════════════════════════

// ListDocuments returns the full library.
func (s *Store) ListDocuments(ctx context.Context) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, category, required FROM documents ORDER BY category, id`)
	if err != nil {
		return nil, storeError("ListDocuments", err)
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		var (
			d        document.Document
			category string
		)
		if err := rows.Scan(&d.ID, &d.Title, &category, &d.Required); err != nil {
			return nil, storeError("ListDocuments", err)
		}
		d.Category = document.Category(category)
		out = append(out, d)
	}
	return out, storeError("ListDocuments", rows.Err())
}

// UpsertDocument inserts or replaces a library entry.
func (s *Store) UpsertDocument(ctx context.Context, d document.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, category, required) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			required = excluded.required
	`, d.ID, d.Title, string(d.Category), d.Required)
	return storeError("UpsertDocument", err)
}

// FetchDocumentProgress returns the user's rows joined with category.
func (s *Store) FetchDocumentProgress(ctx context.Context, userID string) ([]document.Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.user_id, p.document_id, d.category, p.completed_at
		FROM user_document_progress p
		JOIN documents d ON d.id = p.document_id
		WHERE p.user_id = ?
		ORDER BY p.document_id
	`, userID)
	if err != nil {
		return nil, storeError("FetchDocumentProgress", err)
	}
	defer rows.Close()

	var out []document.Progress
	for rows.Next() {
		var (
			p           document.Progress
			category    string
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&p.UserID, &p.DocumentID, &category, &completedAt); err != nil {
			return nil, storeError("FetchDocumentProgress", err)
		}
		p.Category = document.Category(category)
		p.CompletedAt = fromNullMicros(completedAt)
		out = append(out, p)
	}
	return out, storeError("FetchDocumentProgress", rows.Err())
}

// MarkDocumentCompleted records completion, keeping the first time.
func (s *Store) MarkDocumentCompleted(ctx context.Context, userID, documentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_document_progress (user_id, document_id, completed_at)
		SELECT ?, id, ? FROM documents WHERE id = ?
		ON CONFLICT (user_id, document_id) DO UPDATE SET
			completed_at = COALESCE(user_document_progress.completed_at, excluded.completed_at)
	`, userID, at.UnixMicro(), documentID)
	if err != nil {
		return storeError("MarkDocumentCompleted", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrDocumentNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// FetchOwned returns the user's unlocked achievements, oldest first.
func (s *Store) FetchOwned(ctx context.Context, userID string) ([]achievement.Owned, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT achievement_type, achieved_at FROM user_achievements
		WHERE user_id = ?
		ORDER BY achieved_at, achievement_type
	`, userID)
	if err != nil {
		return nil, storeError("FetchOwned", err)
	}
	defer rows.Close()

	var out []achievement.Owned
	for rows.Next() {
		var (
			id string
			at int64
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, storeError("FetchOwned", err)
		}
		out = append(out, achievement.Owned{AchievementID: achievement.ID(id), AchievedAt: fromMicros(at)})
	}
	return out, storeError("FetchOwned", rows.Err())
}

// AppendUnlock writes one unlock record; an existing pair is a no-op.
func (s *Store) AppendUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_achievements (id, user_id, achievement_type, achieved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, achievement_type) DO NOTHING
	`, uuid.NewString(), u.UserID, string(u.AchievementID), u.AchievedAt.UnixMicro())
	if err != nil {
		return false, storeError("AppendUnlock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError("AppendUnlock", err)
	}
	return n == 1, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storeError(op, err)
	}
	return storeError(op, tx.Commit())
}

// storeError maps driver errors to shared error kinds. A locked database
// is transient; anything else is a plain external failure.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("store", op, shared.ErrTimeout, "sqlite request timed out", err)
	case errors.Is(err, sql.ErrConnDone), strings.Contains(err.Error(), "database is locked"):
		return shared.WrapError("store", op, shared.ErrServiceUnavailable, "sqlite unavailable", err)
	default:
		return shared.WrapError("store", op, shared.ErrExternalService, "sqlite request failed", err)
	}
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}
