package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrations returns the schema in version order. It mirrors the
// PostgreSQL schema with INTEGER microsecond timestamps.
func Migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_catalog",
			Up: `
				CREATE TABLE IF NOT EXISTS sections (
					id       TEXT PRIMARY KEY,
					title    TEXT NOT NULL,
					category TEXT NOT NULL,
					position INTEGER NOT NULL DEFAULT 0
				);
				CREATE TABLE IF NOT EXISTS steps (
					id                   TEXT PRIMARY KEY,
					section_id           TEXT NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
					title                TEXT NOT NULL,
					category             TEXT NOT NULL,
					difficulty           TEXT NOT NULL CHECK (difficulty IN ('easy', 'medium', 'complex')),
					estimated_minutes    INTEGER NOT NULL CHECK (estimated_minutes >= 0),
					quick_win            INTEGER NOT NULL DEFAULT 0,
					deadline_offset_days INTEGER,
					position             INTEGER NOT NULL DEFAULT 0
				);
				CREATE INDEX IF NOT EXISTS idx_steps_section ON steps(section_id, position);
				CREATE TABLE IF NOT EXISTS step_prerequisites (
					step_id         TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
					prerequisite_id TEXT NOT NULL,
					ord             INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (step_id, prerequisite_id)
				);
				CREATE TABLE IF NOT EXISTS documents (
					id       TEXT PRIMARY KEY,
					title    TEXT NOT NULL,
					category TEXT NOT NULL CHECK (category IN (
						'company-setup', 'tax-vat', 'employment',
						'legal-compliance', 'finance', 'data-protection')),
					required INTEGER NOT NULL DEFAULT 0
				);
			`,
			Down: `
				DROP TABLE IF EXISTS documents;
				DROP TABLE IF EXISTS step_prerequisites;
				DROP TABLE IF EXISTS steps;
				DROP TABLE IF EXISTS sections;
			`,
		},
		{
			Version: 2,
			Name:    "create_user_progress",
			Up: `
				CREATE TABLE IF NOT EXISTS user_step_progress (
					id              TEXT PRIMARY KEY,
					user_id         TEXT NOT NULL,
					section_id      TEXT NOT NULL,
					step_id         TEXT NOT NULL,
					completed       INTEGER NOT NULL DEFAULT 0,
					completed_at    INTEGER,
					last_visited_at INTEGER NOT NULL,
					created_at      INTEGER NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_user_step_progress_user
					ON user_step_progress(user_id, section_id, step_id);
				CREATE TABLE IF NOT EXISTS user_document_progress (
					user_id      TEXT NOT NULL,
					document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					completed_at INTEGER,
					PRIMARY KEY (user_id, document_id)
				);
				CREATE TABLE IF NOT EXISTS user_achievements (
					id               TEXT PRIMARY KEY,
					user_id          TEXT NOT NULL,
					achievement_type TEXT NOT NULL,
					achieved_at      INTEGER NOT NULL,
					UNIQUE (user_id, achievement_type)
				);
			`,
			Down: `
				DROP TABLE IF EXISTS user_achievements;
				DROP TABLE IF EXISTS user_document_progress;
				DROP TABLE IF EXISTS user_step_progress;
			`,
		},
	}
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

func (s *Store) ensureMigrationTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("sqlite: create migration table: %w", err)
	}
	return nil
}

func (s *Store) applied(ctx context.Context) (map[int]time.Time, error) {
	if err := s.ensureMigrationTable(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      int64
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("sqlite: read migrations: %w", err)
		}
		out[version] = fromMicros(at)
	}
	return out, rows.Err()
}

// Migrate applies every pending migration and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	done, err := s.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range Migrations() {
		if _, ok := done[m.Version]; ok {
			continue
		}
		err := s.migrationTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UnixMicro())
			return err
		})
		if err != nil {
			return count, fmt.Errorf("sqlite: migration %03d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// Rollback reverts the latest applied migration. It returns the reverted
// version, or 0 when nothing was applied.
func (s *Store) Rollback(ctx context.Context) (int, error) {
	done, err := s.applied(ctx)
	if err != nil {
		return 0, err
	}

	all := Migrations()
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if _, ok := done[m.Version]; !ok {
			continue
		}
		err := s.migrationTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("sqlite: rollback %03d_%s: %w", m.Version, m.Name, err)
		}
		return m.Version, nil
	}
	return 0, nil
}

// Status lists every migration with its applied state.
func (s *Store) Status(ctx context.Context) ([]MigrationStatus, error) {
	done, err := s.applied(ctx)
	if err != nil {
		return nil, err
	}
	var out []MigrationStatus
	for _, m := range Migrations() {
		st := MigrationStatus{Version: m.Version, Name: m.Name}
		if at, ok := done[m.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) migrationTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
