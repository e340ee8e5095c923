package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time

		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}

		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}

		if mig.UpSQL == "" {
			return ran, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}

			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		ran++
	}

	return ran, nil
}

// Rollback rolls back the last applied migration. It returns the rolled
// back version, or 0 when nothing was applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	versions := make([]int, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	sort.Ints(versions)
	lastVersion := versions[len(versions)-1]

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}

	if migration == nil || migration.DownSQL == "" {
		return 0, fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	err = m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}

		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
	if err != nil {
		return 0, err
	}
	return lastVersion, nil
}

// Status returns the migration status.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)

	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_catalog",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_user_progress",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: GUIDANCE CATALOG AND DOCUMENT LIBRARY
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS sections (
    id VARCHAR(128) PRIMARY KEY,
    title TEXT NOT NULL,
    category VARCHAR(64) NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS steps (
    id VARCHAR(128) PRIMARY KEY,
    section_id VARCHAR(128) NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT '',
    category VARCHAR(64) NOT NULL DEFAULT '',
    difficulty VARCHAR(16) NOT NULL DEFAULT 'medium',
    estimated_minutes INTEGER NOT NULL DEFAULT 0,
    quick_win BOOLEAN NOT NULL DEFAULT FALSE,
    deadline_offset_days INTEGER,
    position INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_difficulty CHECK (difficulty IN ('easy', 'medium', 'complex')),
    CONSTRAINT valid_estimate CHECK (estimated_minutes >= 0)
);

CREATE INDEX IF NOT EXISTS idx_steps_section ON steps(section_id, position);
CREATE INDEX IF NOT EXISTS idx_steps_category ON steps(category);

-- Prerequisite edges; prerequisite_id is not a foreign key so a catalog
-- can be loaded in any order.
CREATE TABLE IF NOT EXISTS step_prerequisites (
    step_id VARCHAR(128) NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
    prerequisite_id VARCHAR(128) NOT NULL,
    ord INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (step_id, prerequisite_id)
);

CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(128) PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    category VARCHAR(32) NOT NULL,
    required BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT valid_category CHECK (category IN (
        'company-setup', 'tax-vat', 'employment',
        'legal-compliance', 'finance', 'data-protection'
    ))
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
`

const migration001Down = `
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS step_prerequisites;
DROP TABLE IF EXISTS steps;
DROP TABLE IF EXISTS sections;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PER-USER PROGRESS AND ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Several rows per (user, section, step) are tolerated; readers dedupe by
-- latest last_visited_at.
CREATE TABLE IF NOT EXISTS user_step_progress (
    id VARCHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    section_id VARCHAR(128) NOT NULL,
    step_id VARCHAR(128) NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    last_visited_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_user_step_progress_user ON user_step_progress(user_id);
CREATE INDEX IF NOT EXISTS idx_user_step_progress_key
    ON user_step_progress(user_id, section_id, step_id, last_visited_at DESC);

CREATE TABLE IF NOT EXISTS user_document_progress (
    user_id VARCHAR(64) NOT NULL,
    document_id VARCHAR(128) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    completed_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (user_id, document_id)
);

-- Append-only unlock log. The unique pair makes a repeated unlock a no-op.
CREATE TABLE IF NOT EXISTS user_achievements (
    id VARCHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    achievement_type VARCHAR(50) NOT NULL,
    achieved_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE (user_id, achievement_type)
);

CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id);
`

const migration002Down = `
DROP TABLE IF EXISTS user_achievements;
DROP TABLE IF EXISTS user_document_progress;
DROP TABLE IF EXISTS user_step_progress;
`
