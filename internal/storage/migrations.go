package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations lists schema changes in order. {{VECTOR}} is replaced with the
// dialect's vector column type.
var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				agent TEXT NOT NULL,
				project TEXT NOT NULL DEFAULT '',
				summary TEXT,
				context TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL,
				ended_ts BIGINT,
				CHECK (ended_ts IS NULL OR ended_ts >= created_ts)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_agent_created ON sessions(agent, created_ts DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_ts DESC)`,

			`CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				seq BIGINT NOT NULL,
				kind TEXT NOT NULL,
				sub_kind TEXT NOT NULL DEFAULT '',
				data TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL,
				UNIQUE (session_id, seq)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,

			`CREATE TABLE IF NOT EXISTS patterns (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				sub_type TEXT NOT NULL DEFAULT '',
				domain TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL,
				action TEXT NOT NULL,
				outcome TEXT NOT NULL DEFAULT '',
				context TEXT NOT NULL DEFAULT '',
				created_by TEXT NOT NULL DEFAULT '',
				session_id TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_patterns_domain ON patterns(domain)`,
			`CREATE INDEX IF NOT EXISTS idx_patterns_created ON patterns(created_ts DESC)`,

			`CREATE TABLE IF NOT EXISTS observations (
				id TEXT PRIMARY KEY,
				pattern_id TEXT NOT NULL REFERENCES patterns(id),
				session_id TEXT NOT NULL DEFAULT '',
				rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
				feedback TEXT NOT NULL DEFAULT '',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_observations_pattern ON observations(pattern_id, created_ts)`,

			`CREATE TABLE IF NOT EXISTS embeddings (
				space TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				model TEXT NOT NULL,
				vector {{VECTOR}} NOT NULL,
				updated_ts BIGINT NOT NULL,
				PRIMARY KEY (space, entity_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(space, model)`,
		},
	},
}

// runMigrations executes database schema migrations.
func (s *SQLStore) runMigrations(ctx context.Context) error {
	for _, stmt := range s.dialect.preamble {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("preamble %q failed: %w", stmt, err)
		}
	}

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	version, err := s.getCurrentMigrationVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		s.logger.Info("running migration", "version", m.version, "name", m.name)
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}

	return nil
}

// createMigrationsTable creates the schema_migrations table.
func (s *SQLStore) createMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_ts BIGINT NOT NULL
		)
	`)
	return err
}

// getCurrentMigrationVersion returns the highest applied migration version.
func (s *SQLStore) getCurrentMigrationVersion(ctx context.Context) (int, error) {
	var version int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// applyMigration runs one migration and records it in a single transaction.
func (s *SQLStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		stmt = strings.ReplaceAll(stmt, "{{VECTOR}}", s.dialect.vectorType)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		s.q("INSERT INTO schema_migrations (version, name, applied_ts) VALUES (?, ?, ?)"),
		m.version, m.name, time.Now().UnixNano(),
	); err != nil {
		return err
	}

	return tx.Commit()
}
