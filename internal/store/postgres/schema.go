package postgres

import (
	"context"
	"fmt"
)

// schema is applied by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS build_configurations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		project_name TEXT NOT NULL DEFAULT '',
		scm_url TEXT NOT NULL DEFAULT '',
		scm_revision TEXT NOT NULL DEFAULT '',
		build_script TEXT NOT NULL DEFAULT '',
		dependencies INTEGER[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS build_records (
		id TEXT PRIMARY KEY,
		configuration_id INTEGER NOT NULL REFERENCES build_configurations(id),
		status TEXT NOT NULL,
		submit_time TIMESTAMPTZ NOT NULL,
		start_time TIMESTAMPTZ,
		end_time TIMESTAMPTZ,
		username TEXT NOT NULL DEFAULT '',
		content_id TEXT NOT NULL DEFAULT '',
		temporary_build BOOLEAN NOT NULL DEFAULT FALSE,
		build_log TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_build_records_configuration
		ON build_records (configuration_id, submit_time DESC)`,
	`CREATE TABLE IF NOT EXISTS product_versions (
		id INTEGER PRIMARY KEY,
		version TEXT NOT NULL,
		current_milestone_id INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS product_milestones (
		id INTEGER PRIMARY KEY,
		version TEXT NOT NULL,
		product_version_id INTEGER NOT NULL,
		starting_date TIMESTAMPTZ NOT NULL,
		planned_end_date TIMESTAMPTZ,
		end_date TIMESTAMPTZ
	)`,
	`CREATE SEQUENCE IF NOT EXISTS milestone_release_id_seq`,
	`CREATE TABLE IF NOT EXISTS milestone_releases (
		id BIGINT PRIMARY KEY,
		milestone_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		engine TEXT NOT NULL DEFAULT '',
		starting_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_milestone_releases_milestone
		ON milestone_releases (milestone_id, starting_date DESC, id DESC)`,
	// Backs the single IN_PROGRESS release per milestone invariant.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_milestone_releases_in_progress
		ON milestone_releases (milestone_id) WHERE status = 'IN_PROGRESS'`,
	`CREATE TABLE IF NOT EXISTS build_record_push_results (
		id BIGSERIAL PRIMARY KEY,
		build_record_id TEXT NOT NULL,
		status TEXT NOT NULL,
		brew_build_id INTEGER NOT NULL DEFAULT 0,
		brew_build_url TEXT NOT NULL DEFAULT '',
		tag_prefix TEXT NOT NULL DEFAULT '',
		milestone_release_id BIGINT NOT NULL REFERENCES milestone_releases(id)
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_queue (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		available_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatch_queue_pending
		ON dispatch_queue (status, available_at, created_at)`,
}

// Migrate creates the tables used by the coordinator if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.logger.Info("database schema up to date")
	return nil
}
