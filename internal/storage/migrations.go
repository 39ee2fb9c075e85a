package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
// Statements use types both SQLite and PostgreSQL accept.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS companies (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					approval_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_companies_owner ON companies(owner_id)`,

				`CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					source TEXT NOT NULL,
					external_id TEXT NOT NULL,
					payload TEXT NOT NULL,
					metadata TEXT NOT NULL DEFAULT '{}',
					agent_results TEXT,
					user_id TEXT NOT NULL DEFAULT '',
					tenant_id TEXT NOT NULL DEFAULT '',
					company_id TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					occurred_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					processed_at TIMESTAMP
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_source_external ON events(source, external_id)`,
				`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status, created_at)`,

				`CREATE TABLE IF NOT EXISTS master_operations (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					company_id TEXT NOT NULL DEFAULT '',
					operation_type TEXT NOT NULL,
					amount DOUBLE PRECISION NOT NULL,
					currency TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					counterparty TEXT NOT NULL DEFAULT '',
					transaction_date TEXT NOT NULL,
					category TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					auto_classified BOOLEAN NOT NULL DEFAULT FALSE,
					confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
					classification_reasons TEXT NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_operations_match ON master_operations(user_id, amount, transaction_date)`,

				`CREATE TABLE IF NOT EXISTS operation_sources (
					id TEXT PRIMARY KEY,
					master_operation_id TEXT NOT NULL REFERENCES master_operations(id),
					event_id TEXT NOT NULL DEFAULT '',
					source_type TEXT NOT NULL,
					external_id TEXT NOT NULL,
					raw_data TEXT NOT NULL DEFAULT '{}',
					match_type TEXT NOT NULL,
					match_confidence DOUBLE PRECISION NOT NULL,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sources_master ON operation_sources(master_operation_id)`,

				`CREATE TABLE IF NOT EXISTS business_rules (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					rule_type TEXT NOT NULL,
					name TEXT NOT NULL,
					conditions TEXT NOT NULL DEFAULT '{}',
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_rules_user_type ON business_rules(user_id, rule_type, is_active)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Audit trail, alerts, tasks and briefings",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS agent_logs (
					id TEXT PRIMARY KEY,
					event_id TEXT NOT NULL DEFAULT '',
					user_id TEXT NOT NULL DEFAULT '',
					agent_type TEXT NOT NULL,
					action_type TEXT NOT NULL,
					input_data TEXT NOT NULL DEFAULT '{}',
					output_data TEXT NOT NULL DEFAULT '{}',
					execution_time_ms BIGINT NOT NULL DEFAULT 0,
					confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
					success BOOLEAN NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_agent_logs_event ON agent_logs(event_id)`,

				`CREATE TABLE IF NOT EXISTS alerts (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					alert_type TEXT NOT NULL,
					severity TEXT NOT NULL,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					data TEXT NOT NULL DEFAULT '{}',
					is_read BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, is_read)`,

				`CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					priority TEXT NOT NULL,
					status TEXT NOT NULL,
					due_date TIMESTAMP,
					source_type TEXT NOT NULL DEFAULT '',
					source_id TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status)`,

				`CREATE TABLE IF NOT EXISTS briefings (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					briefing_type TEXT NOT NULL,
					content TEXT NOT NULL,
					generated_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_briefings_user ON briefings(user_id, generated_at)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add rule actions and CEL expressions, clients",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`ALTER TABLE business_rules ADD COLUMN actions TEXT NOT NULL DEFAULT '{}'`,
				`ALTER TABLE business_rules ADD COLUMN expression TEXT NOT NULL DEFAULT ''`,

				`CREATE TABLE IF NOT EXISTS clients (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					company_id TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id, created_at)`,
			)
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if setErr := s.setSchemaVersion(ctx, tx, migration.Version); setErr != nil {
			_ = tx.Rollback()
			return setErr
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.schemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("%w: expected %d, got %d", ErrSchemaVersionDrift, ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// schemaVersion reads PRAGMA user_version on SQLite and the schema_migrations table on PostgreSQL.
func (s *SQLStorage) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if s.dialect == DialectSQLite {
		if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("failed to get schema version: %w", err)
		}
		return version, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStorage) setSchemaVersion(ctx context.Context, tx *sql.Tx, version int) error {
	var err error
	if s.dialect == DialectSQLite {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
	}
	if err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}
