package usage

import (
	"database/sql"
	"fmt"
	"log/slog"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Each migration is applied once, in order, and recorded in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "turn_usage ledger",
		SQL: `
		CREATE TABLE IF NOT EXISTS turn_usage (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id           TEXT NOT NULL,
			channel           TEXT NOT NULL,
			conversation_id   TEXT NOT NULL,
			model             TEXT DEFAULT '',
			prompt_tokens     INTEGER DEFAULT 0,
			completion_tokens INTEGER DEFAULT 0,
			total_tokens      INTEGER DEFAULT 0,
			created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_turn_usage_time ON turn_usage(created_at);
		`,
	},
	{
		Version:     2,
		Description: "outcome and latency columns, per-conversation index",
		SQL: `
		ALTER TABLE turn_usage ADD COLUMN outcome TEXT DEFAULT 'ok';
		ALTER TABLE turn_usage ADD COLUMN latency_ms INTEGER DEFAULT 0;
		CREATE INDEX IF NOT EXISTS idx_turn_usage_conv ON turn_usage(conversation_id, created_at);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, or 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
