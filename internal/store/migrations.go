package store

import (
	"fmt"

	"arcadiaforge/internal/logging"
)

// columnMigration adds one column to an existing table when it is missing.
// Schema growth is additive only; dropped columns are never reclaimed.
type columnMigration struct {
	table  string
	column string
	ddl    string
}

// migrations added after the initial schema shipped. Each entry is applied
// at most once per database.
var pendingMigrations = []columnMigration{
	{"features", "blocked_reason", "ALTER TABLE features ADD COLUMN blocked_reason TEXT NOT NULL DEFAULT ''"},
	{"features", "skip_verification", "ALTER TABLE features ADD COLUMN skip_verification INTEGER NOT NULL DEFAULT 0"},
	{"checkpoints", "pending_json", "ALTER TABLE checkpoints ADD COLUMN pending_json TEXT NOT NULL DEFAULT '[]'"},
	{"injections", "responded_by", "ALTER TABLE injections ADD COLUMN responded_by TEXT NOT NULL DEFAULT ''"},
	{"cold_knowledge", "signature", "ALTER TABLE cold_knowledge ADD COLUMN signature TEXT NOT NULL DEFAULT ''"},
	{"intervention_patterns", "min_confidence_auto", "ALTER TABLE intervention_patterns ADD COLUMN min_confidence_auto REAL NOT NULL DEFAULT 0.8"},
}

// migrate applies column-level migrations for databases created by older
// builds. CREATE TABLE IF NOT EXISTS handles new tables; this handles new
// columns on old tables.
func (s *Store) migrate() error {
	for _, m := range pendingMigrations {
		has, err := s.hasColumn(m.table, m.column)
		if err != nil {
			return fmt.Errorf("inspect %s.%s: %w", m.table, m.column, err)
		}
		if has {
			continue
		}
		logging.Store("Migrating: adding column %s.%s", m.table, m.column)
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// hasColumn checks table_info for a named column.
func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
