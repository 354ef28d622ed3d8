package storage

import (
	"fmt"
	"log"
	"time"
)

// timeLayout is fixed width so stored timestamps compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "trials",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS trials (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				study TEXT NOT NULL,
				bean_id TEXT NOT NULL,
				method TEXT NOT NULL,
				trial_number INTEGER NOT NULL,
				grind REAL NOT NULL,
				dose REAL NOT NULL,
				target_time REAL NOT NULL,
				observed_score REAL,
				observed_time REAL,
				observed_yield REAL,
				source TEXT NOT NULL,
				created_at TEXT NOT NULL,
				scored_at TEXT,
				UNIQUE(study, trial_number)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_trials_best
				ON trials(study, observed_score DESC, trial_number ASC)`,
		},
	},
	{
		version: 2,
		name:    "shots",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS shots (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				shot_id TEXT NOT NULL UNIQUE,
				bean_id TEXT NOT NULL,
				method TEXT NOT NULL,
				payload TEXT NOT NULL,
				predicted_score REAL NOT NULL,
				confidence REAL NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_shots_created
				ON shots(created_at DESC)`,
		},
	},
}

// runMigrations applies every migration newer than the recorded version.
func (s *SQLiteStorage) runMigrations() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	for _, m := range migrations {
		if current >= m.version {
			continue
		}
		log.Printf("Running migration %d: %s", m.version, m.name)

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit failed: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStorage) SchemaVersion() (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var v int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}
