package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/db"
)

// Migration20251019090000CreateRuns creates the runs table, one row per committed cycle.
func Migration20251019090000CreateRuns() db.Migration {
	return db.Migration{
		Version:     20251019090000,
		Description: "Create runs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS runs (
					run_id TEXT PRIMARY KEY,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL,
					exit_code INTEGER NOT NULL,
					artifacts INTEGER NOT NULL,
					processed INTEGER NOT NULL,
					duplicates INTEGER NOT NULL,
					invalid INTEGER NOT NULL,
					identity_errors INTEGER NOT NULL,
					corrupt INTEGER NOT NULL,
					skills_updated INTEGER NOT NULL,
					fatal TEXT,
					report TEXT NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create runs table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`); err != nil {
				return errors.Wrap(err, "failed to create idx_runs_started_at")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS runs")
			return errors.Wrap(err, "failed to drop runs table")
		},
	}
}
