package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/db"
)

// Migration20251019090001CreateRunTransitions creates run_transitions, the
// per-skill transitions applied by each run.
func Migration20251019090001CreateRunTransitions() db.Migration {
	return db.Migration{
		Version:     20251019090001,
		Description: "Create run_transitions table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS run_transitions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
					skill TEXT NOT NULL,
					kind TEXT NOT NULL,
					from_status TEXT NOT NULL,
					to_status TEXT NOT NULL,
					from_level INTEGER NOT NULL,
					to_level INTEGER NOT NULL,
					reason TEXT NOT NULL,
					at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create run_transitions table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_run_transitions_skill ON run_transitions(skill, at)`); err != nil {
				return errors.Wrap(err, "failed to create idx_run_transitions_skill")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS run_transitions")
			return errors.Wrap(err, "failed to drop run_transitions table")
		},
	}
}
