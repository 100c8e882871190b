// Package history keeps a SQLite record of committed ingestion cycles: the
// counts of every run, its full report and each skill transition it applied.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/cycle"
	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/db/migrations"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// ErrRunNotFound is returned when no run carries the requested id
var ErrRunNotFound = errors.New("run not found")

// Run is the summary row of one recorded cycle
type Run struct {
	RunID          string    `db:"run_id" json:"run_id"`
	StartedAt      time.Time `db:"started_at" json:"started_at"`
	FinishedAt     time.Time `db:"finished_at" json:"finished_at"`
	ExitCode       int       `db:"exit_code" json:"exit_code"`
	Artifacts      int       `db:"artifacts" json:"artifacts"`
	Processed      int       `db:"processed" json:"processed"`
	Duplicates     int       `db:"duplicates" json:"duplicates"`
	Invalid        int       `db:"invalid" json:"invalid"`
	IdentityErrors int       `db:"identity_errors" json:"identity_errors"`
	Corrupt        int       `db:"corrupt" json:"corrupt"`
	SkillsUpdated  int       `db:"skills_updated" json:"skills_updated"`
	Fatal          *string   `db:"fatal" json:"fatal,omitempty"`
}

// Transition is a skill transition together with the run that applied it
type Transition struct {
	RunID      string                    `db:"run_id" json:"run_id"`
	Skill      string                    `db:"skill" json:"skill"`
	Kind       skilltypes.TransitionKind `db:"kind" json:"kind"`
	FromStatus skilltypes.Status         `db:"from_status" json:"from_status"`
	ToStatus   skilltypes.Status         `db:"to_status" json:"to_status"`
	FromLevel  int                       `db:"from_level" json:"from_level"`
	ToLevel    int                       `db:"to_level" json:"to_level"`
	Reason     string                    `db:"reason" json:"reason"`
	At         time.Time                 `db:"at" json:"at"`
}

type dbRun struct {
	Run
	Report string `db:"report"`
}

// Store is the run history database
type Store struct {
	db *sqlx.DB
}

// Open opens the database at path and applies pending migrations
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrationRunner(conn).Run(ctx, migrations.All()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run history migrations")
	}
	return &Store{db: conn}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores report and its transitions in one transaction. Recording a
// run id twice replaces the earlier row.
func (s *Store) Record(ctx context.Context, report *cycle.Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}

	c := report.Counts
	row := dbRun{
		Run: Run{
			RunID:          report.RunID,
			StartedAt:      report.StartedAt.UTC(),
			FinishedAt:     report.FinishedAt.UTC(),
			ExitCode:       report.ExitCode,
			Artifacts:      c.Artifacts,
			Processed:      c.Processed,
			Duplicates:     c.Duplicates,
			Invalid:        c.Invalid,
			IdentityErrors: c.IdentityErrors,
			Corrupt:        c.Corrupt,
			SkillsUpdated:  c.SkillsUpdated,
		},
		Report: string(raw),
	}
	if report.Fatal != "" {
		row.Fatal = &report.Fatal
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", report.RunID); err != nil {
		return errors.Wrap(err, "failed to replace run")
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (
			run_id, started_at, finished_at, exit_code, artifacts, processed,
			duplicates, invalid, identity_errors, corrupt, skills_updated, fatal, report
		) VALUES (
			:run_id, :started_at, :finished_at, :exit_code, :artifacts, :processed,
			:duplicates, :invalid, :identity_errors, :corrupt, :skills_updated, :fatal, :report
		)
	`, row)
	if err != nil {
		return errors.Wrap(err, "failed to insert run")
	}

	for _, t := range report.Transitions {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO run_transitions (
				run_id, skill, kind, from_status, to_status, from_level, to_level, reason, at
			) VALUES (
				:run_id, :skill, :kind, :from_status, :to_status, :from_level, :to_level, :reason, :at
			)
		`, Transition{
			RunID:      report.RunID,
			Skill:      t.Skill,
			Kind:       t.Kind,
			FromStatus: t.FromStatus,
			ToStatus:   t.ToStatus,
			FromLevel:  t.FromLevel,
			ToLevel:    t.ToLevel,
			Reason:     t.Reason,
			At:         t.At.UTC(),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to insert transition of %s", t.Skill)
		}
	}

	return tx.Commit()
}

// List returns the latest runs first. limit <= 0 returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT run_id, started_at, finished_at, exit_code, artifacts, processed,
			duplicates, invalid, identity_errors, corrupt, skills_updated, fatal
		FROM runs ORDER BY started_at DESC, run_id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	return runs, nil
}

// Get returns the full report of a recorded run
func (s *Store) Get(ctx context.Context, runID string) (*cycle.Report, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, "SELECT report FROM runs WHERE run_id = ?", runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrRunNotFound, runID)
		}
		return nil, errors.Wrapf(err, "failed to load run %s", runID)
	}

	var report cycle.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, errors.Wrapf(err, "failed to decode report of run %s", runID)
	}
	return &report, nil
}

// Transitions returns the transitions recorded for skill, oldest first
func (s *Store) Transitions(ctx context.Context, skill string) ([]Transition, error) {
	var transitions []Transition
	err := s.db.SelectContext(ctx, &transitions, `
		SELECT run_id, skill, kind, from_status, to_status, from_level, to_level, reason, at
		FROM run_transitions WHERE skill = ? ORDER BY at, id`, skill)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load transitions of %s", skill)
	}
	return transitions, nil
}

// Prune deletes runs started before cutoff and returns how many were removed
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune runs")
	}
	return res.RowsAffected()
}
