package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/cycle"
	"github.com/jingkaihe/skillgate/pkg/db"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

var started = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), db.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func report(runID string, at time.Time, transitions ...cycle.SkillTransition) *cycle.Report {
	return &cycle.Report{
		RunID:       runID,
		StartedAt:   at,
		FinishedAt:  at.Add(time.Second),
		Counts:      cycle.Counts{Artifacts: 3, Processed: 2, Duplicates: 1, SkillsUpdated: len(transitions)},
		Transitions: transitions,
		ExitCode:    audit.ExitOK,
	}
}

func promotion(skill string, at time.Time) cycle.SkillTransition {
	return cycle.SkillTransition{
		Skill: skill,
		Transition: skilltypes.Transition{
			At:         at,
			Kind:       skilltypes.TransitionPromotion,
			FromStatus: skilltypes.StatusHistorical,
			ToStatus:   skilltypes.StatusActive,
			FromLevel:  1,
			ToLevel:    1,
			Reason:     "5 sessions",
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	r := report("run-1", started, promotion("golang", started))
	r.Errors = []string{"session x: invalid"}
	require.NoError(t, s.Record(ctx, r))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 2, got.Counts.Processed)
	assert.Equal(t, []string{"session x: invalid"}, got.Errors)
	require.Len(t, got.Transitions, 1)
	assert.Equal(t, "golang", got.Transitions[0].Skill)
	assert.Equal(t, skilltypes.TransitionPromotion, got.Transitions[0].Kind)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Record(ctx, report("run-1", started)))
	require.NoError(t, s.Record(ctx, report("run-2", started.Add(time.Hour))))
	fatal := report("run-3", started.Add(2*time.Hour))
	fatal.Fatal = "lock timeout"
	fatal.ExitCode = audit.ExitCritical
	require.NoError(t, s.Record(ctx, fatal))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, "run-1", runs[2].RunID)
	require.NotNil(t, runs[0].Fatal)
	assert.Equal(t, "lock timeout", *runs[0].Fatal)
	assert.Nil(t, runs[1].Fatal)
	assert.Equal(t, 3, runs[1].Artifacts)

	runs, err = s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-3", runs[0].RunID)
}

func TestRecordReplacesRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Record(ctx, report("run-1", started, promotion("golang", started))))
	require.NoError(t, s.Record(ctx, report("run-1", started, promotion("rust", started))))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	golang, err := s.Transitions(ctx, "golang")
	require.NoError(t, err)
	assert.Empty(t, golang)

	rust, err := s.Transitions(ctx, "rust")
	require.NoError(t, err)
	assert.Len(t, rust, 1)
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	demotion := promotion("golang", started.Add(time.Hour))
	demotion.Kind = skilltypes.TransitionDemotion
	demotion.FromStatus, demotion.ToStatus = skilltypes.StatusActive, skilltypes.StatusHistorical

	require.NoError(t, s.Record(ctx, report("run-1", started, promotion("golang", started), promotion("rust", started))))
	require.NoError(t, s.Record(ctx, report("run-2", started.Add(time.Hour), demotion)))

	transitions, err := s.Transitions(ctx, "golang")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "run-1", transitions[0].RunID)
	assert.Equal(t, skilltypes.TransitionPromotion, transitions[0].Kind)
	assert.Equal(t, "run-2", transitions[1].RunID)
	assert.Equal(t, skilltypes.StatusHistorical, transitions[1].ToStatus)
	assert.True(t, transitions[1].At.Equal(started.Add(time.Hour)))
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Record(ctx, report("old", started.AddDate(0, 0, -100), promotion("golang", started.AddDate(0, 0, -100)))))
	require.NoError(t, s.Record(ctx, report("new", started)))

	removed, err := s.Prune(ctx, started.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].RunID)

	transitions, err := s.Transitions(ctx, "golang")
	require.NoError(t, err)
	assert.Empty(t, transitions)
}
