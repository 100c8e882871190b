package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/review"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

func testApp(t *testing.T) *app {
	t.Helper()
	return newApp(config.Config{
		DataDir:     filepath.Join(t.TempDir(), "data"),
		LedgerFile:  "ledger.yaml",
		SkillsFile:  "skills.yaml",
		LockTimeout: time.Second,
	})
}

func TestParseNow(t *testing.T) {
	clock, err := parseNow("")
	require.NoError(t, err)
	assert.Nil(t, clock)

	clock, err = parseNow("2025-06-01T12:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, clock)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), nowFrom(clock))

	_, err = parseNow("yesterday")
	assert.ErrorContains(t, err, "expected RFC3339")
}

func TestPrintStructured(t *testing.T) {
	v := map[string]int{"level": 2}

	var buf bytes.Buffer
	require.NoError(t, printStructured(&buf, v, "yaml"))
	assert.Equal(t, "level: 2\n", buf.String())

	buf.Reset()
	require.NoError(t, printStructured(&buf, v, "json"))
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, v, decoded)

	assert.Error(t, printStructured(&buf, v, "toml"))
}

func TestUpdateSkill(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)

	require.NoError(t, a.ensureDataDir())
	require.NoError(t, a.skills.AtomicSave(ctx, skilltypes.Set{"golang": skilltypes.NewRecord("golang")}))

	err := a.updateSkill(ctx, "golang", func(rec *skilltypes.Record) error {
		rec.StatusOverride = skilltypes.StatusActive
		review.NewManager(rec).AddFlag(skilltypes.ReviewFlag{Trigger: "manual", Severity: skilltypes.SeverityLow})
		return nil
	})
	require.NoError(t, err)

	set, err := a.skills.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, skilltypes.StatusActive, set["golang"].StatusOverride)
	assert.True(t, set["golang"].HasUnresolvedFlag("manual"))

	err = a.updateSkill(ctx, "rust", func(*skilltypes.Record) error { return nil })
	assert.ErrorContains(t, err, `skill "rust" not found`)
}

func TestUpdateSkillDoesNotSaveOnError(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)

	require.NoError(t, a.ensureDataDir())
	require.NoError(t, a.skills.AtomicSave(ctx, skilltypes.Set{"golang": skilltypes.NewRecord("golang")}))

	err := a.updateSkill(ctx, "golang", func(rec *skilltypes.Record) error {
		rec.OutcomeValidation = skilltypes.OutcomeValidated
		return review.NewManager(rec).ResolveFlag("missing", "n/a", "me", time.Now())
	})
	require.ErrorIs(t, err, review.ErrFlagNotFound)

	set, err := a.skills.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set["golang"].OutcomeValidation)
}
