package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/cycle"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func artifactPaths(artifacts []cycle.Artifact) []string {
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		paths = append(paths, a.Path)
	}
	return paths
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "exports"), expandHome("~/exports"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/var/log", expandHome("/var/log"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}

func TestCollectArtifacts(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "nested", "b.jsonl")
	writeFile(t, a, `{"session_id":"a"}`)
	writeFile(t, b, `{"type":"user"}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	t.Run("directory", func(t *testing.T) {
		artifacts, err := collectArtifacts(config.Config{}, []string{dir})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b}, artifactPaths(artifacts))
	})

	t.Run("file and glob are deduplicated", func(t *testing.T) {
		artifacts, err := collectArtifacts(config.Config{}, []string{a, filepath.Join(dir, "*.json")})
		require.NoError(t, err)
		require.Len(t, artifacts, 1)
		assert.Equal(t, a, artifacts[0].Path)
		assert.Equal(t, `{"session_id":"a"}`, string(artifacts[0].Data))
	})

	t.Run("glob without matches", func(t *testing.T) {
		artifacts, err := collectArtifacts(config.Config{}, []string{filepath.Join(dir, "*.yaml")})
		require.NoError(t, err)
		assert.Empty(t, artifacts)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := collectArtifacts(config.Config{}, []string{filepath.Join(dir, "missing.json")})
		assert.ErrorContains(t, err, "failed to stat")
	})

	t.Run("configured sources", func(t *testing.T) {
		cfg := config.Config{Sources: []config.Source{{
			Name:     "exports",
			Patterns: []string{filepath.Join(dir, "**", "*.jsonl")},
		}}}
		artifacts, err := collectArtifacts(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{b}, artifactPaths(artifacts))
	})
}

func TestRenderReportText(t *testing.T) {
	report := &cycle.Report{
		RunID:  "01J0000000000000000000000",
		DryRun: true,
		Counts: cycle.Counts{Artifacts: 3, Processed: 2, Duplicates: 1},
		Transitions: []cycle.SkillTransition{{
			Skill: "golang",
			Transition: skilltypes.Transition{
				Kind:       skilltypes.TransitionPromotion,
				FromStatus: skilltypes.StatusHistorical,
				ToStatus:   skilltypes.StatusActive,
				FromLevel:  1,
				ToLevel:    1,
				Reason:     "5 sessions",
			},
		}},
		Flags: []cycle.SkillFlag{{
			Skill:      "golang",
			ReviewFlag: skilltypes.ReviewFlag{Trigger: "promoted", Severity: skilltypes.SeverityLow, Message: "promoted to active"},
		}},
		ExitCode: audit.ExitOK,
	}

	var buf bytes.Buffer
	require.NoError(t, renderReport(&buf, report, "text"))

	out := buf.String()
	for _, want := range []string{
		"Ingestion run 01J0000000000000000000000 (dry run)",
		"Transitions",
		"historical/1",
		"active/1",
		"Review flags",
		"promoted to active",
		"Cycle completed",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRenderReportJSON(t *testing.T) {
	report := &cycle.Report{
		RunID:    "run",
		Counts:   cycle.Counts{Invalid: 1},
		Errors:   []string{"session x: invalid envelope"},
		ExitCode: audit.ExitWarnings,
	}

	var buf bytes.Buffer
	require.NoError(t, renderReport(&buf, report, "json"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run", decoded["run_id"])
	assert.Equal(t, float64(audit.ExitWarnings), decoded["exit_code"])

	assert.Error(t, renderReport(&buf, report, "xml"))
}
