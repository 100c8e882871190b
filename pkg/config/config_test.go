package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/policy"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("data_dir", "/tmp/sg")

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout)
	assert.Equal(t, envelope.CurrentVersion, cfg.Envelope.Version)
	assert.Equal(t, policy.Default(), cfg.Policy)
	assert.Equal(t, "/tmp/sg/ingestion_history.yaml", cfg.LedgerPath())
	assert.Equal(t, "/tmp/sg/skills.yaml", cfg.SkillsPath())
	assert.Equal(t, "/tmp/sg/skillgate.lock", cfg.LockPath())
	assert.Equal(t, "/tmp/sg/history.db", cfg.HistoryPath())
	assert.Len(t, cfg.Sources, len(DefaultSources()))

	v.Set("history_file", "")
	cfg, err = LoadFrom(v)
	require.NoError(t, err)
	assert.Empty(t, cfg.HistoryPath())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/skillgate
skills_file: /etc/skillgate/skills.yaml
workers: 8
lock_timeout: 5s
sources:
  - name: exports
    source: manual-export
    patterns: ["/exports/*.json"]
skills:
  allowed: ["go*"]
  keywords:
    golang: ["goroutine", "go mod"]
policy:
  stale_days: 120
  level_sessions: [1, 3, 10, 20]
`)
	v := viper.New()
	require.NoError(t, Init(v, path))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, "/etc/skillgate/skills.yaml", cfg.SkillsPath())
	assert.Equal(t, "/var/lib/skillgate/ingestion_history.yaml", cfg.LedgerPath())
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, sessions.SourceManualExport, cfg.Sources[0].Source)
	assert.Equal(t, []string{"go*"}, cfg.Skills.Allowed)
	assert.Equal(t, []string{"goroutine", "go mod"}, cfg.Skills.Keywords["golang"])

	assert.Equal(t, 120, cfg.Policy.StaleDays)
	assert.Equal(t, []int{1, 3, 10, 20}, cfg.Policy.LevelSessions)
	assert.Equal(t, policy.Default().DemotionIdleDays, cfg.Policy.DemotionIdleDays, "unset thresholds keep their defaults")
}

func TestLoadInvalidPolicy(t *testing.T) {
	path := writeConfig(t, `
policy:
  decay_warn_days: 90
  decay_after_days: 30
`)
	v := viper.New()
	require.NoError(t, Init(v, path))

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid policy configuration")
}

func TestLoadUnknownSourceTag(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: pigeons
    source: carrier-pigeon
    patterns: ["/coop/*.json"]
`)
	v := viper.New()
	require.NoError(t, Init(v, path))

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `source pigeons has unknown source tag "carrier-pigeon"`)
}

func TestLoadPolicyToggles(t *testing.T) {
	path := writeConfig(t, `
policy:
  promotion_guard: true
  duplicate_window_minutes: 0
`)
	v := viper.New()
	require.NoError(t, Init(v, path))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.True(t, cfg.Policy.PromotionGuard)
	assert.Equal(t, 0, cfg.Policy.DuplicateWindowMinutes)
}

func TestInitMissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := Init(v, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("SKILLGATE_WORKERS", "2")
	t.Setenv("SKILLGATE_DATA_DIR", "/data")

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("SKILLGATE")
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "/data", cfg.DataDir)
}
