// Package config loads skillgate configuration from viper, which merges
// command line flags, SKILLGATE_* environment variables, config.yaml and
// the defaults registered here.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/ledger"
	"github.com/jingkaihe/skillgate/pkg/lock"
	"github.com/jingkaihe/skillgate/pkg/policy"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

// LockFileName is the run lock file name inside the data directory
const LockFileName = "skillgate.lock"

// Source is a named set of glob patterns that locate session artifacts
type Source struct {
	Name     string          `mapstructure:"name" yaml:"name"`
	Source   sessions.Source `mapstructure:"source" yaml:"source"`
	Patterns []string        `mapstructure:"patterns" yaml:"patterns"`
}

// EnvelopeConfig is the `envelope` section
type EnvelopeConfig struct {
	Version string `mapstructure:"version" yaml:"version"`
}

// TracingConfig is the `tracing` section
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	Sampler string  `mapstructure:"sampler" yaml:"sampler"`
	Ratio   float64 `mapstructure:"ratio" yaml:"ratio"`
}

// Config is the resolved runtime configuration
type Config struct {
	DataDir     string         `mapstructure:"data_dir" yaml:"data_dir"`
	LedgerFile  string         `mapstructure:"ledger_file" yaml:"ledger_file"`
	SkillsFile  string         `mapstructure:"skills_file" yaml:"skills_file"`
	HistoryFile string         `mapstructure:"history_file" yaml:"history_file"`
	LockTimeout time.Duration  `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	Workers     int            `mapstructure:"workers" yaml:"workers"`
	LogLevel    string         `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string         `mapstructure:"log_format" yaml:"log_format"`
	Envelope    EnvelopeConfig `mapstructure:"envelope" yaml:"envelope"`
	Sources     []Source       `mapstructure:"sources" yaml:"sources"`
	Skills      skills.Config  `mapstructure:"skills" yaml:"skills"`
	Policy      policy.Policy  `mapstructure:"-" yaml:"policy"`
	Tracing     TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// DefaultSources are the capture locations of the supported agents
func DefaultSources() []Source {
	return []Source{
		{Name: "claude-code", Source: sessions.SourceInteractiveCache, Patterns: []string{"~/.claude/projects/**/*.jsonl"}},
		{Name: "codex", Source: sessions.SourceInteractiveCache, Patterns: []string{"~/.codex/sessions/**/*.jsonl"}},
		{Name: "gemini", Source: sessions.SourceInteractiveCache, Patterns: []string{"~/.gemini/tmp/*/chats/session-*.json"}},
		{Name: "exports", Source: sessions.SourceManualExport, Patterns: []string{"~/.skillgate/exports/**/*.json"}},
	}
}

// Init wires viper to the environment and the config file. cfgFile, when
// set, replaces the default search path.
func Init(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("SKILLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.skillgate")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// SetDefaults registers the built-in defaults on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("ledger_file", ledger.DefaultFileName)
	v.SetDefault("skills_file", skills.DefaultFileName)
	v.SetDefault("history_file", db.DefaultFileName)
	v.SetDefault("lock_timeout", lock.DefaultTimeout)
	v.SetDefault("workers", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("envelope.version", envelope.CurrentVersion)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
}

// Load reads the configuration from the global viper instance
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v. The policy section is decoded
// over policy.Default so a config file only needs the thresholds it changes.
func LoadFrom(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}

	p, err := decodePolicy(v.Get("policy"))
	if err != nil {
		return cfg, err
	}
	cfg.Policy = p

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, errors.Wrap(err, "failed to get user home directory")
		}
		cfg.DataDir = filepath.Join(home, ".skillgate")
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	for _, src := range cfg.Sources {
		if src.Source != "" && !src.Source.Valid() {
			return cfg, errors.Errorf("source %s has unknown source tag %q", src.Name, src.Source)
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = lock.DefaultTimeout
	}

	return cfg, nil
}

func decodePolicy(raw interface{}) (policy.Policy, error) {
	p := policy.Default()
	if raw == nil {
		return p, nil
	}

	if m, ok := raw.(map[string]interface{}); ok {
		if _, set := m["level_sessions"]; set {
			p.LevelSessions = nil
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return p, errors.Wrap(err, "failed to create policy decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return p, errors.Wrap(err, "failed to decode policy configuration")
	}
	if err := p.Validate(); err != nil {
		return p, errors.Wrap(err, "invalid policy configuration")
	}
	return p, nil
}

// LedgerPath is the absolute ledger file path
func (c Config) LedgerPath() string {
	return c.resolve(c.LedgerFile)
}

// SkillsPath is the absolute skill store file path
func (c Config) SkillsPath() string {
	return c.resolve(c.SkillsFile)
}

// HistoryPath is the run history database path, empty when history is disabled
func (c Config) HistoryPath() string {
	if c.HistoryFile == "" {
		return ""
	}
	return c.resolve(c.HistoryFile)
}

// LockPath is the run lock file path
func (c Config) LockPath() string {
	return filepath.Join(c.DataDir, LockFileName)
}

func (c Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}
