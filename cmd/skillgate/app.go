package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/cycle"
	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/evidence"
	"github.com/jingkaihe/skillgate/pkg/gate"
	"github.com/jingkaihe/skillgate/pkg/history"
	"github.com/jingkaihe/skillgate/pkg/ledger"
	"github.com/jingkaihe/skillgate/pkg/lock"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/transcript"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// app bundles the resolved configuration with the file stores it points at
type app struct {
	cfg    config.Config
	ledger *ledger.FileStore
	skills *skills.FileStore
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfg), nil
}

func newApp(cfg config.Config) *app {
	return &app{
		cfg:    cfg,
		ledger: ledger.NewFileStore(cfg.LedgerPath()),
		skills: skills.NewFileStore(cfg.SkillsPath()),
	}
}

func (a *app) ensureDataDir() error {
	return errors.Wrap(os.MkdirAll(a.cfg.DataDir, 0o755), "failed to create data directory")
}

func (a *app) runner(ctx context.Context, clock cycle.Clock) (*cycle.Runner, error) {
	attributor, _, err := skills.Initialize(ctx, a.cfg.Skills)
	if err != nil {
		return nil, err
	}

	p := a.cfg.Policy
	return &cycle.Runner{
		Ledger:      a.ledger,
		Skills:      a.skills,
		Decoder:     transcript.DefaultDecoder{},
		Validator:   envelope.NewValidator(a.cfg.Envelope.Version),
		Attributor:  attributor,
		Aggregator:  evidence.NewAggregator(p),
		Engine:      gate.NewEngine(p),
		LockPath:    a.cfg.LockPath(),
		LockTimeout: a.cfg.LockTimeout,
		Clock:       clock,
		Workers:     a.cfg.Workers,
	}, nil
}

// openHistory opens the run history database, or returns nil when history is disabled
func (a *app) openHistory(ctx context.Context) (*history.Store, error) {
	path := a.cfg.HistoryPath()
	if path == "" {
		return nil, nil
	}
	return history.Open(ctx, path)
}

// withLock runs fn while holding the run lock
func (a *app) withLock(ctx context.Context, fn func(context.Context) error) error {
	if err := a.ensureDataDir(); err != nil {
		return err
	}
	return lock.With(ctx, a.cfg.LockPath(), a.cfg.LockTimeout, fn)
}

// updateSkill loads the store under the run lock, applies fn to the named
// record and saves the store
func (a *app) updateSkill(ctx context.Context, name string, fn func(*skilltypes.Record) error) error {
	return a.withLock(ctx, func(ctx context.Context) error {
		set, err := a.skills.Load(ctx)
		if err != nil {
			return err
		}
		rec, ok := set[name]
		if !ok {
			return errors.Errorf("skill %q not found in %s", name, a.skills.Path())
		}
		if err := fn(rec); err != nil {
			return err
		}
		return a.skills.AtomicSave(ctx, set)
	})
}

func parseNow(raw string) (cycle.Clock, error) {
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --now %q, expected RFC3339", raw)
	}
	return func() time.Time { return at }, nil
}

func nowFrom(clock cycle.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock().UTC()
}

// printStructured writes v as yaml (the default) or indented json
func printStructured(w io.Writer, v interface{}, format string) error {
	switch format {
	case "", "text", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "failed to encode yaml")
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "failed to encode json")
	default:
		return errors.Errorf("unsupported format %q", format)
	}
}
