// Package cycle runs one ingestion cycle: under the run lock it loads the
// ledger and skill store, admits each new session exactly once, folds the
// sessions into skill evidence, applies the temporal gate and commits both
// stores atomically.
package cycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aymanbagabas/go-udiff"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/evidence"
	"github.com/jingkaihe/skillgate/pkg/gate"
	"github.com/jingkaihe/skillgate/pkg/identity"
	"github.com/jingkaihe/skillgate/pkg/ledger"
	"github.com/jingkaihe/skillgate/pkg/lock"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
	"github.com/jingkaihe/skillgate/pkg/transcript"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// Clock returns the current time
type Clock func() time.Time

// Options tune a single run
type Options struct {
	// DryRun evaluates everything but writes nothing
	DryRun bool
	// Diff renders a unified diff of the skill store into the report
	Diff bool
}

// Recorder keeps the reports of committed cycles
type Recorder interface {
	Record(ctx context.Context, report *Report) error
}

// Runner holds the collaborators of the ingestion cycle
type Runner struct {
	Ledger     ledger.Store
	Skills     skills.Store
	Decoder    transcript.Decoder
	Validator  *envelope.Validator
	Attributor *skills.Attributor
	Aggregator *evidence.Aggregator
	Engine     *gate.Engine
	// History is optional
	History Recorder

	// LockPath is the run lock file; empty disables locking
	LockPath    string
	LockTimeout time.Duration
	Clock       Clock
	Workers     int
}

type admitted struct {
	record      sessions.Record
	attribution skills.Attribution
}

type outcome struct {
	name     string
	added    int
	decision gate.Decision
	err      error
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

// Run executes one cycle over artifacts. The returned report is never nil.
// A non-nil error is fatal; per-record problems are only reported.
func (r *Runner) Run(ctx context.Context, artifacts []Artifact, opts Options) (*Report, error) {
	now := r.now()
	report := newReport(ulid.Make().String(), now, opts.DryRun)
	ctx = logger.WithRun(ctx, report.RunID)

	err := telemetry.WithSpan(ctx, "cycle.run", func(ctx context.Context) error {
		if r.LockPath == "" || opts.DryRun {
			return r.run(ctx, artifacts, opts, now, report)
		}
		return lock.With(ctx, r.LockPath, r.LockTimeout, func(ctx context.Context) error {
			return r.run(ctx, artifacts, opts, now, report)
		})
	},
		attribute.String("run_id", report.RunID),
		attribute.Int("artifacts", len(artifacts)),
		attribute.Bool("dry_run", opts.DryRun),
	)

	report.finish(r.now(), err, r.Engine.Policy().CorruptCriticalRatio)

	log := logger.G(ctx).WithField("exit_code", report.ExitCode)
	if err == nil && !opts.DryRun && r.History != nil {
		// the stores are already committed; a history failure only loses the record
		if herr := r.History.Record(ctx, report); herr != nil {
			log.WithError(herr).Warn("failed to record run history")
		}
	}
	if err != nil {
		log.WithError(err).Error("ingestion cycle failed")
	} else {
		log.WithField("processed", report.Counts.Processed).
			WithField("duplicates", report.Counts.Duplicates).
			WithField("corrupt", report.Counts.Corrupt).
			Info("ingestion cycle finished")
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, artifacts []Artifact, opts Options, now time.Time, report *Report) error {
	l, err := r.Ledger.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load ingestion ledger")
	}
	set, err := r.Skills.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load skill store")
	}
	before := set.Clone()

	report.Counts.Artifacts = len(artifacts)
	accepted, err := r.admit(ctx, artifacts, l, report)
	if err != nil {
		return err
	}

	outcomes, err := r.evaluate(ctx, set, accepted, now, report.RunID)
	if err != nil {
		return err
	}

	corrupt := r.merge(set, outcomes, report)
	telemetry.SetAttributes(ctx,
		attribute.Int("sessions.processed", report.Counts.Processed),
		attribute.Int("sessions.duplicates", report.Counts.Duplicates),
		attribute.Int("skills.corrupt", report.Counts.Corrupt),
		attribute.Int("skills.transitions", report.Counts.Transitions),
	)

	for _, a := range accepted {
		status, opt := ledger.StatusOK, ledger.WithError("")
		for _, name := range a.attribution.Skills {
			if cerr, ok := corrupt[name]; ok {
				status, opt = ledger.StatusError, ledger.WithError(cerr.Error())
				break
			}
		}
		if err := l.MarkProcessed(a.record.SessionID, a.record.Source, now, status,
			ledger.WithSourcePath(a.record.SourcePath),
			ledger.WithSkills(a.attribution.Skills),
			ledger.WithProvenance(a.record.ProjectPath, a.record.StartTime),
			opt,
		); err != nil {
			report.addError(err)
		}
	}

	report.Audit = audit.Run(set, l, r.Engine.Policy(), now, audit.Options{Skip: skipped(corrupt)})

	if opts.Diff {
		diff, err := storeDiff(before, set)
		if err != nil {
			return err
		}
		report.Diff = diff
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "cycle cancelled before commit")
	}
	if opts.DryRun {
		return nil
	}

	return telemetry.WithSpan(ctx, "cycle.commit", func(ctx context.Context) error {
		// skills first: a ledger that lags the skill store only causes a
		// re-read that the evidence guard ignores
		if err := r.Skills.AtomicSave(ctx, set); err != nil {
			return errors.Wrap(err, "failed to save skill store")
		}
		telemetry.AddEvent(ctx, "skills.saved", attribute.Int("skills", len(set)))
		if err := r.Ledger.AtomicSave(ctx, l); err != nil {
			return errors.Wrap(err, "failed to save ingestion ledger")
		}
		telemetry.AddEvent(ctx, "ledger.saved", attribute.Int("entries", l.Len()))
		return nil
	})
}

type candidate struct {
	artifact   Artifact
	transcript *transcript.Transcript
	identity   identity.Identity
}

// admit decodes, identifies, deduplicates, validates and attributes each
// artifact. Sessions admitted earlier in the batch count as processed.
// Sessions with an explicit id are admitted first so that a derived id can be
// matched against them by project and start time.
func (r *Runner) admit(ctx context.Context, artifacts []Artifact, l *ledger.Ledger, report *Report) ([]admitted, error) {
	candidates := make([]candidate, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "cycle cancelled during admission")
		}

		t, err := r.Decoder.Decode(a.Data)
		if err != nil {
			report.Counts.IdentityErrors++
			report.addError(errors.Wrapf(err, "%s", a.Path))
			continue
		}
		id, err := identity.FromTranscript(t)
		if err != nil {
			report.Counts.IdentityErrors++
			report.addError(errors.Wrapf(err, "%s", a.Path))
			continue
		}
		candidates = append(candidates, candidate{artifact: a, transcript: t, identity: id})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return !candidates[i].identity.Derived && candidates[j].identity.Derived
	})

	window := time.Duration(r.Engine.Policy().DuplicateWindowMinutes) * time.Minute
	seen := make(map[string]bool)
	var accepted []admitted

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "cycle cancelled during admission")
		}
		a, id := c.artifact, c.identity
		log := logger.G(ctx).WithField("path", a.Path).WithField("session_id", id.SessionID)

		if seen[id.SessionID] || l.IsProcessed(id.SessionID) {
			report.Counts.Duplicates++
			log.Debug("skipping already processed session")
			continue
		}

		env := Prepare(c.transcript, id, a.Path, r.Validator.ExpectedVersion())
		source := id.Source
		if a.Source != "" {
			source = a.Source
		}
		rec, warnings, err := r.Validator.ToRecord(&env, source)
		if err != nil {
			report.Counts.Invalid++
			report.addError(errors.Wrapf(err, "session %s (%s)", id.SessionID, a.Path))
			continue
		}

		if id.Derived {
			if match, ok := nearby(l, accepted, rec, window); ok {
				report.Counts.Duplicates++
				report.warn(fmt.Sprintf("session %s (%s) started within %s of session %s in %s; skipped as duplicate",
					id.SessionID, a.Path, window, match, rec.ProjectPath))
				log.WithField("match", match).Debug("skipping session matched by project and start time")
				continue
			}
		}

		for _, w := range warnings {
			report.warn("session " + id.SessionID + ": " + w)
		}
		if rec.Agent == "" {
			rec.Agent = id.Agent
		}

		seen[id.SessionID] = true
		report.Counts.Processed++
		attribution := r.Attributor.Attribute(rec)
		log.WithField("skills", attribution.Skills).Debug("admitted session")
		accepted = append(accepted, admitted{record: rec, attribution: attribution})
	}

	return accepted, nil
}

// nearby finds a processed or already admitted session of the same project
// that started within window of rec
func nearby(l *ledger.Ledger, accepted []admitted, rec sessions.Record, window time.Duration) (string, bool) {
	if match, ok := l.IsDuplicateByProximity(rec.ProjectPath, rec.StartTime, window); ok {
		return match, true
	}
	if rec.ProjectPath == "" || rec.StartTime.IsZero() || window <= 0 {
		return "", false
	}
	for _, a := range accepted {
		other := a.record
		if other.ProjectPath == rec.ProjectPath && !other.StartTime.IsZero() &&
			ledger.Within(other.StartTime, rec.StartTime, window) {
			return other.SessionID, true
		}
	}
	return "", false
}

// Prepare returns the envelope of t ready for validation. The resolved id
// replaces a missing session_id, and transcripts converted from agent caches
// are stamped with version since their shape is produced by the decoder.
func Prepare(t *transcript.Transcript, id identity.Identity, path, version string) envelope.Envelope {
	env := t.Envelope
	env.SessionID = id.SessionID
	if t.Format != transcript.FormatEnvelope && env.SchemaVersion == "" {
		env.SchemaVersion = version
	}
	if env.SourcePath == "" {
		env.SourcePath = path
	}
	return env
}

// evaluate runs Check, Aggregate and Evaluate for every stored or newly
// attributed skill in a bounded worker pool. Records in set are not modified.
func (r *Runner) evaluate(ctx context.Context, set skilltypes.Set, accepted []admitted, now time.Time, runID string) ([]outcome, error) {
	groups := make(map[string][]evidence.Attributed)
	for _, a := range accepted {
		date := a.record.StartTime
		if date.After(now) {
			date = now
		}
		for _, name := range a.attribution.Skills {
			groups[name] = append(groups[name], evidence.Attributed{
				SessionID: a.record.SessionID,
				Date:      date,
				Source:    a.record.Source,
				Outcome:   a.attribution.Outcome,
			})
		}
	}
	for name := range groups {
		if _, ok := set[name]; !ok {
			set[name] = skilltypes.NewRecord(name)
		}
	}

	names := set.Names()
	outcomes := make([]outcome, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Workers, 1))
	for i, name := range names {
		i, name := i, name
		rec := set[name]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o := outcome{name: name}
			if err := r.Engine.Check(rec, now); err != nil {
				o.err = err
			} else {
				work := rec.Clone()
				o.added = r.Aggregator.Aggregate(work, groups[name], now)
				o.decision, o.err = r.Engine.Evaluate(work, o.added, now, runID)
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "cycle cancelled during evaluation")
	}
	return outcomes, nil
}

// merge applies successful outcomes to set and returns the corrupt skills
func (r *Runner) merge(set skilltypes.Set, outcomes []outcome, report *Report) map[string]error {
	corrupt := make(map[string]error)
	report.Counts.SkillsEvaluated = len(outcomes)

	for _, o := range outcomes {
		if o.err != nil {
			corrupt[o.name] = o.err
			report.Counts.Corrupt++
			report.addError(o.err)
			continue
		}

		d := o.decision
		set[o.name] = d.Record
		if o.added > 0 || d.Changed() {
			report.Counts.SkillsUpdated++
		}
		for _, t := range d.Transitions {
			report.Transitions = append(report.Transitions, SkillTransition{Skill: o.name, Transition: t})
		}
		for _, f := range d.Flags {
			report.Flags = append(report.Flags, SkillFlag{Skill: o.name, ReviewFlag: f})
		}
		report.Counts.Transitions += len(d.Transitions)
		report.Counts.FlagsAdded += len(d.Flags)
	}
	return corrupt
}

func skipped(corrupt map[string]error) map[string]bool {
	skip := make(map[string]bool, len(corrupt))
	for name := range corrupt {
		skip[name] = true
	}
	return skip
}

func storeDiff(before, after skilltypes.Set) (string, error) {
	a, err := skills.Marshal(before)
	if err != nil {
		return "", err
	}
	b, err := skills.Marshal(after)
	if err != nil {
		return "", err
	}
	return udiff.Unified(skills.DefaultFileName, skills.DefaultFileName, string(a), string(b)), nil
}
