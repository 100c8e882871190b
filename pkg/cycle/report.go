package cycle

import (
	"encoding/json"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillgate/pkg/audit"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// Counts are the per-cycle tallies
type Counts struct {
	Artifacts       int `yaml:"artifacts" json:"artifacts"`
	Processed       int `yaml:"processed" json:"processed"`
	Duplicates      int `yaml:"duplicates" json:"duplicates"`
	Invalid         int `yaml:"invalid" json:"invalid"`
	IdentityErrors  int `yaml:"identity_errors" json:"identity_errors"`
	Corrupt         int `yaml:"corrupt" json:"corrupt"`
	SkillsEvaluated int `yaml:"skills_evaluated" json:"skills_evaluated"`
	SkillsUpdated   int `yaml:"skills_updated" json:"skills_updated"`
	Transitions     int `yaml:"transitions" json:"transitions"`
	FlagsAdded      int `yaml:"flags_added" json:"flags_added"`
}

// SkillTransition is a transition applied to a named skill
type SkillTransition struct {
	Skill                 string `yaml:"skill" json:"skill"`
	skilltypes.Transition `yaml:",inline"`
}

// SkillFlag is a review flag raised on a named skill
type SkillFlag struct {
	Skill                 string `yaml:"skill" json:"skill"`
	skilltypes.ReviewFlag `yaml:",inline"`
}

// Report summarizes one ingestion cycle
type Report struct {
	RunID       string            `yaml:"run_id" json:"run_id"`
	StartedAt   time.Time         `yaml:"started_at" json:"started_at"`
	FinishedAt  time.Time         `yaml:"finished_at" json:"finished_at"`
	DryRun      bool              `yaml:"dry_run" json:"dry_run"`
	Counts      Counts            `yaml:"counts" json:"counts"`
	Errors      []string          `yaml:"errors,omitempty" json:"errors,omitempty"`
	Warnings    []string          `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	Transitions []SkillTransition `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	Flags       []SkillFlag       `yaml:"flags,omitempty" json:"flags,omitempty"`
	Audit       audit.Result      `yaml:"audit" json:"audit"`
	Fatal       string            `yaml:"fatal,omitempty" json:"fatal,omitempty"`
	ExitCode    int               `yaml:"exit_code" json:"exit_code"`

	// Diff is the unified diff of the skill store, set when requested
	Diff string `yaml:"-" json:"-"`

	errs *multierror.Error
}

func newReport(runID string, started time.Time, dryRun bool) *Report {
	return &Report{RunID: runID, StartedAt: started, DryRun: dryRun}
}

func (r *Report) addError(err error) {
	r.errs = multierror.Append(r.errs, err)
}

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Err returns the per-record errors of the cycle, or nil
func (r *Report) Err() error {
	return r.errs.ErrorOrNil()
}

// finish freezes the error list and computes the exit code. corruptRatio is
// the corrupt fraction of evaluated skills at which the cycle is critical.
func (r *Report) finish(at time.Time, fatal error, corruptRatio float64) {
	r.FinishedAt = at
	if r.errs != nil {
		r.Errors = make([]string, 0, len(r.errs.Errors))
		for _, err := range r.errs.Errors {
			r.Errors = append(r.Errors, err.Error())
		}
	}

	if fatal != nil {
		r.Fatal = fatal.Error()
		r.ExitCode = audit.ExitCritical
		return
	}

	r.ExitCode = r.Audit.ExitCode()
	if r.ExitCode == audit.ExitCritical {
		return
	}

	c := r.Counts
	if c.Corrupt > 0 && c.SkillsEvaluated > 0 && float64(c.Corrupt)/float64(c.SkillsEvaluated) >= corruptRatio {
		r.ExitCode = audit.ExitCritical
		return
	}
	if c.Corrupt > 0 || c.Invalid > 0 || c.IdentityErrors > 0 {
		r.ExitCode = max(r.ExitCode, audit.ExitWarnings)
	}
}

// Render writes the report as yaml or json
func (r *Report) Render(w io.Writer, format string) error {
	switch format {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "failed to encode report")
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(r), "failed to encode report")
	default:
		return errors.Errorf("unsupported report format %q", format)
	}
}
