// Package audit verifies the invariants of the skill store and ledger after
// an ingestion cycle and maps the result to a process exit code.
package audit

import (
	"fmt"
	"time"

	"github.com/jingkaihe/skillgate/pkg/gate"
	"github.com/jingkaihe/skillgate/pkg/ledger"
	"github.com/jingkaihe/skillgate/pkg/policy"
	"github.com/jingkaihe/skillgate/pkg/review"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// Exit codes
const (
	ExitOK       = 0
	ExitWarnings = 1
	ExitCritical = 2
)

// Finding is one audit observation
type Finding struct {
	Subject string `yaml:"subject" json:"subject"`
	Message string `yaml:"message" json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.Subject, f.Message)
}

// Result holds the findings of an audit
type Result struct {
	Critical []Finding `yaml:"critical,omitempty" json:"critical,omitempty"`
	Warnings []Finding `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}

// ExitCode maps the findings to 0, 1 or 2
func (r Result) ExitCode() int {
	switch {
	case len(r.Critical) > 0:
		return ExitCritical
	case len(r.Warnings) > 0:
		return ExitWarnings
	default:
		return ExitOK
	}
}

// Options tune what the audit inspects
type Options struct {
	// Skip names records already reported as corrupt in the current cycle
	Skip map[string]bool
}

// Run audits set and l. l may be nil.
func Run(set skilltypes.Set, l *ledger.Ledger, p policy.Policy, now time.Time, opts Options) Result {
	var res Result
	engine := gate.NewEngine(p)

	critical := func(subject, format string, args ...interface{}) {
		res.Critical = append(res.Critical, Finding{Subject: subject, Message: fmt.Sprintf(format, args...)})
	}
	warn := func(subject, format string, args ...interface{}) {
		res.Warnings = append(res.Warnings, Finding{Subject: subject, Message: fmt.Sprintf(format, args...)})
	}

	for _, name := range set.Names() {
		if opts.Skip[name] {
			continue
		}
		rec := set[name]

		if rec.CurrentLevel < 0 || rec.CurrentLevel > policy.MaxLevel {
			critical(name, "level %d outside 0..%d", rec.CurrentLevel, policy.MaxLevel)
		}
		if rec.Temporal.SessionCount < 0 {
			critical(name, "negative session_count %d", rec.Temporal.SessionCount)
		}
		if !rec.Status.Valid() {
			critical(name, "unknown status %q", rec.Status)
		}
		if rec.CurrentLevel > rec.HighWaterLevel {
			critical(name, "level %d above high_water_level %d", rec.CurrentLevel, rec.HighWaterLevel)
		}
		if engine.WeakEvidence(rec) && !rec.HasUnresolvedFlag(review.TriggerWeakEvidence) {
			critical(name, "level %d rests on %d session(s) without an open %s flag",
				rec.CurrentLevel, rec.Temporal.SessionCount, review.TriggerWeakEvidence)
		}

		if rec.Temporal.Trend == skilltypes.TrendStale {
			warn(name, "stale: %d days since last use", policy.DaysSince(rec.Temporal.LastSeen, now))
		}
		for _, f := range review.NewManager(rec).Overdue(now, p.FlagOverdueDays) {
			warn(name, "%s flag open for more than %d days", f.Trigger, p.FlagOverdueDays)
		}
	}

	if l != nil {
		for _, e := range l.Entries() {
			if e.Status == ledger.StatusError {
				warn(e.SessionID, "ledger entry has error status: %s", e.Error)
			}
		}
	}

	return res
}
