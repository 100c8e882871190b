// Package gate implements the temporal gate: the rules that raise, lower,
// decay and restore a skill's activation level and move it between the
// active, historical and dormant states. Every threshold comes from
// policy.Policy; review flags raised here are advisory and never block a
// transition.
package gate

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/policy"
	"github.com/jingkaihe/skillgate/pkg/review"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// ErrCorruptEvidence marks a record whose fields contradict each other.
// Such a record is skipped for the cycle and left untouched.
var ErrCorruptEvidence = errors.New("corrupt skill evidence")

// Engine evaluates skill records against the policy
type Engine struct {
	policy policy.Policy
}

// NewEngine creates an engine using p
func NewEngine(p policy.Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the thresholds the engine applies
func (e *Engine) Policy() policy.Policy {
	return e.policy
}

// Decision is the outcome of evaluating one record
type Decision struct {
	// Record is the updated copy; the input record is never modified
	Record      *skilltypes.Record
	Transitions []skilltypes.Transition
	// Flags are the review flags newly added to Record
	Flags []skilltypes.ReviewFlag
}

// Changed reports whether the evaluation moved level or status or raised a flag
func (d Decision) Changed() bool {
	return len(d.Transitions) > 0 || len(d.Flags) > 0
}

// Check rejects records whose stored fields are inconsistent
func (e *Engine) Check(rec *skilltypes.Record, now time.Time) error {
	fail := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrCorruptEvidence, "skill %s: %s", rec.Name, fmt.Sprintf(format, args...))
	}

	t := rec.Temporal
	switch {
	case t.SessionCount < 0:
		return fail("negative session_count %d", t.SessionCount)
	case t.LastSeen.After(now):
		return fail("last_seen %s is in the future", t.LastSeen.Format(time.RFC3339))
	case !t.FirstSeen.IsZero() && !t.LastSeen.IsZero() && t.FirstSeen.After(t.LastSeen):
		return fail("first_seen is after last_seen")
	case rec.CurrentLevel < 0 || rec.CurrentLevel > policy.MaxLevel:
		return fail("current_level %d outside 0..%d", rec.CurrentLevel, policy.MaxLevel)
	case rec.HighWaterLevel < 0 || rec.HighWaterLevel > policy.MaxLevel:
		return fail("high_water_level %d outside 0..%d", rec.HighWaterLevel, policy.MaxLevel)
	case rec.CurrentLevel > rec.HighWaterLevel:
		return fail("current_level %d above high_water_level %d", rec.CurrentLevel, rec.HighWaterLevel)
	case !rec.Status.Valid():
		return fail("unknown status %q", rec.Status)
	case rec.StatusOverride != "" && !rec.StatusOverride.Valid():
		return fail("unknown status_override %q", rec.StatusOverride)
	case len(rec.Evidence) > t.SessionCount:
		return fail("%d evidence entries exceed session_count %d", len(rec.Evidence), t.SessionCount)
	case rec.Confidence.ConfidenceScore < 0 || rec.Confidence.ConfidenceScore > 100:
		return fail("confidence_score %d outside 0..100", rec.Confidence.ConfidenceScore)
	}
	return nil
}

// Evaluate applies restoration, decay, level-up, status transition and
// flagging, in that order, to a copy of rec. newSessions is the number of
// sessions counted for the skill in this cycle.
func (e *Engine) Evaluate(rec *skilltypes.Record, newSessions int, now time.Time, runID string) (Decision, error) {
	if err := e.Check(rec, now); err != nil {
		return Decision{}, err
	}

	r := rec.Clone()
	ev := &evaluation{
		engine: e,
		rec:    r,
		now:    now,
		runID:  runID,
		days:   policy.DaysSince(r.Temporal.LastSeen, now),
	}

	ev.restore(newSessions)
	ev.decay(newSessions)
	ev.levelUp(newSessions)
	ev.transition()
	ev.flagEvidence()

	r.HighWaterLevel = max(r.HighWaterLevel, r.CurrentLevel)
	r.History = append(r.History, ev.transitions...)

	return Decision{Record: r, Transitions: ev.transitions, Flags: ev.flags}, nil
}

// QualifyingLevel is the highest level the record's evidence supports
func (e *Engine) QualifyingLevel(rec *skilltypes.Record) int {
	count := rec.Temporal.SessionCount
	frequent := rec.Temporal.Frequency == skilltypes.FrequencyFrequent
	validated := rec.HasValidatedOutcome()

	level := 0
	for i, need := range e.policy.LevelSessions {
		tier := i + 1
		if count < need {
			break
		}
		if tier >= 3 && !frequent {
			break
		}
		if tier >= 4 && !validated {
			break
		}
		level = tier
	}
	return level
}

// WeakEvidence reports whether the record claims a level its session count does not support
func (e *Engine) WeakEvidence(rec *skilltypes.Record) bool {
	return rec.CurrentLevel >= e.policy.WeakEvidenceMinLevel &&
		rec.Temporal.SessionCount <= e.policy.WeakEvidenceMaxSessions
}

type evaluation struct {
	engine      *Engine
	rec         *skilltypes.Record
	now         time.Time
	runID       string
	days        int
	transitions []skilltypes.Transition
	flags       []skilltypes.ReviewFlag
}

func (ev *evaluation) record(kind skilltypes.TransitionKind, fromStatus skilltypes.Status, fromLevel int, reason string) {
	ev.transitions = append(ev.transitions, skilltypes.Transition{
		At:         ev.now.UTC(),
		Kind:       kind,
		FromStatus: fromStatus,
		ToStatus:   ev.rec.Status,
		FromLevel:  fromLevel,
		ToLevel:    ev.rec.CurrentLevel,
		Reason:     reason,
		RunID:      ev.runID,
	})
}

func (ev *evaluation) flag(trigger string, severity skilltypes.Severity, format string, args ...interface{}) {
	f := skilltypes.ReviewFlag{
		Trigger:  trigger,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
		Added:    ev.now.UTC(),
	}
	if review.NewManager(ev.rec).AddFlag(f) {
		ev.flags = append(ev.flags, f)
	}
}

// restore lifts a decayed record one tier per new session, up to the highest
// level it ever held. Reaching that level ends the decayed state.
func (ev *evaluation) restore(newSessions int) {
	r := ev.rec
	if !r.IsDecayed() || newSessions <= 0 {
		return
	}

	from := r.CurrentLevel
	r.CurrentLevel = min(r.HighWaterLevel, from+newSessions)
	if r.CurrentLevel >= r.HighWaterLevel {
		r.DecayApplied = time.Time{}
	}
	if r.CurrentLevel == from {
		return
	}

	ev.record(skilltypes.TransitionRestoration, r.Status, from,
		fmt.Sprintf("%d new session(s) after decay", newSessions))
	ev.flag(review.TriggerRestored, skilltypes.SeverityLow,
		"Level restored from %d to %d after renewed use", from, r.CurrentLevel)
}

// decay drops one tier when the skill has been idle past decay_after_days,
// at most once per decay_interval_days
func (ev *evaluation) decay(newSessions int) {
	r := ev.rec
	p := ev.engine.policy
	if newSessions > 0 || r.CurrentLevel == 0 {
		return
	}

	if ev.days < p.DecayAfterDays {
		if ev.days >= p.DecayWarnDays {
			ev.flag(review.TriggerDecayWarning, skilltypes.SeverityLow,
				"%d days since last use; level %d decays after %d days", ev.days, r.CurrentLevel, p.DecayAfterDays)
		}
		return
	}

	if r.IsDecayed() && policy.DaysSince(r.DecayApplied, ev.now) < p.DecayIntervalDays {
		return
	}

	from := r.CurrentLevel
	r.CurrentLevel--
	r.DecayApplied = ev.now.UTC()

	ev.record(skilltypes.TransitionDecay, r.Status, from, fmt.Sprintf("%d days since last use", ev.days))
	ev.flag(review.TriggerDecay, skilltypes.SeverityMedium,
		"Level decayed from %d to %d after %d idle days", from, r.CurrentLevel, ev.days)
}

// levelUp raises a non-decayed record to the highest tier its evidence supports
func (ev *evaluation) levelUp(newSessions int) {
	r := ev.rec
	if r.IsDecayed() || newSessions <= 0 {
		return
	}

	target := ev.engine.QualifyingLevel(r)
	if target <= r.CurrentLevel {
		return
	}

	from := r.CurrentLevel
	r.CurrentLevel = target
	reason := fmt.Sprintf("%d sessions, %s use", r.Temporal.SessionCount, r.Temporal.Frequency)
	ev.record(skilltypes.TransitionLevelUp, r.Status, from, reason)
	ev.flag(review.TriggerLevelUp, skilltypes.SeverityLow, "Level raised from %d to %d: %s", from, target, reason)
}

// transition applies at most one status change. A pending override always
// wins and is consumed.
func (ev *evaluation) transition() {
	r := ev.rec
	from := r.Status

	if override := r.StatusOverride; override != "" {
		r.StatusOverride = ""
		if override == from {
			return
		}
		r.Status = override
		if override == skilltypes.StatusActive {
			ev.record(skilltypes.TransitionPromotion, from, r.CurrentLevel, "manual override")
			ev.flag(review.TriggerPromoted, skilltypes.SeverityLow, "Promoted from %s by manual override", from)
		} else {
			ev.record(skilltypes.TransitionDemotion, from, r.CurrentLevel, "manual override")
			ev.flag(review.TriggerDemoted, skilltypes.SeverityMedium, "Moved from %s to %s by manual override", from, override)
		}
		return
	}

	switch from {
	case skilltypes.StatusHistorical, skilltypes.StatusDormant:
		reason, ok := ev.promotionReason()
		if !ok {
			return
		}
		r.Status = skilltypes.StatusActive
		ev.record(skilltypes.TransitionPromotion, from, r.CurrentLevel, reason)
		ev.flag(review.TriggerPromoted, skilltypes.SeverityLow, "Promoted from %s: %s", from, reason)

	case skilltypes.StatusActive:
		reason, ok := ev.demotionReason()
		if !ok {
			return
		}
		r.Status = skilltypes.StatusHistorical
		ev.record(skilltypes.TransitionDemotion, from, r.CurrentLevel, reason)
		ev.flag(review.TriggerDemoted, skilltypes.SeverityMedium, "Demoted to historical: %s", reason)
	}
}

// promotionReason returns the first promotion rule the record meets. With
// PromotionGuard set it never fires for a record a demotion rule would send
// back on the next cycle.
func (ev *evaluation) promotionReason() (string, bool) {
	r := ev.rec
	p := ev.engine.policy

	if p.PromotionGuard {
		if _, demote := ev.demotionReason(); demote {
			return "", false
		}
	}

	switch {
	case r.Temporal.SessionCount >= p.PromotionMinSessions:
		return fmt.Sprintf("%d sessions", r.Temporal.SessionCount), true
	case r.Temporal.RecentSessions >= p.PromotionRecentSessions:
		return fmt.Sprintf("%d sessions in the last %d days", r.Temporal.RecentSessions, p.FrequentWindowDays), true
	case r.CurrentLevel >= p.PromotionMinLevel && r.HasValidatedOutcome():
		return fmt.Sprintf("level %d with validated outcome", r.CurrentLevel), true
	}
	return "", false
}

func (ev *evaluation) demotionReason() (string, bool) {
	r := ev.rec
	p := ev.engine.policy

	switch {
	case ev.days >= p.DemotionIdleDays:
		if ev.days >= policy.NeverSeen {
			return "never seen", true
		}
		return fmt.Sprintf("%d days since last use", ev.days), true
	case r.IsDecayed() && r.CurrentLevel <= 1:
		return fmt.Sprintf("decayed to level %d", r.CurrentLevel), true
	case ev.engine.WeakEvidence(r):
		return fmt.Sprintf("level %d rests on %d session(s)", r.CurrentLevel, r.Temporal.SessionCount), true
	}
	return "", false
}

// flagEvidence raises the advisory flags that hold regardless of status
func (ev *evaluation) flagEvidence() {
	r := ev.rec
	p := ev.engine.policy

	if ev.engine.WeakEvidence(r) {
		ev.flag(review.TriggerWeakEvidence, skilltypes.SeverityHigh,
			"Level %d from %d session(s); verify or downgrade", r.CurrentLevel, r.Temporal.SessionCount)
	}
	if r.Temporal.Trend == skilltypes.TrendStale && r.Temporal.SessionCount > 0 {
		ev.flag(review.TriggerStaleSkill, skilltypes.SeverityMedium,
			"%d days since last use; review for removal", ev.days)
	}
	if r.CurrentLevel >= 3 && r.Temporal.Frequency != skilltypes.FrequencyFrequent {
		ev.flag(review.TriggerLevelMismatch, skilltypes.SeverityHigh,
			"Level %d but %s use; downgrade recommended", r.CurrentLevel, r.Temporal.Frequency)
	}
	if r.CurrentLevel >= p.WeakEvidenceMinLevel && r.Confidence.ConfidenceScore < p.LowConfidenceScore {
		ev.flag(review.TriggerLowConfidence, skilltypes.SeverityLow,
			"Confidence score %d; strengthen evidence", r.Confidence.ConfidenceScore)
	}
}
