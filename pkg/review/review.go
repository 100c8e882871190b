// Package review manages the lifecycle of review flags on a skill record.
// Flags are advisory: they never block a gate transition.
package review

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

var (
	// ErrFlagNotFound is returned when no flag carries the trigger
	ErrFlagNotFound = errors.New("review flag not found")
	// ErrAlreadyResolved is returned when every flag with the trigger is resolved
	ErrAlreadyResolved = errors.New("review flag already resolved")
)

// Flag triggers raised by the gate engine and the cycle
const (
	TriggerPromoted      = "promoted"
	TriggerDemoted       = "demoted"
	TriggerWeakEvidence  = "weak_evidence"
	TriggerStaleSkill    = "stale_skill"
	TriggerLevelMismatch = "level_frequency_mismatch"
	TriggerLowConfidence = "low_confidence"
	TriggerDecay         = "skill_decay"
	TriggerDecayWarning  = "skill_decay_warning"
	TriggerRestored      = "skill_restored"
	TriggerLevelUp       = "level_up"
	TriggerOverride      = "status_override"
)

// Manager adds and resolves flags on one record
type Manager struct {
	rec *skilltypes.Record
}

// NewManager returns a manager operating on rec in place
func NewManager(rec *skilltypes.Record) *Manager {
	return &Manager{rec: rec}
}

// AddFlag appends flag unless an unresolved flag with the same trigger
// exists. It reports whether the flag was added.
func (m *Manager) AddFlag(flag skilltypes.ReviewFlag) bool {
	if m.rec.HasUnresolvedFlag(flag.Trigger) {
		return false
	}
	flag.Resolved = nil
	flag.Resolution = ""
	flag.ResolvedBy = ""
	m.rec.ReviewFlags = append(m.rec.ReviewFlags, flag)
	return true
}

// ResolveFlag closes the unresolved flag with trigger. Resolved flags are
// never modified.
func (m *Manager) ResolveFlag(trigger, resolution, resolvedBy string, now time.Time) error {
	found := false
	for i := range m.rec.ReviewFlags {
		f := &m.rec.ReviewFlags[i]
		if f.Trigger != trigger {
			continue
		}
		found = true
		if f.IsResolved() {
			continue
		}
		resolved := now.UTC()
		f.Resolved = &resolved
		f.Resolution = resolution
		f.ResolvedBy = resolvedBy
		return nil
	}

	if found {
		return errors.Wrapf(ErrAlreadyResolved, "%s on skill %s", trigger, m.rec.Name)
	}
	return errors.Wrapf(ErrFlagNotFound, "%s on skill %s", trigger, m.rec.Name)
}

// ListUnresolved returns open flags, highest severity first, then oldest first
func (m *Manager) ListUnresolved() []skilltypes.ReviewFlag {
	flags := m.rec.UnresolvedFlags()
	sort.SliceStable(flags, func(i, j int) bool {
		si, sj := severityRank(flags[i].Severity), severityRank(flags[j].Severity)
		if si != sj {
			return si > sj
		}
		return flags[i].Added.Before(flags[j].Added)
	})
	return flags
}

// Overdue returns open flags added at least days before now
func (m *Manager) Overdue(now time.Time, days int) []skilltypes.ReviewFlag {
	cutoff := now.AddDate(0, 0, -days)
	var overdue []skilltypes.ReviewFlag
	for _, f := range m.rec.UnresolvedFlags() {
		if !f.Added.After(cutoff) {
			overdue = append(overdue, f)
		}
	}
	return overdue
}

func severityRank(s skilltypes.Severity) int {
	switch s {
	case skilltypes.SeverityHigh:
		return 3
	case skilltypes.SeverityMedium:
		return 2
	case skilltypes.SeverityLow:
		return 1
	default:
		return 0
	}
}
