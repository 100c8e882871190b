// Package policy holds the thresholds that drive evidence aggregation, the
// temporal gate and the post-cycle audit. Every value is loaded from the
// `policy` configuration section over the defaults below.
package policy

import (
	"time"

	"github.com/pkg/errors"
)

// MaxLevel is the highest activation level a skill can reach
const MaxLevel = 4

// NeverSeen is the day count used for a skill with no recorded activity
const NeverSeen = 1 << 30

// Policy is the full set of gate, aggregation and audit thresholds
type Policy struct {
	// Aggregation
	FrequentWindowDays  int `mapstructure:"frequent_window_days" yaml:"frequent_window_days" json:"frequent_window_days"`
	FrequentMinSessions int `mapstructure:"frequent_min_sessions" yaml:"frequent_min_sessions" json:"frequent_min_sessions"`
	StaleDays           int `mapstructure:"stale_days" yaml:"stale_days" json:"stale_days"`

	// Levels: LevelSessions[i] is the session count required for level i+1
	LevelSessions []int `mapstructure:"level_sessions" yaml:"level_sessions" json:"level_sessions"`

	// Promotion
	PromotionMinSessions    int `mapstructure:"promotion_min_sessions" yaml:"promotion_min_sessions" json:"promotion_min_sessions"`
	PromotionRecentSessions int `mapstructure:"promotion_recent_sessions" yaml:"promotion_recent_sessions" json:"promotion_recent_sessions"`
	PromotionMinLevel       int `mapstructure:"promotion_min_level" yaml:"promotion_min_level" json:"promotion_min_level"`

	// PromotionGuard withholds a promotion that a demotion rule would undo on the next cycle
	PromotionGuard bool `mapstructure:"promotion_guard" yaml:"promotion_guard" json:"promotion_guard"`

	// Demotion
	DemotionIdleDays int `mapstructure:"demotion_idle_days" yaml:"demotion_idle_days" json:"demotion_idle_days"`

	// Weak evidence
	WeakEvidenceMaxSessions int `mapstructure:"weak_evidence_max_sessions" yaml:"weak_evidence_max_sessions" json:"weak_evidence_max_sessions"`
	WeakEvidenceMinLevel    int `mapstructure:"weak_evidence_min_level" yaml:"weak_evidence_min_level" json:"weak_evidence_min_level"`
	LowConfidenceScore      int `mapstructure:"low_confidence_score" yaml:"low_confidence_score" json:"low_confidence_score"`

	// Decay
	DecayWarnDays     int `mapstructure:"decay_warn_days" yaml:"decay_warn_days" json:"decay_warn_days"`
	DecayAfterDays    int `mapstructure:"decay_after_days" yaml:"decay_after_days" json:"decay_after_days"`
	DecayIntervalDays int `mapstructure:"decay_interval_days" yaml:"decay_interval_days" json:"decay_interval_days"`

	// Deduplication: sessions without an explicit id match a processed session
	// of the same project that started this close; 0 disables the fallback
	DuplicateWindowMinutes int `mapstructure:"duplicate_window_minutes" yaml:"duplicate_window_minutes" json:"duplicate_window_minutes"`

	// Audit
	FlagOverdueDays      int     `mapstructure:"flag_overdue_days" yaml:"flag_overdue_days" json:"flag_overdue_days"`
	CorruptCriticalRatio float64 `mapstructure:"corrupt_critical_ratio" yaml:"corrupt_critical_ratio" json:"corrupt_critical_ratio"`
}

// Default returns the built-in thresholds
func Default() Policy {
	return Policy{
		FrequentWindowDays:  30,
		FrequentMinSessions: 3,
		StaleDays:           180,

		LevelSessions: []int{1, 5, 15, 30},

		PromotionMinSessions:    5,
		PromotionRecentSessions: 3,
		PromotionMinLevel:       2,

		DemotionIdleDays: 90,

		WeakEvidenceMaxSessions: 2,
		WeakEvidenceMinLevel:    2,
		LowConfidenceScore:      50,

		DecayWarnDays:     30,
		DecayAfterDays:    60,
		DecayIntervalDays: 30,

		DuplicateWindowMinutes: 5,

		FlagOverdueDays:      60,
		CorruptCriticalRatio: 0.25,
	}
}

// Validate checks that the thresholds are usable together
func (p Policy) Validate() error {
	if len(p.LevelSessions) != MaxLevel {
		return errors.Errorf("policy.level_sessions must list %d thresholds, got %d", MaxLevel, len(p.LevelSessions))
	}
	for i := 1; i < len(p.LevelSessions); i++ {
		if p.LevelSessions[i] < p.LevelSessions[i-1] {
			return errors.New("policy.level_sessions must be non-decreasing")
		}
	}
	if p.LevelSessions[0] < 1 {
		return errors.New("policy.level_sessions must start at 1 or more")
	}

	positive := map[string]int{
		"frequent_window_days":  p.FrequentWindowDays,
		"frequent_min_sessions": p.FrequentMinSessions,
		"stale_days":            p.StaleDays,
		"demotion_idle_days":    p.DemotionIdleDays,
		"decay_after_days":      p.DecayAfterDays,
		"decay_interval_days":   p.DecayIntervalDays,
		"flag_overdue_days":     p.FlagOverdueDays,
	}
	for name, v := range positive {
		if v <= 0 {
			return errors.Errorf("policy.%s must be positive, got %d", name, v)
		}
	}

	if p.DuplicateWindowMinutes < 0 {
		return errors.Errorf("policy.duplicate_window_minutes must not be negative, got %d", p.DuplicateWindowMinutes)
	}
	if p.DecayWarnDays > p.DecayAfterDays {
		return errors.New("policy.decay_warn_days must not exceed decay_after_days")
	}
	if p.CorruptCriticalRatio <= 0 || p.CorruptCriticalRatio > 1 {
		return errors.Errorf("policy.corrupt_critical_ratio must be in (0, 1], got %v", p.CorruptCriticalRatio)
	}
	return nil
}

// DaysSince returns whole days from t to now. A zero t is NeverSeen and a t
// after now is 0.
func DaysSince(t, now time.Time) int {
	if t.IsZero() {
		return NeverSeen
	}
	d := now.Sub(t)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
