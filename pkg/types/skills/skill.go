// Package skills defines the persisted skill record and its review flags.
package skills

import (
	"sort"
	"time"
)

// Status is the activation state of a skill
type Status string

const (
	StatusActive     Status = "active"
	StatusHistorical Status = "historical"
	StatusDormant    Status = "dormant"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusHistorical, StatusDormant:
		return true
	}
	return false
}

// Frequency buckets recent usage
type Frequency string

const (
	FrequencyFrequent   Frequency = "frequent"
	FrequencyOccasional Frequency = "occasional"
	FrequencyRare       Frequency = "rare"
)

// Validation describes how well the evidence for a skill holds up
type Validation string

const (
	ValidationConsistent Validation = "consistent"
	ValidationVerified   Validation = "verified"
	ValidationUncertain  Validation = "uncertain"
)

// Trend is a reporting classification of recency, independent of status
type Trend string

const (
	TrendLearning  Trend = "learning"
	TrendGrowing   Trend = "growing"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendStale     Trend = "stale"
)

// Severity of a review flag
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// OutcomeValidated is the manual marker for skills whose outcomes were checked by a human
const OutcomeValidated = "validated"

// TemporalMetadata tracks when and how often a skill was demonstrated
type TemporalMetadata struct {
	SessionCount   int        `yaml:"session_count" json:"session_count"`
	FirstSeen      time.Time  `yaml:"first_seen,omitempty" json:"first_seen,omitempty"`
	LastSeen       time.Time  `yaml:"last_seen,omitempty" json:"last_seen,omitempty"`
	Frequency      Frequency  `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Validation     Validation `yaml:"validation,omitempty" json:"validation,omitempty"`
	Trend          Trend      `yaml:"trend,omitempty" json:"trend,omitempty"`
	RecentSessions int        `yaml:"recent_sessions" json:"recent_sessions"`
}

// ConfidenceMetadata is the derived confidence score of a skill
type ConfidenceMetadata struct {
	ConfidenceScore int    `yaml:"confidence_score" json:"confidence_score"`
	EvidenceQuality string `yaml:"evidence_quality,omitempty" json:"evidence_quality,omitempty"`
}

// EvidenceRef is one session counted towards a skill
type EvidenceRef struct {
	SessionID string    `yaml:"session_id" json:"session_id"`
	Date      time.Time `yaml:"date" json:"date"`
	Source    string    `yaml:"source,omitempty" json:"source,omitempty"`
}

// OutcomeEvidence is a session in which the skill produced a verifiable outcome
type OutcomeEvidence struct {
	SessionID string    `yaml:"session_id" json:"session_id"`
	Date      time.Time `yaml:"date" json:"date"`
	Note      string    `yaml:"note,omitempty" json:"note,omitempty"`
}

// ReviewFlag is a human-reviewable annotation on a skill
type ReviewFlag struct {
	Trigger    string     `yaml:"trigger" json:"trigger"`
	Severity   Severity   `yaml:"severity" json:"severity"`
	Message    string     `yaml:"message" json:"message"`
	Added      time.Time  `yaml:"added" json:"added"`
	Resolved   *time.Time `yaml:"resolved,omitempty" json:"resolved,omitempty"`
	Resolution string     `yaml:"resolution,omitempty" json:"resolution,omitempty"`
	ResolvedBy string     `yaml:"resolved_by,omitempty" json:"resolved_by,omitempty"`
}

// IsResolved reports whether the flag has been closed
func (f ReviewFlag) IsResolved() bool {
	return f.Resolved != nil
}

// TransitionKind names the rule family that changed a record
type TransitionKind string

const (
	TransitionPromotion   TransitionKind = "promotion"
	TransitionDemotion    TransitionKind = "demotion"
	TransitionDecay       TransitionKind = "decay"
	TransitionRestoration TransitionKind = "restoration"
	TransitionLevelUp     TransitionKind = "level_up"
)

// Transition records one automatic change of level or status
type Transition struct {
	At         time.Time      `yaml:"at" json:"at"`
	Kind       TransitionKind `yaml:"kind" json:"kind"`
	FromStatus Status         `yaml:"from_status" json:"from_status"`
	ToStatus   Status         `yaml:"to_status" json:"to_status"`
	FromLevel  int            `yaml:"from_level" json:"from_level"`
	ToLevel    int            `yaml:"to_level" json:"to_level"`
	Reason     string         `yaml:"reason" json:"reason"`
	RunID      string         `yaml:"run_id,omitempty" json:"run_id,omitempty"`
}

// Record is a durable skill entry
type Record struct {
	Name              string             `yaml:"name" json:"name"`
	CurrentLevel      int                `yaml:"current_level" json:"current_level"`
	HighWaterLevel    int                `yaml:"high_water_level" json:"high_water_level"`
	Status            Status             `yaml:"status" json:"status"`
	StatusOverride    Status             `yaml:"status_override,omitempty" json:"status_override,omitempty"`
	DecayApplied      time.Time          `yaml:"decay_applied,omitempty" json:"decay_applied,omitempty"`
	Temporal          TemporalMetadata   `yaml:"temporal_metadata" json:"temporal_metadata"`
	Confidence        ConfidenceMetadata `yaml:"confidence_metadata" json:"confidence_metadata"`
	OutcomeValidation string             `yaml:"outcome_validation,omitempty" json:"outcome_validation,omitempty"`
	OutcomeEvidence   []OutcomeEvidence  `yaml:"outcome_evidence,omitempty" json:"outcome_evidence,omitempty"`
	Evidence          []EvidenceRef      `yaml:"evidence,omitempty" json:"evidence,omitempty"`
	History           []Transition       `yaml:"history,omitempty" json:"history,omitempty"`
	ReviewFlags       []ReviewFlag       `yaml:"review_flags,omitempty" json:"review_flags,omitempty"`
}

// NewRecord creates the record for a skill seen for the first time
func NewRecord(name string) *Record {
	return &Record{
		Name:   name,
		Status: StatusHistorical,
	}
}

// IsDecayed reports whether the record carries a decay marker
func (r *Record) IsDecayed() bool {
	return !r.DecayApplied.IsZero()
}

// HasValidatedOutcome reports whether the record has validated outcome evidence
func (r *Record) HasValidatedOutcome() bool {
	return r.OutcomeValidation == OutcomeValidated || len(r.OutcomeEvidence) > 0
}

// HasEvidence reports whether sessionID is already counted for the skill
func (r *Record) HasEvidence(sessionID string) bool {
	for _, e := range r.Evidence {
		if e.SessionID == sessionID {
			return true
		}
	}
	return false
}

// UnresolvedFlags returns the open review flags
func (r *Record) UnresolvedFlags() []ReviewFlag {
	var flags []ReviewFlag
	for _, f := range r.ReviewFlags {
		if !f.IsResolved() {
			flags = append(flags, f)
		}
	}
	return flags
}

// HasUnresolvedFlag reports whether an open flag with the trigger exists
func (r *Record) HasUnresolvedFlag(trigger string) bool {
	for _, f := range r.ReviewFlags {
		if f.Trigger == trigger && !f.IsResolved() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := *r
	c.OutcomeEvidence = append([]OutcomeEvidence(nil), r.OutcomeEvidence...)
	c.Evidence = append([]EvidenceRef(nil), r.Evidence...)
	c.History = append([]Transition(nil), r.History...)
	c.ReviewFlags = make([]ReviewFlag, len(r.ReviewFlags))
	for i, f := range r.ReviewFlags {
		if f.Resolved != nil {
			resolved := *f.Resolved
			f.Resolved = &resolved
		}
		c.ReviewFlags[i] = f
	}
	if r.ReviewFlags == nil {
		c.ReviewFlags = nil
	}
	return &c
}

// Set is the keyed skill store content
type Set map[string]*Record

// Names returns the skill names in sorted order
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone deep copies every record
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for name, r := range s {
		c[name] = r.Clone()
	}
	return c
}
