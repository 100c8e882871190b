// Package evidence folds newly attributed sessions into a skill record and
// recomputes the derived temporal and confidence metadata.
package evidence

import (
	"sort"
	"time"

	"github.com/jingkaihe/skillgate/pkg/policy"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// Attributed is one session attributed to a skill in the current cycle
type Attributed struct {
	SessionID string
	Date      time.Time
	Source    sessions.Source
	// Outcome is the matched outcome text, empty when none was detected
	Outcome string
}

// Aggregator applies attributed sessions to skill records
type Aggregator struct {
	policy policy.Policy
}

// NewAggregator creates an aggregator using p
func NewAggregator(p policy.Policy) *Aggregator {
	return &Aggregator{policy: p}
}

// Aggregate adds the sessions that rec has not counted yet and refreshes the
// derived metadata. It returns the number of sessions newly counted. A
// session already present in the record's evidence is never counted twice.
func (a *Aggregator) Aggregate(rec *skilltypes.Record, attributed []Attributed, now time.Time) int {
	added := 0
	for _, s := range attributed {
		if s.SessionID == "" || rec.HasEvidence(s.SessionID) {
			continue
		}

		rec.Evidence = append(rec.Evidence, skilltypes.EvidenceRef{
			SessionID: s.SessionID,
			Date:      s.Date.UTC(),
			Source:    string(s.Source),
		})
		rec.Temporal.SessionCount++
		added++

		if rec.Temporal.FirstSeen.IsZero() || s.Date.Before(rec.Temporal.FirstSeen) {
			rec.Temporal.FirstSeen = s.Date.UTC()
		}
		if s.Date.After(rec.Temporal.LastSeen) {
			rec.Temporal.LastSeen = s.Date.UTC()
		}

		if s.Outcome != "" {
			rec.OutcomeEvidence = append(rec.OutcomeEvidence, skilltypes.OutcomeEvidence{
				SessionID: s.SessionID,
				Date:      s.Date.UTC(),
				Note:      s.Outcome,
			})
		}
	}

	sort.SliceStable(rec.Evidence, func(i, j int) bool {
		return rec.Evidence[i].Date.Before(rec.Evidence[j].Date)
	})

	a.Refresh(rec, now)
	return added
}

// Refresh recomputes frequency, trend, validation and confidence from the
// record's counters and evidence timeline
func (a *Aggregator) Refresh(rec *skilltypes.Record, now time.Time) {
	count := rec.Temporal.SessionCount
	days := policy.DaysSince(rec.Temporal.LastSeen, now)
	validated := rec.HasValidatedOutcome()

	rec.Temporal.RecentSessions = a.RecentSessions(rec, now)
	rec.Temporal.Frequency = a.Frequency(rec.Temporal.RecentSessions)
	rec.Temporal.Trend = a.Trend(count, days)
	rec.Temporal.Validation = Validation(count, validated, a.policy.FrequentMinSessions)

	score := a.Confidence(count, days, validated)
	rec.Confidence = skilltypes.ConfidenceMetadata{
		ConfidenceScore: score,
		EvidenceQuality: Quality(score),
	}
}

// RecentSessions counts evidence inside the frequency window ending at now
func (a *Aggregator) RecentSessions(rec *skilltypes.Record, now time.Time) int {
	cutoff := now.AddDate(0, 0, -a.policy.FrequentWindowDays)
	n := 0
	for _, e := range rec.Evidence {
		if !e.Date.Before(cutoff) && !e.Date.After(now) {
			n++
		}
	}
	return n
}

// Frequency buckets the number of sessions in the recent window
func (a *Aggregator) Frequency(recent int) skilltypes.Frequency {
	switch {
	case recent >= a.policy.FrequentMinSessions:
		return skilltypes.FrequencyFrequent
	case recent >= 1:
		return skilltypes.FrequencyOccasional
	default:
		return skilltypes.FrequencyRare
	}
}

// Trend classifies recency for reporting; it never drives status
func (a *Aggregator) Trend(count, days int) skilltypes.Trend {
	switch {
	case days <= 30 && count < 3:
		return skilltypes.TrendLearning
	case days <= 60 && count >= 3:
		return skilltypes.TrendGrowing
	case days <= 90:
		return skilltypes.TrendStable
	case days <= a.policy.StaleDays:
		return skilltypes.TrendDeclining
	default:
		return skilltypes.TrendStale
	}
}

// Confidence scores a skill from 0 to 100. The score never increases as
// days grows and never decreases as count grows.
func (a *Aggregator) Confidence(count, days int, validated bool) int {
	score := 50

	score += min(2*count, 20)

	switch {
	case days < 30:
		score += 10
	case days < 90:
		score += 5
	}

	if validated {
		score += 15
	}
	if count <= 1 {
		score -= 15
	}
	if days >= a.policy.StaleDays {
		score -= 10
	}

	return max(0, min(100, score))
}

// Quality labels a confidence score
func Quality(score int) string {
	switch {
	case score >= 90:
		return "exceptional"
	case score >= 70:
		return "strong"
	case score >= 50:
		return "moderate"
	default:
		return "weak"
	}
}

// Validation describes how well the evidence holds up
func Validation(count int, validated bool, consistentAt int) skilltypes.Validation {
	switch {
	case validated:
		return skilltypes.ValidationVerified
	case count >= consistentAt:
		return skilltypes.ValidationConsistent
	default:
		return skilltypes.ValidationUncertain
	}
}
