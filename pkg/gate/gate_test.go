package gate

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/evidence"
	"github.com/jingkaihe/skillgate/pkg/policy"
	"github.com/jingkaihe/skillgate/pkg/review"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return now.AddDate(0, 0, -n)
}

// recordWith builds a consistent record with count sessions, the latest of
// which happened lastSeen days ago, one per day going back
func recordWith(count, lastSeen, level int, status skilltypes.Status) *skilltypes.Record {
	r := skilltypes.NewRecord("golang")
	r.CurrentLevel = level
	r.HighWaterLevel = level
	r.Status = status
	for i := count - 1; i >= 0; i-- {
		r.Evidence = append(r.Evidence, skilltypes.EvidenceRef{
			SessionID: fmt.Sprintf("s%d", i),
			Date:      daysAgo(lastSeen + i),
		})
	}
	r.Temporal.SessionCount = count
	if count > 0 {
		r.Temporal.LastSeen = daysAgo(lastSeen)
		r.Temporal.FirstSeen = daysAgo(lastSeen + count - 1)
	}
	evidence.NewAggregator(policy.Default()).Refresh(r, now)
	return r
}

func triggers(flags []skilltypes.ReviewFlag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.Trigger)
	}
	return out
}

func kinds(ts []skilltypes.Transition) []skilltypes.TransitionKind {
	out := make([]skilltypes.TransitionKind, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Kind)
	}
	return out
}

func TestCheck(t *testing.T) {
	engine := NewEngine(policy.Default())

	require.NoError(t, engine.Check(recordWith(5, 1, 2, skilltypes.StatusActive), now))

	tests := []struct {
		name   string
		mutate func(*skilltypes.Record)
	}{
		{"negative count", func(r *skilltypes.Record) { r.Temporal.SessionCount = -1; r.Evidence = nil }},
		{"future last seen", func(r *skilltypes.Record) { r.Temporal.LastSeen = now.Add(48 * time.Hour) }},
		{"first after last", func(r *skilltypes.Record) { r.Temporal.FirstSeen = now.Add(-time.Minute) }},
		{"level too high", func(r *skilltypes.Record) { r.CurrentLevel = 7 }},
		{"negative level", func(r *skilltypes.Record) { r.CurrentLevel = -1 }},
		{"high water too high", func(r *skilltypes.Record) { r.HighWaterLevel = 5 }},
		{"level above high water", func(r *skilltypes.Record) { r.HighWaterLevel = 1 }},
		{"unknown status", func(r *skilltypes.Record) { r.Status = "retired" }},
		{"unknown override", func(r *skilltypes.Record) { r.StatusOverride = "retired" }},
		{"timeline longer than count", func(r *skilltypes.Record) { r.Temporal.SessionCount = 2 }},
		{"confidence out of range", func(r *skilltypes.Record) { r.Confidence.ConfidenceScore = 140 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := recordWith(5, 1, 2, skilltypes.StatusActive)
			tt.mutate(r)

			err := engine.Check(r, now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptEvidence))

			_, err = engine.Evaluate(r, 0, now, "run")
			assert.True(t, errors.Is(err, ErrCorruptEvidence))
		})
	}
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	engine := NewEngine(policy.Default())
	r := recordWith(10, 91, 2, skilltypes.StatusActive)

	d, err := engine.Evaluate(r, 0, now, "run")
	require.NoError(t, err)

	assert.Equal(t, skilltypes.StatusActive, r.Status)
	assert.Equal(t, 2, r.CurrentLevel)
	assert.Empty(t, r.ReviewFlags)
	assert.NotSame(t, r, d.Record)
}

func TestPromotionAfterFiveSessions(t *testing.T) {
	engine := NewEngine(policy.Default())
	agg := evidence.NewAggregator(policy.Default())

	r := skilltypes.NewRecord("golang")
	var batch []evidence.Attributed
	for i := 0; i < 5; i++ {
		batch = append(batch, evidence.Attributed{SessionID: fmt.Sprintf("s%d", i), Date: daysAgo(i), Source: sessions.SourceInteractiveCache})
	}
	added := agg.Aggregate(r, batch, now)
	require.Equal(t, 5, added)

	d, err := engine.Evaluate(r, added, now, "run-1")
	require.NoError(t, err)

	got := d.Record
	assert.Equal(t, skilltypes.StatusActive, got.Status)
	assert.Equal(t, 5, got.Temporal.SessionCount)
	assert.Equal(t, 2, got.CurrentLevel)
	assert.Equal(t, 2, got.HighWaterLevel)
	assert.Equal(t, []skilltypes.TransitionKind{skilltypes.TransitionLevelUp, skilltypes.TransitionPromotion}, kinds(d.Transitions))
	assert.Equal(t, "run-1", d.Transitions[1].RunID)
	assert.Contains(t, triggers(d.Flags), review.TriggerPromoted)
	assert.Contains(t, triggers(d.Flags), review.TriggerLevelUp)
	assert.True(t, got.HasUnresolvedFlag(review.TriggerLevelUp))
	assert.Len(t, got.History, 2)
}

func TestLevelUpRaisesFlag(t *testing.T) {
	engine := NewEngine(policy.Default())
	agg := evidence.NewAggregator(policy.Default())

	r := recordWith(4, 2, 1, skilltypes.StatusActive)
	added := agg.Aggregate(r, []evidence.Attributed{{SessionID: "new-1", Date: now.Add(-time.Hour)}}, now)
	require.Equal(t, 1, added)

	d, err := engine.Evaluate(r, added, now, "run")
	require.NoError(t, err)

	require.Equal(t, []skilltypes.TransitionKind{skilltypes.TransitionLevelUp}, kinds(d.Transitions))
	require.Contains(t, triggers(d.Flags), review.TriggerLevelUp)
	for _, f := range d.Flags {
		if f.Trigger == review.TriggerLevelUp {
			assert.Equal(t, skilltypes.SeverityLow, f.Severity)
			assert.Equal(t, "Level raised from 1 to 2: 5 sessions, frequent use", f.Message)
			assert.Equal(t, now, f.Added)
		}
	}
}

func TestPromotionOfArchivedSessions(t *testing.T) {
	archived := func(p policy.Policy) Decision {
		agg := evidence.NewAggregator(p)
		r := skilltypes.NewRecord("golang")
		var batch []evidence.Attributed
		for i := 0; i < 5; i++ {
			batch = append(batch, evidence.Attributed{SessionID: fmt.Sprintf("s%d", i), Date: daysAgo(100 + i)})
		}
		added := agg.Aggregate(r, batch, now)
		require.Equal(t, 5, added)

		d, err := NewEngine(p).Evaluate(r, added, now, "run")
		require.NoError(t, err)
		return d
	}

	t.Run("first matching rule fires", func(t *testing.T) {
		d := archived(policy.Default())
		assert.Equal(t, skilltypes.StatusActive, d.Record.Status)
		assert.Equal(t, 2, d.Record.CurrentLevel)
		assert.Equal(t, []skilltypes.TransitionKind{skilltypes.TransitionLevelUp, skilltypes.TransitionPromotion}, kinds(d.Transitions))
		assert.Equal(t, "5 sessions", d.Transitions[1].Reason)
	})

	t.Run("promotion guard withholds it", func(t *testing.T) {
		p := policy.Default()
		p.PromotionGuard = true
		d := archived(p)
		assert.Equal(t, skilltypes.StatusHistorical, d.Record.Status)
		assert.Equal(t, []skilltypes.TransitionKind{skilltypes.TransitionLevelUp}, kinds(d.Transitions))
	})
}

func TestDemotionAfterInactivity(t *testing.T) {
	engine := NewEngine(policy.Default())
	r := recordWith(10, 91, 2, skilltypes.StatusActive)

	d, err := engine.Evaluate(r, 0, now, "run")
	require.NoError(t, err)

	assert.Equal(t, skilltypes.StatusHistorical, d.Record.Status)
	assert.Equal(t, 1, d.Record.CurrentLevel)
	assert.Equal(t, 2, d.Record.HighWaterLevel)
	assert.Equal(t, []skilltypes.TransitionKind{skilltypes.TransitionDecay, skilltypes.TransitionDemotion}, kinds(d.Transitions))
	assert.Contains(t, d.Transitions[1].Reason, "91 days")
	assert.ElementsMatch(t, []string{review.TriggerDecay, review.TriggerDemoted}, triggers(d.Flags))
}

func TestWeakEvidenceFlagged(t *testing.T) {
	engine := NewEngine(policy.Default())

	for _, status := range []skilltypes.Status{skilltypes.StatusHistorical, skilltypes.StatusDormant, skilltypes.StatusActive} {
		t.Run(string(status), func(t *testing.T) {
			r := recordWith(1, 0, 2, status)

			d, err := engine.Evaluate(r, 0, now, "run")
			require.NoError(t, err)

			assert.True(t, d.Record.HasUnresolvedFlag(review.TriggerWeakEvidence))
			for _, f := range d.Flags {
				if f.Trigger == review.TriggerWeakEvidence {
					assert.Equal(t, skilltypes.SeverityHigh, f.Severity)
				}
			}
			assert.NotEqual(t, skilltypes.StatusActive, d.Record.Status, "weak evidence never ends active")

			again, err := engine.Evaluate(d.Record, 0, now, "run-2")
			require.NoError(t, err)
			assert.NotContains(t, triggers(again.Flags), review.TriggerWeakEvidence, "flags are not duplicated")
		})
	}
}

func TestDecayIsRateLimited(t *testing.T) {
	engine := NewEngine(policy.Default())
	r := recordWith(20, 70, 3, skilltypes.StatusActive)

	d, err := engine.Evaluate(r, 0, now, "run")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Record.CurrentLevel)
	assert.Equal(t, skilltypes.StatusActive, d.Record.Status)
	assert.Equal(t, now, d.Record.DecayApplied)

	again, err := engine.Evaluate(d.Record, 0, now.Add(24*time.Hour), "run")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Record.CurrentLevel, "one tier per decay interval")
	assert.Empty(t, again.Transitions)
}

func TestDecayWarning(t *testing.T) {
	engine := NewEngine(policy.Default())
	r := recordWith(6, 40, 2, skilltypes.StatusActive)

	d, err := engine.Evaluate(r, 0, now, "run")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Record.CurrentLevel)
	assert.Empty(t, d.Transitions)
	assert.Equal(t, []string{review.TriggerDecayWarning}, triggers(d.Flags))
}

func TestDecayFloorsAtZero(t *testing.T) {
	engine := NewEngine(policy.Default())
	r := recordWith(3, 200, 0, skilltypes.StatusHistorical)

	d, err := engine.Evaluate(r, 0, now, "run")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Record.CurrentLevel)
	assert.False(t, d.Record.IsDecayed())
}

func TestRestoration(t *testing.T) {
	engine := NewEngine(policy.Default())
	agg := evidence.NewAggregator(policy.Default())

	r := recordWith(6, 70, 1, skilltypes.StatusHistorical)
	r.HighWaterLevel = 3
	r.DecayApplied = daysAgo(5)

	added := agg.Aggregate(r, []evidence.Attributed{
		{SessionID: "new-1", Date: now.Add(-2 * time.Hour)},
		{SessionID: "new-2", Date: now.Add(-time.Hour)},
	}, now)
	require.Equal(t, 2, added)

	d, err := engine.Evaluate(r, added, now, "run")
	require.NoError(t, err)

	assert.Equal(t, 3, d.Record.CurrentLevel)
	assert.False(t, d.Record.IsDecayed(), "reaching high water clears decay")
	require.NotEmpty(t, d.Transitions)
	assert.Equal(t, skilltypes.TransitionRestoration, d.Transitions[0].Kind)
	assert.Equal(t, 1, d.Transitions[0].FromLevel)
	assert.Equal(t, 3, d.Transitions[0].ToLevel)
	assert.Contains(t, triggers(d.Flags), review.TriggerRestored)
}

func TestPartialRestoration(t *testing.T) {
	engine := NewEngine(policy.Default())
	agg := evidence.NewAggregator(policy.Default())

	r := recordWith(6, 70, 1, skilltypes.StatusHistorical)
	r.HighWaterLevel = 4
	r.DecayApplied = daysAgo(5)
	added := agg.Aggregate(r, []evidence.Attributed{{SessionID: "new-1", Date: now}}, now)

	d, err := engine.Evaluate(r, added, now, "run")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Record.CurrentLevel)
	assert.True(t, d.Record.IsDecayed(), "still below high water")
	assert.Equal(t, 4, d.Record.HighWaterLevel)
}

func TestOverride(t *testing.T) {
	engine := NewEngine(policy.Default())

	r := recordWith(10, 1, 2, skilltypes.StatusActive)
	r.StatusOverride = skilltypes.StatusDormant
	d, err := engine.Evaluate(r, 0, now, "run")
	require.NoError(t, err)
	assert.Equal(t, skilltypes.StatusDormant, d.Record.Status)
	assert.Empty(t, d.Record.StatusOverride, "override is consumed")
	assert.Equal(t, "manual override", d.Transitions[0].Reason)

	stale := recordWith(2, 300, 1, skilltypes.StatusHistorical)
	stale.StatusOverride = skilltypes.StatusActive
	d, err = engine.Evaluate(stale, 0, now, "run")
	require.NoError(t, err)
	assert.Equal(t, skilltypes.StatusActive, d.Record.Status, "override fires even when stale")
}

func TestQualifyingLevel(t *testing.T) {
	engine := NewEngine(policy.Default())

	tests := []struct {
		name      string
		count     int
		frequent  bool
		validated bool
		want      int
	}{
		{"none", 0, false, false, 0},
		{"first session", 1, false, false, 1},
		{"five sessions", 5, false, false, 2},
		{"fifteen rare", 15, false, false, 2},
		{"fifteen frequent", 15, true, false, 3},
		{"thirty frequent", 30, true, false, 3},
		{"thirty frequent validated", 30, true, true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := skilltypes.NewRecord("x")
			r.Temporal.SessionCount = tt.count
			if tt.frequent {
				r.Temporal.Frequency = skilltypes.FrequencyFrequent
			}
			if tt.validated {
				r.OutcomeValidation = skilltypes.OutcomeValidated
			}
			assert.Equal(t, tt.want, engine.QualifyingLevel(r))
		})
	}
}

// idleFor evaluates an active, well-evidenced record once a day without new
// sessions and counts the status transitions
func idleFor(t *testing.T, p policy.Policy, days int) (*skilltypes.Record, int, int) {
	t.Helper()
	engine := NewEngine(p)
	agg := evidence.NewAggregator(p)

	r := recordWith(20, 0, 3, skilltypes.StatusActive)
	promotions, demotions := 0, 0

	for day := 1; day <= days; day++ {
		at := now.AddDate(0, 0, day)
		agg.Refresh(r, at)

		d, err := engine.Evaluate(r, 0, at, "run")
		require.NoError(t, err)
		for _, tr := range d.Transitions {
			switch tr.Kind {
			case skilltypes.TransitionPromotion:
				promotions++
			case skilltypes.TransitionDemotion:
				demotions++
			}
		}
		r = d.Record
	}
	return r, promotions, demotions
}

func TestIdleRecordWithPromotionGuard(t *testing.T) {
	p := policy.Default()
	p.PromotionGuard = true

	r, promotions, demotions := idleFor(t, p, 400)
	assert.Equal(t, 0, promotions)
	assert.Equal(t, 1, demotions)
	assert.Equal(t, 0, r.CurrentLevel)
	assert.Equal(t, 3, r.HighWaterLevel)
	assert.Equal(t, skilltypes.StatusHistorical, r.Status)
}

func TestIdleRecordWithoutPromotionGuard(t *testing.T) {
	r, promotions, demotions := idleFor(t, policy.Default(), 95)

	// the session count keeps meeting the promotion rule while idleness keeps
	// meeting the demotion rule
	assert.Greater(t, promotions, 0)
	assert.Greater(t, demotions, 1)
	assert.Equal(t, 3, r.HighWaterLevel)
}
