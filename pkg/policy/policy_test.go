package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	assert.NoError(t, p.Validate())
	assert.False(t, p.PromotionGuard)
	assert.Equal(t, 5, p.DuplicateWindowMinutes)

	p.DuplicateWindowMinutes = 0
	assert.NoError(t, p.Validate(), "a zero window disables proximity matching")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"too few levels", func(p *Policy) { p.LevelSessions = []int{1, 5} }},
		{"decreasing levels", func(p *Policy) { p.LevelSessions = []int{1, 10, 5, 30} }},
		{"zero first level", func(p *Policy) { p.LevelSessions = []int{0, 5, 15, 30} }},
		{"zero window", func(p *Policy) { p.FrequentWindowDays = 0 }},
		{"warn after decay", func(p *Policy) { p.DecayWarnDays = 90 }},
		{"bad ratio", func(p *Policy) { p.CorruptCriticalRatio = 1.5 }},
		{"negative duplicate window", func(p *Policy) { p.DuplicateWindowMinutes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, NeverSeen, DaysSince(time.Time{}, now))
	assert.Equal(t, 0, DaysSince(now.Add(time.Hour), now))
	assert.Equal(t, 0, DaysSince(now.Add(-23*time.Hour), now))
	assert.Equal(t, 1, DaysSince(now.Add(-25*time.Hour), now))
	assert.Equal(t, 91, DaysSince(now.AddDate(0, 0, -91), now))
}
