package envelope

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

func validEnvelope() *Envelope {
	return &Envelope{
		SchemaVersion: "1.2.0",
		SessionID:     "abc123",
		StartTime:     "2025-01-01T00:00:00Z",
		Source:        "claude-code-cache",
		SourcePath:    "/tmp/session.jsonl",
		ProjectPath:   "/work/project",
		Interactions: []Interaction{
			{ID: "1", Type: "user_prompt", Timestamp: "2025-01-01T00:00:01Z", Content: "write a go test"},
			{ID: "2", Type: "assistant_response", Timestamp: "2025-01-01T00:00:05Z", Content: "done"},
		},
	}
}

func TestValidate(t *testing.T) {
	v := NewValidator("")
	assert.Equal(t, CurrentVersion, v.ExpectedVersion())

	tests := []struct {
		name         string
		mutate       func(*Envelope)
		valid        bool
		wantWarning  string
		wantRejected string
	}{
		{name: "valid envelope", mutate: func(*Envelope) {}, valid: true},
		{
			name:         "missing session id",
			mutate:       func(e *Envelope) { e.SessionID = "" },
			wantRejected: "missing required field: session_id",
		},
		{
			name:         "malformed session id",
			mutate:       func(e *Envelope) { e.SessionID = "has spaces/and slashes" },
			wantRejected: "malformed session_id",
		},
		{
			name:         "empty interactions",
			mutate:       func(e *Envelope) { e.Interactions = nil },
			wantRejected: "cannot be empty",
		},
		{
			name:         "unrecognized role",
			mutate:       func(e *Envelope) { e.Interactions[1].Type = "tool_call" },
			wantRejected: "unrecognized type",
		},
		{
			name:         "major version mismatch",
			mutate:       func(e *Envelope) { e.SchemaVersion = "2.0.0" },
			wantRejected: "incompatible",
		},
		{
			name:        "newer minor version",
			mutate:      func(e *Envelope) { e.SchemaVersion = "1.3.0" },
			valid:       true,
			wantWarning: "compatibility mode",
		},
		{
			name:   "older minor version",
			mutate: func(e *Envelope) { e.SchemaVersion = "1.0.0" },
			valid:  true,
		},
		{
			name:        "missing schema version",
			mutate:      func(e *Envelope) { e.SchemaVersion = "" },
			valid:       true,
			wantWarning: "missing schema_version",
		},
		{
			name:        "missing provenance",
			mutate:      func(e *Envelope) { e.SourcePath = "" },
			valid:       true,
			wantWarning: "missing provenance field: source_path",
		},
		{
			name:        "no user prompt",
			mutate:      func(e *Envelope) { e.Interactions = e.Interactions[1:] },
			valid:       true,
			wantWarning: "no user_prompt",
		},
		{
			name:        "start time falls back to interactions",
			mutate:      func(e *Envelope) { e.StartTime = "" },
			valid:       true,
			wantWarning: "using earliest interaction timestamp",
		},
		{
			name: "no usable timestamp",
			mutate: func(e *Envelope) {
				e.StartTime = ""
				for i := range e.Interactions {
					e.Interactions[i].Timestamp = ""
				}
			},
			wantRejected: "no usable start_time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(env)

			valid, warnings := v.Validate(env)
			assert.Equal(t, tt.valid, valid)

			if tt.wantRejected != "" {
				require.Len(t, warnings, 1)
				assert.Contains(t, warnings[0], tt.wantRejected)
			}
			if tt.wantWarning != "" {
				joined, _ := json.Marshal(warnings)
				assert.Contains(t, string(joined), tt.wantWarning)
			}
			if tt.valid && tt.wantWarning == "" {
				assert.Empty(t, warnings)
			}
		})
	}
}

func TestToRecord(t *testing.T) {
	v := NewValidator(CurrentVersion)

	record, warnings, err := v.ToRecord(validEnvelope(), sessions.SourceStructuredEnvelope)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "abc123", record.SessionID)
	assert.Equal(t, sessions.SourceStructuredEnvelope, record.Source)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), record.StartTime)
	require.Len(t, record.Interactions, 2)
	assert.Equal(t, sessions.RoleUserPrompt, record.Interactions[0].Role)
	assert.Equal(t, []string{"write a go test"}, record.UserPrompts())

	bad := validEnvelope()
	bad.Interactions = nil
	_, _, err = v.ToRecord(bad, sessions.SourceStructuredEnvelope)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidEnvelope))
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2025-01-01T10:00:00Z",
		"2025-01-01T10:00:00.123456Z",
		"2025-01-01T12:00:00+02:00",
		"2025-01-01T10:00:00",
		"2025-01-01 10:00:00",
	} {
		ts, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.Equal(t, 10, ts.Hour(), s)
		assert.Equal(t, time.UTC, ts.Location(), s)
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestSchema(t *testing.T) {
	schema := Schema()
	data, err := json.Marshal(schema)
	require.NoError(t, err)

	assert.Contains(t, string(data), "session_id")
	assert.Contains(t, string(data), "user_prompt")
	assert.Contains(t, string(data), "interactions")
}
