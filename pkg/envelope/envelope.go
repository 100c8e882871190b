// Package envelope defines the versioned session envelope contract and the
// validator that gates which sessions may contribute evidence.
package envelope

import (
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// CurrentVersion is the envelope contract version written and expected by default
const CurrentVersion = "1.2.0"

// Interaction is one turn in the envelope wire shape
type Interaction struct {
	ID        string `json:"id" jsonschema:"description=Unique interaction identifier within the session"`
	Type      string `json:"type" jsonschema:"enum=user_prompt,enum=assistant_response"`
	Timestamp string `json:"timestamp" jsonschema:"description=ISO 8601 timestamp of the turn"`
	Content   string `json:"content"`
}

// Envelope is the structured session wire shape. Fields are kept as strings
// so that the validator can tell absent values from malformed ones.
type Envelope struct {
	SchemaVersion string        `json:"schema_version" jsonschema:"description=Contract version; minor revisions are backward compatible"`
	SessionID     string        `json:"session_id" jsonschema:"description=Content-stable session identifier"`
	StartTime     string        `json:"start_time" jsonschema:"description=ISO 8601 session start"`
	EndTime       string        `json:"end_time,omitempty"`
	Source        string        `json:"source,omitempty" jsonschema:"description=Origin of the capture (provenance)"`
	SourcePath    string        `json:"source_path,omitempty"`
	ProjectPath   string        `json:"project_path,omitempty"`
	GitBranch     string        `json:"git_branch,omitempty"`
	Summary       string        `json:"summary,omitempty"`
	Skills        []string      `json:"skills,omitempty" jsonschema:"description=Explicit skill attributions"`
	Interactions  []Interaction `json:"interactions" jsonschema:"minItems=1"`
}

// Schema reflects the JSON Schema of the envelope contract
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Envelope{})
	schema.Title = "Session envelope " + CurrentVersion
	return schema
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp forms seen across capture sources.
// Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
}
