package envelope

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"

	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

// ErrInvalidEnvelope marks a session rejected at the boundary
var ErrInvalidEnvelope = errors.New("invalid session envelope")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// Validator checks envelopes against an expected contract version
type Validator struct {
	expected string
}

// NewValidator creates a validator for the expected contract version.
// An empty version selects CurrentVersion.
func NewValidator(expectedVersion string) *Validator {
	if expectedVersion == "" {
		expectedVersion = CurrentVersion
	}
	return &Validator{expected: expectedVersion}
}

// ExpectedVersion returns the contract version the validator enforces
func (v *Validator) ExpectedVersion() string {
	return v.expected
}

// Validate reports whether env meets the hard requirements of the contract.
// Soft requirement misses are returned as warnings. For an invalid envelope
// the single returned message is the rejection reason.
func (v *Validator) Validate(env *Envelope) (bool, []string) {
	_, warnings, err := v.check(env)
	if err != nil {
		return false, []string{err.Error()}
	}
	return true, warnings
}

// ToRecord validates env and converts it into a session record tagged with source.
// The error wraps ErrInvalidEnvelope.
func (v *Validator) ToRecord(env *Envelope, source sessions.Source) (sessions.Record, []string, error) {
	record, warnings, err := v.check(env)
	if err != nil {
		return sessions.Record{}, warnings, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	record.Source = source
	return record, warnings, nil
}

func (v *Validator) check(env *Envelope) (sessions.Record, []string, error) {
	var warnings []string

	if env == nil {
		return sessions.Record{}, nil, errors.New("session must be a JSON object")
	}

	versionWarning, err := v.checkVersion(env.SchemaVersion)
	if err != nil {
		return sessions.Record{}, nil, err
	}
	if versionWarning != "" {
		warnings = append(warnings, versionWarning)
	}

	if env.SessionID == "" {
		return sessions.Record{}, nil, errors.New("missing required field: session_id")
	}
	if !sessionIDPattern.MatchString(env.SessionID) {
		return sessions.Record{}, nil, errors.Errorf("malformed session_id %q", env.SessionID)
	}

	if len(env.Interactions) == 0 {
		return sessions.Record{}, nil, errors.New("'interactions' array cannot be empty")
	}

	interactions := make([]sessions.Interaction, 0, len(env.Interactions))
	hasUserPrompt := false
	var earliest time.Time
	for i, raw := range env.Interactions {
		role := sessions.Role(raw.Type)
		if !role.Valid() {
			return sessions.Record{}, nil, errors.Errorf("interaction %d has unrecognized type %q", i, raw.Type)
		}
		if role == sessions.RoleUserPrompt {
			hasUserPrompt = true
		}

		interaction := sessions.Interaction{ID: raw.ID, Role: role, Content: raw.Content}
		if raw.ID == "" {
			warnings = append(warnings, fmt.Sprintf("interaction %d missing field: id", i))
		}
		if raw.Content == "" {
			warnings = append(warnings, fmt.Sprintf("interaction %d missing field: content", i))
		}
		if raw.Timestamp == "" {
			warnings = append(warnings, fmt.Sprintf("interaction %d missing field: timestamp", i))
		} else if ts, err := ParseTimestamp(raw.Timestamp); err != nil {
			warnings = append(warnings, fmt.Sprintf("interaction %d: %v", i, err))
		} else {
			interaction.Timestamp = ts
			if earliest.IsZero() || ts.Before(earliest) {
				earliest = ts
			}
		}
		interactions = append(interactions, interaction)
	}

	if !hasUserPrompt {
		warnings = append(warnings, "no user_prompt interactions found; attribution relies on user prompts")
	}

	startTime, err := ParseTimestamp(env.StartTime)
	if err != nil {
		if earliest.IsZero() {
			return sessions.Record{}, nil, errors.New("session has no usable start_time or interaction timestamp")
		}
		warnings = append(warnings, "start_time missing or malformed; using earliest interaction timestamp")
		startTime = earliest
	}

	provenance := []struct{ field, value string }{
		{"source", env.Source},
		{"source_path", env.SourcePath},
		{"project_path", env.ProjectPath},
	}
	for _, p := range provenance {
		if p.value == "" {
			warnings = append(warnings, "missing provenance field: "+p.field)
		}
	}

	record := sessions.Record{
		SessionID:    env.SessionID,
		Agent:        env.Source,
		StartTime:    startTime,
		Interactions: interactions,
		SourcePath:   env.SourcePath,
		ProjectPath:  env.ProjectPath,
		GitBranch:    env.GitBranch,
		Summary:      env.Summary,
		Skills:       env.Skills,
	}

	return record, warnings, nil
}

// checkVersion accepts the expected version and its backward-compatible minor
// revisions. A different major version is rejected.
func (v *Validator) checkVersion(got string) (string, error) {
	if got == "" {
		return fmt.Sprintf("missing schema_version; assuming %s", v.expected), nil
	}

	gv := canonical(got)
	ev := canonical(v.expected)
	if !semver.IsValid(gv) {
		return "", errors.Errorf("malformed schema_version %q", got)
	}
	if semver.Major(gv) != semver.Major(ev) {
		return "", errors.Errorf("schema_version %s is incompatible with %s", got, v.expected)
	}
	if semver.Compare(gv, ev) > 0 {
		return fmt.Sprintf("schema_version %s is newer than %s; continuing in compatibility mode", got, v.expected), nil
	}
	return "", nil
}

func canonical(version string) string {
	return "v" + strings.TrimPrefix(strings.TrimSpace(version), "v")
}
