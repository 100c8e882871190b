// Package sessions defines the normalized session record shared by the
// identity resolver, the envelope validator and the evidence pipeline.
package sessions

import "time"

// Source is the origin tag of a session artifact
type Source string

const (
	// SourceInteractiveCache is a session read from an agent's local cache (Claude Code, Codex, Gemini)
	SourceInteractiveCache Source = "interactive-cache"
	// SourceManualExport is a transcript exported by hand from a terminal
	SourceManualExport Source = "manual-export"
	// SourceStructuredEnvelope is a session already in the versioned envelope shape
	SourceStructuredEnvelope Source = "structured-envelope"
)

// Valid reports whether s is one of the known source tags
func (s Source) Valid() bool {
	switch s {
	case SourceInteractiveCache, SourceManualExport, SourceStructuredEnvelope:
		return true
	}
	return false
}

// Role is the tag of a single turn
type Role string

const (
	// RoleUserPrompt marks a turn typed by the operator
	RoleUserPrompt Role = "user_prompt"
	// RoleAssistantResponse marks a turn produced by the agent
	RoleAssistantResponse Role = "assistant_response"
)

// Valid reports whether r is a recognized role tag
func (r Role) Valid() bool {
	return r == RoleUserPrompt || r == RoleAssistantResponse
}

// Interaction is one ordered turn of a session
type Interaction struct {
	ID        string
	Role      Role
	Timestamp time.Time
	Content   string
}

// Record is a validated session. Internal code never re-checks field presence
// on a Record; that is done once at the envelope boundary.
type Record struct {
	SessionID    string
	Source       Source
	Agent        string
	StartTime    time.Time
	Interactions []Interaction

	SourcePath  string
	ProjectPath string
	GitBranch   string
	Summary     string

	// Skills holds explicit attributions carried by the envelope
	Skills []string
}

// UserPrompts returns the content of every user turn in order
func (r Record) UserPrompts() []string {
	var prompts []string
	for _, i := range r.Interactions {
		if i.Role == RoleUserPrompt {
			prompts = append(prompts, i.Content)
		}
	}
	return prompts
}
