// Package identity resolves the stable session identifier of an ingested
// artifact. The identifier depends only on artifact content, never on the
// file path or modification time, so copies of one session always collide.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/transcript"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

// ErrMissingIdentity is returned when no identifier can be read or derived
var ErrMissingIdentity = errors.New("no session identity could be derived")

// ErrUnrecognizedFormat is re-exported for callers that only use this package
var ErrUnrecognizedFormat = transcript.ErrUnrecognizedFormat

// Identity is the resolved identity of one artifact
type Identity struct {
	SessionID string          `json:"session_id" yaml:"session_id"`
	Source    sessions.Source `json:"source" yaml:"source"`
	Agent     string          `json:"agent" yaml:"agent"`
	// Derived is true when the id is a content hash rather than a field of the artifact
	Derived bool `json:"derived" yaml:"derived"`
}

// Resolve decodes data and returns its identity
func Resolve(data []byte) (Identity, error) {
	t, err := transcript.Decode(data)
	if err != nil {
		return Identity{}, err
	}
	return FromTranscript(t)
}

// FromTranscript returns the identity of an already decoded artifact.
// Explicit identifiers are used verbatim.
func FromTranscript(t *transcript.Transcript) (Identity, error) {
	id := Identity{
		Source: t.Source(),
		Agent:  t.Agent(),
	}

	if explicit := strings.TrimSpace(t.Envelope.SessionID); explicit != "" {
		id.SessionID = explicit
		return id, nil
	}

	derived, err := ContentHash(id.Source, &t.Envelope)
	if err != nil {
		return Identity{}, err
	}
	id.SessionID = derived
	id.Derived = true
	return id, nil
}

// ContentHash derives an identifier as the SHA-256 of the source tag, the
// start time and the ordered interaction identifiers. Interactions without an
// identifier contribute a digest of their role and content instead.
func ContentHash(source sessions.Source, env *envelope.Envelope) (string, error) {
	start := normalizeTime(env.StartTime)
	if start == "" && len(env.Interactions) == 0 {
		return "", errors.Wrap(ErrMissingIdentity, "artifact has no session id, start time or interactions")
	}

	parts := make([]string, 0, len(env.Interactions)+2)
	parts = append(parts, string(source), start)
	for _, in := range env.Interactions {
		parts = append(parts, interactionKey(in))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:]), nil
}

func interactionKey(in envelope.Interaction) string {
	if in.ID != "" {
		return in.ID
	}
	sum := sha256.Sum256([]byte(in.Type + "\x00" + in.Content))
	return "content:" + hex.EncodeToString(sum[:8])
}

func normalizeTime(raw string) string {
	ts, err := envelope.ParseTimestamp(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return ts.Format(time.RFC3339Nano)
}
