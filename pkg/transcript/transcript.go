// Package transcript detects the shape of a captured session artifact and
// decodes it into the session envelope wire shape. It understands Claude
// Code and Codex JSONL caches, Gemini JSON chats, manual JSON exports and
// structured envelopes. Decoding is a pure function of the artifact bytes.
package transcript

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

// ErrUnrecognizedFormat is returned when an artifact matches no known shape
var ErrUnrecognizedFormat = errors.New("unrecognized transcript format")

// Format identifies the capture shape of an artifact
type Format string

const (
	FormatClaude   Format = "claude-code"
	FormatCodex    Format = "codex"
	FormatGemini   Format = "gemini"
	FormatManual   Format = "manual"
	FormatEnvelope Format = "envelope"
)

// Source maps the capture shape to the session source tag
func (f Format) Source() sessions.Source {
	switch f {
	case FormatManual:
		return sessions.SourceManualExport
	case FormatEnvelope:
		return sessions.SourceStructuredEnvelope
	default:
		return sessions.SourceInteractiveCache
	}
}

// provenance is the value written to the envelope source field
func (f Format) provenance() string {
	switch f {
	case FormatClaude:
		return "claude-code-cache"
	case FormatCodex:
		return "codex-cache"
	case FormatGemini:
		return "gemini-cache"
	case FormatManual:
		return "manual-export"
	default:
		return ""
	}
}

// Transcript is a decoded artifact
type Transcript struct {
	Format   Format
	Envelope envelope.Envelope
}

// Source returns the session source tag of the transcript
func (t *Transcript) Source() sessions.Source {
	return t.Format.Source()
}

// Agent returns the agent that produced the transcript
func (t *Transcript) Agent() string {
	if t.Format == FormatEnvelope && t.Envelope.Source != "" {
		return t.Envelope.Source
	}
	return string(t.Format)
}

// Decoder turns raw artifact bytes into a transcript
type Decoder interface {
	Decode(data []byte) (*Transcript, error)
}

// DefaultDecoder decodes every shape this package knows about
type DefaultDecoder struct{}

// Decode implements Decoder
func (DefaultDecoder) Decode(data []byte) (*Transcript, error) {
	return Decode(data)
}

// Decode detects the format of data and decodes it
func Decode(data []byte) (*Transcript, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.Wrap(ErrUnrecognizedFormat, "artifact is empty")
	}

	if trimmed[0] == '{' {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &top); err == nil {
			if _, isRecord := top["type"]; !isRecord {
				return decodeDocument(trimmed, top)
			}
		}
	}

	return decodeJSONL(trimmed)
}

// Detect reports the format of data without keeping the decoded result
func Detect(data []byte) (Format, error) {
	t, err := Decode(data)
	if err != nil {
		return "", err
	}
	return t.Format, nil
}

func decodeDocument(data []byte, top map[string]json.RawMessage) (*Transcript, error) {
	_, hasSessionID := top["sessionId"]
	_, hasMessages := top["messages"]
	_, hasProjectHash := top["projectHash"]
	if hasSessionID && hasMessages && hasProjectHash {
		return decodeGemini(data)
	}

	_, hasVersion := top["schema_version"]
	_, hasInteractions := top["interactions"]
	_, hasSnakeID := top["session_id"]
	if !hasInteractions && !hasSnakeID {
		return nil, errors.Wrap(ErrUnrecognizedFormat, "JSON document has neither session_id nor interactions")
	}

	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrUnrecognizedFormat, err.Error())
	}

	if hasVersion {
		return &Transcript{Format: FormatEnvelope, Envelope: env}, nil
	}
	if env.Source == "" {
		env.Source = FormatManual.provenance()
	}
	return &Transcript{Format: FormatManual, Envelope: env}, nil
}

// span tracks the earliest and latest timestamps seen while decoding
type span struct {
	start, end time.Time
}

func (s *span) observe(raw string) {
	ts, err := envelope.ParseTimestamp(raw)
	if err != nil {
		return
	}
	if s.start.IsZero() || ts.Before(s.start) {
		s.start = ts
	}
	if ts.After(s.end) {
		s.end = ts
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// sortInteractions orders interactions by timestamp, keeping file order for ties
// and for interactions without a parseable timestamp.
func sortInteractions(interactions []envelope.Interaction) {
	sort.SliceStable(interactions, func(i, j int) bool {
		a, errA := envelope.ParseTimestamp(interactions[i].Timestamp)
		b, errB := envelope.ParseTimestamp(interactions[j].Timestamp)
		if errA != nil || errB != nil {
			return false
		}
		return a.Before(b)
	})
}
