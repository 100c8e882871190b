package transcript

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

const summaryLimit = 100

type geminiSession struct {
	SessionID   string          `json:"sessionId"`
	ProjectHash string          `json:"projectHash"`
	StartTime   string          `json:"startTime"`
	LastUpdated string          `json:"lastUpdated"`
	Messages    []geminiMessage `json:"messages"`
}

type geminiMessage struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
}

// decodeGemini handles the single-document chats written by Gemini CLI.
// Gemini records a project hash rather than a path.
func decodeGemini(data []byte) (*Transcript, error) {
	var session geminiSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrap(ErrUnrecognizedFormat, err.Error())
	}

	env := envelope.Envelope{
		SessionID:   session.SessionID,
		StartTime:   session.StartTime,
		EndTime:     session.LastUpdated,
		Source:      FormatGemini.provenance(),
		ProjectPath: session.ProjectHash,
	}

	for _, msg := range session.Messages {
		role, ok := roleFor(msg.Type)
		if !ok {
			continue
		}
		text := blockText(msg.Content)
		if text == "" {
			continue
		}
		if env.Summary == "" && role == sessions.RoleUserPrompt {
			env.Summary = summarize(text)
		}
		env.Interactions = append(env.Interactions, envelope.Interaction{
			ID:        msg.ID,
			Type:      string(role),
			Timestamp: msg.Timestamp,
			Content:   text,
		})
	}

	return &Transcript{Format: FormatGemini, Envelope: env}, nil
}

func summarize(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= summaryLimit {
		return text
	}
	return string(runes[:summaryLimit]) + "..."
}
