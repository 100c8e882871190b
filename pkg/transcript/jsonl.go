package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

const maxLineSize = 8 * 1024 * 1024

type jsonlRecord struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	UUID      string          `json:"uuid"`
	SessionID string          `json:"sessionId"`
	CWD       string          `json:"cwd"`
	GitBranch string          `json:"gitBranch"`
	Summary   string          `json:"summary"`
	IsMeta    bool            `json:"isMeta"`
	Message   *claudeMessage  `json:"message"`
	Payload   json.RawMessage `json:"payload"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type codexMeta struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	CWD       string `json:"cwd"`
	Git       struct {
		Branch string `json:"branch"`
	} `json:"git"`
}

type codexResponse struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodeJSONL handles the line-delimited caches written by Claude Code and Codex
func decodeJSONL(data []byte) (*Transcript, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024), maxLineSize)

	var (
		format Format
		env    envelope.Envelope
		times  span
		line   int
	)

	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec jsonlRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, errors.Wrapf(ErrUnrecognizedFormat, "line %d is not JSON: %v", line, err)
		}
		times.observe(rec.Timestamp)

		switch rec.Type {
		case "session_meta":
			format = FormatCodex
			var meta codexMeta
			if err := json.Unmarshal(rec.Payload, &meta); err != nil {
				return nil, errors.Wrapf(ErrUnrecognizedFormat, "line %d: malformed session_meta: %v", line, err)
			}
			if env.SessionID == "" {
				env.SessionID = meta.ID
			}
			if env.ProjectPath == "" {
				env.ProjectPath = meta.CWD
			}
			if env.GitBranch == "" {
				env.GitBranch = meta.Git.Branch
			}
			times.observe(meta.Timestamp)

		case "response_item":
			format = FormatCodex
			var item codexResponse
			if err := json.Unmarshal(rec.Payload, &item); err != nil {
				continue
			}
			if item.Type != "message" {
				continue
			}
			role, ok := roleFor(item.Role)
			if !ok {
				continue
			}
			text := blockText(item.Content)
			if text == "" {
				continue
			}
			id := item.ID
			if id == "" {
				id = codexInteractionID(line)
			}
			env.Interactions = append(env.Interactions, envelope.Interaction{
				ID:        id,
				Type:      string(role),
				Timestamp: rec.Timestamp,
				Content:   text,
			})

		case "summary":
			if format == "" {
				format = FormatClaude
			}
			env.Summary = rec.Summary

		case "user", "assistant":
			format = FormatClaude
			if env.SessionID == "" {
				env.SessionID = rec.SessionID
			}
			if env.ProjectPath == "" {
				env.ProjectPath = rec.CWD
			}
			if env.GitBranch == "" {
				env.GitBranch = rec.GitBranch
			}
			if rec.IsMeta || rec.Message == nil {
				continue
			}
			role, ok := roleFor(rec.Type)
			if !ok {
				continue
			}
			text := blockText(rec.Message.Content)
			if text == "" {
				continue
			}
			env.Interactions = append(env.Interactions, envelope.Interaction{
				ID:        rec.UUID,
				Type:      string(role),
				Timestamp: rec.Timestamp,
				Content:   text,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(ErrUnrecognizedFormat, err.Error())
	}

	if format == "" {
		return nil, errors.Wrap(ErrUnrecognizedFormat, "no Claude Code or Codex records found")
	}

	sortInteractions(env.Interactions)
	env.Source = format.provenance()
	env.StartTime = formatTime(times.start)
	env.EndTime = formatTime(times.end)

	return &Transcript{Format: format, Envelope: env}, nil
}

func roleFor(speaker string) (sessions.Role, bool) {
	switch speaker {
	case "user":
		return sessions.RoleUserPrompt, true
	case "assistant", "gemini", "model":
		return sessions.RoleAssistantResponse, true
	default:
		return "", false
	}
}

// blockText flattens message content that is either a plain string or a list
// of typed blocks. Only text blocks contribute; tool calls and results do not.
func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text", "input_text", "output_text":
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func codexInteractionID(line int) string {
	return "line-" + strconv.Itoa(line)
}
