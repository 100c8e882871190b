// Package ledger records which sessions have already contributed evidence.
// It is the single source of truth for deduplication: a session id whose
// entry has status ok is never counted again, whatever path it arrives from.
package ledger

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

// ErrCorruptLedger is returned when the persisted ledger cannot be trusted
var ErrCorruptLedger = errors.New("ingestion ledger is corrupt")

// Status is the outcome recorded for an ingested session
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusOK || s == StatusError
}

// Entry is one processed session
type Entry struct {
	SessionID  string          `yaml:"session_id" json:"session_id"`
	Source     sessions.Source `yaml:"source" json:"source"`
	SourcePath string          `yaml:"source_path,omitempty" json:"source_path,omitempty"`
	IngestedAt time.Time       `yaml:"ingested_at" json:"ingested_at"`
	Status     Status          `yaml:"status" json:"status"`
	Error      string          `yaml:"error,omitempty" json:"error,omitempty"`
	Skills     []string        `yaml:"skills,omitempty" json:"skills,omitempty"`

	// ProjectPath and StartedAt identify the session for proximity matching
	ProjectPath string    `yaml:"project_path,omitempty" json:"project_path,omitempty"`
	StartedAt   time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
}

// EntryOption sets optional fields on an entry when it is marked
type EntryOption func(*Entry)

// WithSourcePath records where the artifact was read from
func WithSourcePath(path string) EntryOption {
	return func(e *Entry) {
		e.SourcePath = path
	}
}

// WithError records the failure message of an errored session
func WithError(msg string) EntryOption {
	return func(e *Entry) {
		e.Error = msg
	}
}

// WithSkills records the skills the session was attributed to
func WithSkills(names []string) EntryOption {
	return func(e *Entry) {
		e.Skills = append([]string(nil), names...)
	}
}

// WithProvenance records the project and start time of the session
func WithProvenance(projectPath string, startedAt time.Time) EntryOption {
	return func(e *Entry) {
		e.ProjectPath = projectPath
		if !startedAt.IsZero() {
			e.StartedAt = startedAt.UTC()
		}
	}
}

// Ledger is the in-memory ingestion history. Entries keep first-ingestion order.
// A Ledger is not safe for concurrent use; the ingestion cycle mutates it from
// a single goroutine.
type Ledger struct {
	entries []Entry
	index   map[string]int
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// FromEntries builds a ledger from persisted entries. An entry without a
// session id, source, status or ingestion time, or a session id that appears
// twice, makes the ledger corrupt.
func FromEntries(entries []Entry) (*Ledger, error) {
	l := New()
	for i, e := range entries {
		if err := checkEntry(e); err != nil {
			return nil, errors.Wrapf(ErrCorruptLedger, "entry %d: %v", i, err)
		}
		if prev, ok := l.index[e.SessionID]; ok {
			return nil, errors.Wrapf(ErrCorruptLedger,
				"session %s appears at entries %d and %d; run 'skillgate ledger dedupe'", e.SessionID, prev, i)
		}
		l.index[e.SessionID] = len(l.entries)
		l.entries = append(l.entries, e)
	}
	return l, nil
}

func checkEntry(e Entry) error {
	switch {
	case e.SessionID == "":
		return errors.New("no session_id")
	case !e.Source.Valid():
		return errors.Errorf("session %s has unknown source %q", e.SessionID, e.Source)
	case !e.Status.Valid():
		return errors.Errorf("session %s has unknown status %q", e.SessionID, e.Status)
	case e.IngestedAt.IsZero():
		return errors.Errorf("session %s has no ingested_at", e.SessionID)
	}
	return nil
}

// IsProcessed reports whether the session already contributed evidence
func (l *Ledger) IsProcessed(sessionID string) bool {
	e, ok := l.Get(sessionID)
	return ok && e.Status == StatusOK
}

// Get returns the entry for sessionID
func (l *Ledger) Get(sessionID string) (Entry, bool) {
	i, ok := l.index[sessionID]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// MarkProcessed records the session. Marking an already recorded session
// updates its entry in place, so repeated calls leave a single entry.
func (l *Ledger) MarkProcessed(sessionID string, source sessions.Source, ts time.Time, status Status, opts ...EntryOption) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	if !source.Valid() {
		return errors.Errorf("unknown session source %q", source)
	}
	if !status.Valid() {
		return errors.Errorf("unknown ledger status %q", status)
	}
	if ts.IsZero() {
		return errors.New("ingestion time is required")
	}

	entry := Entry{
		SessionID:  sessionID,
		Source:     source,
		IngestedAt: ts.UTC(),
		Status:     status,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	if i, ok := l.index[sessionID]; ok {
		l.entries[i] = entry
		return nil
	}
	l.index[sessionID] = len(l.entries)
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of all entries in first-ingestion order
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded sessions
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Clone returns an independent copy of the ledger
func (l *Ledger) Clone() *Ledger {
	c, _ := FromEntries(l.Entries())
	return c
}

// Issue is a problem found by Verify
type Issue struct {
	SessionID string `yaml:"session_id" json:"session_id"`
	Message   string `yaml:"message" json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.SessionID, i.Message)
}

// IsDuplicateByProximity finds a processed session of the same project that
// started within window of startedAt. It is the fallback match for sessions
// whose id had to be derived from content. It returns the matching session id.
func (l *Ledger) IsDuplicateByProximity(projectPath string, startedAt time.Time, window time.Duration) (string, bool) {
	if projectPath == "" || startedAt.IsZero() || window <= 0 {
		return "", false
	}
	for _, e := range l.entries {
		if e.Status != StatusOK || e.ProjectPath != projectPath || e.StartedAt.IsZero() {
			continue
		}
		if Within(e.StartedAt, startedAt, window) {
			return e.SessionID, true
		}
	}
	return "", false
}

// Within reports whether a and b are at most window apart
func Within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Verify inspects entries for problems that do not prevent loading:
// errored sessions awaiting reprocessing and timestamps in the future.
func (l *Ledger) Verify(now time.Time) []Issue {
	var issues []Issue
	for _, e := range l.entries {
		if e.Status == StatusError {
			msg := "ingestion failed; session will be reprocessed"
			if e.Error != "" {
				msg += ": " + e.Error
			}
			issues = append(issues, Issue{e.SessionID, msg})
		}
		if e.IngestedAt.After(now) {
			issues = append(issues, Issue{e.SessionID, "ingested_at is in the future"})
		}
	}
	return issues
}

// Dedupe collapses duplicate session ids, keeping the latest entry for each
// id at the position of its first occurrence. It returns the number of
// entries removed.
func Dedupe(entries []Entry) ([]Entry, int) {
	latest := make(map[string]Entry, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		prev, seen := latest[e.SessionID]
		if !seen {
			order = append(order, e.SessionID)
			latest[e.SessionID] = e
			continue
		}
		if !e.IngestedAt.Before(prev.IngestedAt) {
			latest[e.SessionID] = e
		}
	}

	out := make([]Entry, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, len(entries) - len(out)
}
