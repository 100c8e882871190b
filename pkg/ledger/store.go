package ledger

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillgate/pkg/osutil"
)

// DefaultFileName is the ledger file name inside the data directory
const DefaultFileName = "ingestion_history.yaml"

// Store persists the ledger. AtomicSave replaces the persisted ledger as a
// whole; a failed save leaves the previous state intact.
type Store interface {
	Load(ctx context.Context) (*Ledger, error)
	AtomicSave(ctx context.Context, l *Ledger) error
}

type document struct {
	ProcessedSessions []Entry `yaml:"processed_sessions"`
}

// FileStore keeps the ledger in a YAML file
type FileStore struct {
	path string
}

// NewFileStore creates a store for the ledger file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the ledger file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the ledger. A missing or empty file is an empty ledger. Malformed
// YAML, unknown keys, incomplete entries and duplicate session ids are
// ErrCorruptLedger.
func (s *FileStore) Load(ctx context.Context) (*Ledger, error) {
	entries, err := s.LoadEntries(ctx)
	if err != nil {
		return nil, err
	}
	return FromEntries(entries)
}

// LoadEntries decodes the raw entries without validating them, for repair
func (s *FileStore) LoadEntries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok, err := osutil.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.Wrapf(ErrCorruptLedger, "failed to parse %s: %v", s.path, err)
	}
	return doc.ProcessedSessions, nil
}

// AtomicSave writes the ledger through a temporary file and rename
func (s *FileStore) AtomicSave(ctx context.Context, l *Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.saveEntries(l.Entries())
}

// Dedupe repairs a ledger file that carries duplicate session ids, keeping
// the latest entry for each id. It returns the number of entries removed.
func (s *FileStore) Dedupe(ctx context.Context) (int, error) {
	entries, err := s.LoadEntries(ctx)
	if err != nil {
		return 0, err
	}
	unique, removed := Dedupe(entries)
	if removed == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.saveEntries(unique); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *FileStore) saveEntries(entries []Entry) error {
	data, err := Marshal(entries)
	if err != nil {
		return err
	}
	if err := osutil.AtomicWriteFile(s.path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to save ingestion ledger")
	}
	return nil
}

// Marshal renders entries in the persisted document shape
func Marshal(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := yaml.Marshal(document{ProcessedSessions: entries})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal ingestion ledger")
	}
	return data, nil
}

// MemoryStore keeps the ledger in memory
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	saves   int
	// FailSave makes AtomicSave fail, for exercising partial commit paths
	FailSave error
}

// NewMemoryStore creates a store seeded with entries
func NewMemoryStore(entries ...Entry) *MemoryStore {
	return &MemoryStore{entries: entries}
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context) (*Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return FromEntries(append([]Entry(nil), s.entries...))
}

// AtomicSave implements Store
func (s *MemoryStore) AtomicSave(ctx context.Context, l *Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.entries = l.Entries()
	s.saves++
	return nil
}

// Saves returns how many times the ledger was saved
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
