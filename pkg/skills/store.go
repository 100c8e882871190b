package skills

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillgate/pkg/osutil"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// DefaultFileName is the skill store file name inside the data directory
const DefaultFileName = "skills.yaml"

// ErrCorruptStore is returned when the skill store file cannot be parsed at all.
// Individually inconsistent records load fine and are rejected by the gate.
var ErrCorruptStore = errors.New("skill store is corrupt")

// Store persists skill records keyed by name
type Store interface {
	Load(ctx context.Context) (skilltypes.Set, error)
	AtomicSave(ctx context.Context, set skilltypes.Set) error
}

type document struct {
	Skills skilltypes.Set `yaml:"skills"`
}

// FileStore keeps skill records in a YAML file
type FileStore struct {
	path string
}

// NewFileStore creates a store for the skill file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the skill store file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads all records. A missing file is an empty set.
func (s *FileStore) Load(ctx context.Context) (skilltypes.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok, err := osutil.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return skilltypes.Set{}, nil
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrCorruptStore, "failed to parse %s: %v", s.path, err)
	}

	set := make(skilltypes.Set, len(doc.Skills))
	for name, rec := range doc.Skills {
		if rec == nil {
			rec = skilltypes.NewRecord(name)
		}
		// The map key is authoritative
		rec.Name = name
		set[name] = rec
	}
	return set, nil
}

// AtomicSave writes all records through a temporary file and rename
func (s *FileStore) AtomicSave(ctx context.Context, set skilltypes.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Marshal(set)
	if err != nil {
		return err
	}
	if err := osutil.AtomicWriteFile(s.path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to save skill store")
	}
	return nil
}

// Marshal renders set in the persisted document shape. Map keys are sorted
// by the YAML encoder so output is stable.
func Marshal(set skilltypes.Set) ([]byte, error) {
	if set == nil {
		set = skilltypes.Set{}
	}
	data, err := yaml.Marshal(document{Skills: set})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal skill store")
	}
	return data, nil
}

// MemoryStore keeps skill records in memory
type MemoryStore struct {
	mu    sync.Mutex
	set   skilltypes.Set
	saves int
	// FailSave makes AtomicSave fail, for exercising partial commit paths
	FailSave error
}

// NewMemoryStore creates a store seeded with records
func NewMemoryStore(records ...*skilltypes.Record) *MemoryStore {
	set := make(skilltypes.Set, len(records))
	for _, r := range records {
		set[r.Name] = r.Clone()
	}
	return &MemoryStore{set: set}
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context) (skilltypes.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Clone(), nil
}

// AtomicSave implements Store
func (s *MemoryStore) AtomicSave(ctx context.Context, set skilltypes.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.set = set.Clone()
	s.saves++
	return nil
}

// Saves returns how many times the store was saved
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
