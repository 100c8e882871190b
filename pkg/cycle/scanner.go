package cycle

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

// Artifact is one captured session file
type Artifact struct {
	Path string
	Data []byte
	// Source overrides the source detected from the content when set
	Source sessions.Source
}

// Scanner locates artifacts through doublestar glob patterns
type Scanner struct {
	sources []config.Source
	home    string
}

// NewScanner creates a scanner over sources
func NewScanner(sources []config.Source) *Scanner {
	home, _ := os.UserHomeDir()
	return &Scanner{sources: sources, home: home}
}

// Paths expands every pattern of every source. Paths are absolute, sorted and
// unique; a path matched by several sources keeps the first source.
func (s *Scanner) Paths() ([]string, map[string]sessions.Source, error) {
	origin := make(map[string]sessions.Source)
	var paths []string

	for _, src := range s.sources {
		for _, pattern := range src.Patterns {
			matches, err := doublestar.FilepathGlob(s.expand(pattern), doublestar.WithFilesOnly())
			if err != nil {
				return nil, nil, errors.Wrapf(err, "failed to expand pattern %s of source %s", pattern, src.Name)
			}
			for _, m := range matches {
				abs, err := filepath.Abs(m)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "failed to resolve %s", m)
				}
				if _, ok := origin[abs]; ok {
					continue
				}
				origin[abs] = src.Source
				paths = append(paths, abs)
			}
		}
	}

	sort.Strings(paths)
	return paths, origin, nil
}

// Scan reads every artifact the sources match
func (s *Scanner) Scan() ([]Artifact, error) {
	paths, origin, err := s.Paths()
	if err != nil {
		return nil, err
	}
	return ReadArtifacts(paths, origin)
}

// ReadArtifacts reads paths into artifacts. origin may be nil.
func ReadArtifacts(paths []string, origin map[string]sessions.Source) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read artifact %s", p)
		}
		artifacts = append(artifacts, Artifact{Path: p, Data: data, Source: origin[p]})
	}
	return artifacts, nil
}

func (s *Scanner) expand(pattern string) string {
	if s.home != "" && (pattern == "~" || strings.HasPrefix(pattern, "~/")) {
		return filepath.Join(s.home, strings.TrimPrefix(pattern, "~"))
	}
	return pattern
}
