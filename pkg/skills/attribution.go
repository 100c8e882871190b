package skills

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/types/sessions"
)

// DefaultOutcomePatterns detect interactions that report a verifiable result
var DefaultOutcomePatterns = []string{
	`(?i)\ball (the )?tests (now )?pass(ed|ing)?\b`,
	`(?i)\bbuild (succeeded|passes|passed)\b`,
	`(?i)\b(successfully )?deployed to (prod|production|staging)\b`,
	`(?i)\b(pr|pull request) (was )?merged\b`,
}

// Attribution is the result of mapping one session to skills
type Attribution struct {
	Skills []string
	// Outcome is the matched text of the first outcome pattern hit, if any
	Outcome string
}

// Attributor maps sessions to skills by explicit envelope attribution or by
// keyword matches in user prompts
type Attributor struct {
	matchers map[string][]*regexp.Regexp
	allowed  []glob.Glob
	outcomes []*regexp.Regexp
}

// AttributorOption configures an Attributor
type AttributorOption func(*Attributor) error

// WithKeywords adds keyword phrases per skill on top of the catalog
func WithKeywords(keywords map[string][]string) AttributorOption {
	return func(a *Attributor) error {
		for name, words := range keywords {
			for _, w := range words {
				if err := a.addKeyword(name, w); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// WithAllowed restricts attribution to skills matching one of the glob patterns
func WithAllowed(patterns ...string) AttributorOption {
	return func(a *Attributor) error {
		for _, p := range patterns {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return errors.Wrapf(err, "invalid skill allowlist pattern %q", p)
			}
			a.allowed = append(a.allowed, g)
		}
		return nil
	}
}

// WithOutcomePatterns replaces the default outcome patterns
func WithOutcomePatterns(patterns ...string) AttributorOption {
	return func(a *Attributor) error {
		a.outcomes = a.outcomes[:0]
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return errors.Wrapf(err, "invalid outcome pattern %q", p)
			}
			a.outcomes = append(a.outcomes, re)
		}
		return nil
	}
}

// NewAttributor creates an attributor for the catalog. Skills without
// keywords are matched by their own name.
func NewAttributor(catalog map[string]*Skill, opts ...AttributorOption) (*Attributor, error) {
	a := &Attributor{matchers: make(map[string][]*regexp.Regexp)}

	for name, skill := range catalog {
		words := skill.Keywords
		if len(words) == 0 {
			words = []string{name}
		}
		for _, w := range words {
			if err := a.addKeyword(name, w); err != nil {
				return nil, err
			}
		}
	}

	if err := WithOutcomePatterns(DefaultOutcomePatterns...)(a); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *Attributor) addKeyword(name, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil
	}
	re, err := regexp.Compile(`(?i)(^|\W)` + regexp.QuoteMeta(word) + `($|\W)`)
	if err != nil {
		return errors.Wrapf(err, "invalid keyword %q for skill %s", word, name)
	}
	a.matchers[name] = append(a.matchers[name], re)
	return nil
}

// Allowed reports whether name passes the allowlist. An empty allowlist allows everything.
func (a *Attributor) Allowed(name string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	for _, g := range a.allowed {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Known returns the names of the skills the attributor can match by keyword
func (a *Attributor) Known() []string {
	names := make([]string, 0, len(a.matchers))
	for name := range a.matchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attribute maps rec to skills. Explicit attributions on the record take
// precedence over keyword matching.
func (a *Attributor) Attribute(rec sessions.Record) Attribution {
	var names []string
	if len(rec.Skills) > 0 {
		names = a.explicit(rec.Skills)
	} else {
		names = a.match(rec.UserPrompts())
	}

	attribution := Attribution{Skills: names}
	if len(names) > 0 {
		attribution.Outcome = a.outcome(rec.Interactions)
	}
	return attribution
}

func (a *Attributor) explicit(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	var names []string
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] || !a.Allowed(s) {
			continue
		}
		seen[s] = true
		names = append(names, s)
	}
	sort.Strings(names)
	return names
}

func (a *Attributor) match(prompts []string) []string {
	var names []string
	for name, matchers := range a.matchers {
		if !a.Allowed(name) {
			continue
		}
		if anyMatch(matchers, prompts) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func anyMatch(matchers []*regexp.Regexp, texts []string) bool {
	for _, re := range matchers {
		for _, t := range texts {
			if re.MatchString(t) {
				return true
			}
		}
	}
	return false
}

func (a *Attributor) outcome(interactions []sessions.Interaction) string {
	for _, in := range interactions {
		for _, re := range a.outcomes {
			if m := re.FindString(in.Content); m != "" {
				return m
			}
		}
	}
	return ""
}

// Initialize discovers the catalog from cfg and builds the attributor
func Initialize(ctx context.Context, cfg Config) (*Attributor, map[string]*Skill, error) {
	var opts []Option
	if len(cfg.CatalogDirs) > 0 {
		opts = append(opts, WithSkillDirs(cfg.CatalogDirs...))
	}

	discovery, err := NewDiscovery(opts...)
	if err != nil {
		return nil, nil, err
	}

	catalog, err := discovery.DiscoverSkills()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to discover skills")
	}
	logger.G(ctx).WithField("skills", len(catalog)).WithField("dirs", discovery.Dirs()).Debug("discovered skill catalog")

	attrOpts := []AttributorOption{
		WithKeywords(cfg.Keywords),
		WithAllowed(cfg.Allowed...),
	}
	if len(cfg.OutcomePatterns) > 0 {
		attrOpts = append(attrOpts, WithOutcomePatterns(cfg.OutcomePatterns...))
	}

	attributor, err := NewAttributor(catalog, attrOpts...)
	if err != nil {
		return nil, nil, err
	}
	return attributor, catalog, nil
}
