// Package skills maps validated sessions to the skills they demonstrate and
// persists skill records. The catalog of known skills is discovered from
// directories holding a SKILL.md file whose YAML frontmatter names the skill
// and lists the keywords that attribute a session to it.
package skills

// Skill is a catalog entry discovered from a SKILL.md file
type Skill struct {
	Name        string   // Unique name from frontmatter
	Description string   // One-line summary shown by `skillgate skill list`
	Keywords    []string // Phrases that attribute a user prompt to the skill
	Directory   string   // Full path to the skill directory
}

// Metadata represents the YAML frontmatter in SKILL.md files
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// Config is the `skills` section of the configuration
type Config struct {
	CatalogDirs     []string            `mapstructure:"catalog_dirs" yaml:"catalog_dirs"`
	Allowed         []string            `mapstructure:"allowed" yaml:"allowed"`
	Keywords        map[string][]string `mapstructure:"keywords" yaml:"keywords"`
	OutcomePatterns []string            `mapstructure:"outcome_patterns" yaml:"outcome_patterns"`
}
