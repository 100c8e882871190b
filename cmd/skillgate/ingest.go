package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/cycle"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

// IngestConfig holds the flags of the ingest command
type IngestConfig struct {
	DryRun bool
	Diff   bool
	Format string
	Now    string
}

// NewIngestConfig returns the ingest defaults
func NewIngestConfig() *IngestConfig {
	return &IngestConfig{
		Format: "text",
	}
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Run one ingestion cycle",
	Long: `Ingest session artifacts exactly once and apply the temporal gate to every skill.

Without paths the configured sources are scanned. A path may be a file, a
directory (searched for *.json and *.jsonl) or a doublestar glob.

Exit codes: 0 clean, 1 warnings or per-record errors, 2 fatal or critical.

Examples:
  skillgate ingest
  skillgate ingest ~/exports/session.json
  skillgate ingest '~/.claude/projects/**/*.jsonl' --dry-run --diff
  skillgate ingest --format json --now 2025-06-01T00:00:00Z`,
}

func init() {
	defaults := NewIngestConfig()
	ingestCmd.Flags().Bool("dry-run", defaults.DryRun, "Evaluate without writing the ledger or the skill store")
	ingestCmd.Flags().Bool("diff", defaults.Diff, "Print a unified diff of the skill store")
	ingestCmd.Flags().String("format", defaults.Format, "Report format (text, yaml, json)")
	ingestCmd.Flags().String("now", defaults.Now, "Evaluate as of this RFC3339 time instead of the wall clock")

	rootCmd.AddCommand(withTracing(ingestCmd, runIngest))
}

func getIngestConfigFromFlags(cmd *cobra.Command) *IngestConfig {
	config := NewIngestConfig()
	if v, err := cmd.Flags().GetBool("dry-run"); err == nil {
		config.DryRun = v
	}
	if v, err := cmd.Flags().GetBool("diff"); err == nil {
		config.Diff = v
	}
	if v, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = v
	}
	if v, err := cmd.Flags().GetString("now"); err == nil {
		config.Now = v
	}
	return config
}

func runIngest(cmd *cobra.Command, args []string) int {
	ctx := cmd.Context()
	flags := getIngestConfigFromFlags(cmd)

	clock, err := parseNow(flags.Now)
	if err != nil {
		presenter.Error(err, "Invalid flags")
		return audit.ExitCritical
	}

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	if !flags.DryRun {
		if err := a.ensureDataDir(); err != nil {
			presenter.Error(err, "Failed to prepare data directory")
			return audit.ExitCritical
		}
	}

	runner, err := a.runner(ctx, clock)
	if err != nil {
		presenter.Error(err, "Failed to initialize skill attribution")
		return audit.ExitCritical
	}

	if !flags.DryRun {
		store, err := a.openHistory(ctx)
		switch {
		case err != nil:
			logger.G(ctx).WithError(err).Warn("run history unavailable")
		case store != nil:
			defer store.Close()
			runner.History = store
		}
	}

	artifacts, err := collectArtifacts(a.cfg, args)
	if err != nil {
		presenter.Error(err, "Failed to collect session artifacts")
		return audit.ExitCritical
	}

	report, runErr := runner.Run(ctx, artifacts, cycle.Options{DryRun: flags.DryRun, Diff: flags.Diff})

	if err := renderReport(cmd.OutOrStdout(), report, flags.Format); err != nil {
		presenter.Error(err, "Failed to render report")
	}
	if flags.Diff {
		presenter.Diff(report.Diff)
	}
	if runErr != nil {
		presenter.Error(runErr, "Ingestion cycle failed")
	}
	return report.ExitCode
}

// collectArtifacts reads the artifacts named by args, or scans the configured
// sources when args is empty
func collectArtifacts(cfg config.Config, args []string) ([]cycle.Artifact, error) {
	if len(args) == 0 {
		return cycle.NewScanner(cfg.Sources).Scan()
	}

	var paths []string
	seen := make(map[string]bool)
	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve %s", p)
		}
		if !seen[abs] {
			seen[abs] = true
			paths = append(paths, abs)
		}
		return nil
	}

	for _, arg := range args {
		pattern := expandHome(arg)
		if info, err := os.Stat(pattern); err == nil {
			if !info.IsDir() {
				if err := add(pattern); err != nil {
					return nil, err
				}
				continue
			}
			pattern = filepath.Join(pattern, "**", "*.{json,jsonl}")
		} else if !strings.ContainsAny(pattern, "*?[{") {
			return nil, errors.Wrapf(err, "failed to stat %s", arg)
		}

		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %s", arg)
		}
		for _, m := range matches {
			if err := add(m); err != nil {
				return nil, err
			}
		}
	}

	return cycle.ReadArtifacts(paths, nil)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func renderReport(w io.Writer, report *cycle.Report, format string) error {
	if format != "text" {
		return report.Render(w, format)
	}

	p := presenter.NewWithOptions(w, os.Stderr, presenter.ColorAuto)
	c := report.Counts

	title := "Ingestion run " + report.RunID
	if report.DryRun {
		title += " (dry run)"
	}
	p.Section(title)
	p.Table([]string{"ARTIFACTS", "PROCESSED", "DUPLICATES", "INVALID", "IDENTITY_ERRORS", "CORRUPT", "SKILLS_UPDATED"},
		[][]string{{
			strconv.Itoa(c.Artifacts), strconv.Itoa(c.Processed), strconv.Itoa(c.Duplicates),
			strconv.Itoa(c.Invalid), strconv.Itoa(c.IdentityErrors), strconv.Itoa(c.Corrupt),
			strconv.Itoa(c.SkillsUpdated),
		}})

	if len(report.Transitions) > 0 {
		fmt.Fprintln(w)
		p.Section("Transitions")
		rows := make([][]string, 0, len(report.Transitions))
		for _, t := range report.Transitions {
			rows = append(rows, []string{
				t.Skill, string(t.Kind),
				fmt.Sprintf("%s/%d", t.FromStatus, t.FromLevel),
				fmt.Sprintf("%s/%d", t.ToStatus, t.ToLevel),
				t.Reason,
			})
		}
		p.Table([]string{"SKILL", "KIND", "FROM", "TO", "REASON"}, rows)
	}

	if len(report.Flags) > 0 {
		fmt.Fprintln(w)
		p.Section("Review flags")
		rows := make([][]string, 0, len(report.Flags))
		for _, f := range report.Flags {
			rows = append(rows, []string{f.Skill, f.Trigger, string(f.Severity), f.Message})
		}
		p.Table([]string{"SKILL", "TRIGGER", "SEVERITY", "MESSAGE"}, rows)
	}

	for _, e := range report.Errors {
		p.Warning(e)
	}
	for _, f := range report.Audit.Critical {
		p.Error(errors.New(f.String()), "audit")
	}
	for _, f := range report.Audit.Warnings {
		p.Warning("audit: " + f.String())
	}

	fmt.Fprintln(w)
	switch report.ExitCode {
	case audit.ExitOK:
		p.Success("Cycle completed")
	case audit.ExitWarnings:
		p.Warning("Cycle completed with warnings")
	default:
		p.Error(errors.Errorf("exit code %d", report.ExitCode), "Cycle failed")
	}
	return nil
}
