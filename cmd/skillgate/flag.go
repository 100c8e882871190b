package main

import (
	"os/user"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/review"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

// FlagConfig holds the flags of the flag subcommands
type FlagConfig struct {
	Skill      string
	All        bool
	Severity   string
	Message    string
	Resolution string
	By         string
}

// NewFlagConfig returns the flag defaults
func NewFlagConfig() *FlagConfig {
	return &FlagConfig{
		Severity: string(skilltypes.SeverityMedium),
	}
}

var flagCmd = &cobra.Command{
	Use:   "flag",
	Short: "Manage review flags on skills",
}

var flagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open review flags",
	Args:  cobra.NoArgs,
}

var flagAddCmd = &cobra.Command{
	Use:   "add SKILL TRIGGER",
	Short: "Raise a review flag on a skill",
	Long: `Raise a review flag on a skill. Nothing is added when an open flag with the
same trigger already exists.`,
	Args: cobra.ExactArgs(2),
}

var flagResolveCmd = &cobra.Command{
	Use:   "resolve SKILL TRIGGER",
	Short: "Resolve the open review flag with TRIGGER",
	Args:  cobra.ExactArgs(2),
}

func init() {
	defaults := NewFlagConfig()
	flagListCmd.Flags().String("skill", defaults.Skill, "Only list flags of this skill")
	flagListCmd.Flags().Bool("all", defaults.All, "Include resolved flags")
	flagAddCmd.Flags().String("severity", defaults.Severity, "Flag severity (low, medium, high)")
	flagAddCmd.Flags().String("message", defaults.Message, "Flag message")
	flagResolveCmd.Flags().String("resolution", defaults.Resolution, "How the flag was resolved")
	flagResolveCmd.Flags().String("by", defaults.By, "Who resolved the flag (defaults to the current user)")
	_ = flagResolveCmd.MarkFlagRequired("resolution")

	flagCmd.AddCommand(
		withTracing(flagListCmd, runFlagList),
		withTracing(flagAddCmd, runFlagAdd),
		withTracing(flagResolveCmd, runFlagResolve),
	)
	rootCmd.AddCommand(flagCmd)
}

func getFlagConfigFromFlags(cmd *cobra.Command) *FlagConfig {
	config := NewFlagConfig()
	if v, err := cmd.Flags().GetString("skill"); err == nil {
		config.Skill = v
	}
	if v, err := cmd.Flags().GetBool("all"); err == nil {
		config.All = v
	}
	if v, err := cmd.Flags().GetString("severity"); err == nil {
		config.Severity = v
	}
	if v, err := cmd.Flags().GetString("message"); err == nil {
		config.Message = v
	}
	if v, err := cmd.Flags().GetString("resolution"); err == nil {
		config.Resolution = v
	}
	if v, err := cmd.Flags().GetString("by"); err == nil {
		config.By = v
	}
	return config
}

func runFlagList(cmd *cobra.Command, _ []string) int {
	config := getFlagConfigFromFlags(cmd)

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	set, err := a.skills.Load(cmd.Context())
	if err != nil {
		presenter.Error(err, "Failed to load skill store")
		return audit.ExitCritical
	}

	var rows [][]string
	for _, name := range set.Names() {
		if config.Skill != "" && name != config.Skill {
			continue
		}
		rec := set[name]
		flags := review.NewManager(rec).ListUnresolved()
		if config.All {
			flags = rec.ReviewFlags
		}
		for _, f := range flags {
			resolved := ""
			if f.IsResolved() {
				resolved = f.Resolved.Format(time.DateOnly)
			}
			rows = append(rows, []string{name, f.Trigger, string(f.Severity), f.Added.Format(time.DateOnly), resolved, f.Message})
		}
	}

	presenter.Table([]string{"SKILL", "TRIGGER", "SEVERITY", "ADDED", "RESOLVED", "MESSAGE"}, rows)
	return audit.ExitOK
}

func runFlagAdd(cmd *cobra.Command, args []string) int {
	config := getFlagConfigFromFlags(cmd)
	name, trigger := args[0], args[1]

	severity := skilltypes.Severity(config.Severity)
	switch severity {
	case skilltypes.SeverityLow, skilltypes.SeverityMedium, skilltypes.SeverityHigh:
	default:
		presenter.Error(errors.Errorf("unknown severity %q", config.Severity), "Invalid flag")
		return audit.ExitWarnings
	}

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}

	added := false
	err = a.updateSkill(cmd.Context(), name, func(rec *skilltypes.Record) error {
		added = review.NewManager(rec).AddFlag(skilltypes.ReviewFlag{
			Trigger:  trigger,
			Severity: severity,
			Message:  config.Message,
			Added:    time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		presenter.Error(err, "Failed to add flag")
		return audit.ExitCritical
	}

	if !added {
		presenter.Warning(name + " already has an open " + trigger + " flag")
		return audit.ExitOK
	}
	presenter.Success("added " + trigger + " flag to " + name)
	return audit.ExitOK
}

func runFlagResolve(cmd *cobra.Command, args []string) int {
	config := getFlagConfigFromFlags(cmd)
	name, trigger := args[0], args[1]

	by := config.By
	if by == "" {
		if u, err := user.Current(); err == nil {
			by = u.Username
		}
	}

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	err = a.updateSkill(cmd.Context(), name, func(rec *skilltypes.Record) error {
		return review.NewManager(rec).ResolveFlag(trigger, config.Resolution, by, time.Now())
	})
	switch {
	case errors.Is(err, review.ErrFlagNotFound), errors.Is(err, review.ErrAlreadyResolved):
		presenter.Warning(err.Error())
		return audit.ExitWarnings
	case err != nil:
		presenter.Error(err, "Failed to resolve flag")
		return audit.ExitCritical
	}

	presenter.Success("resolved " + trigger + " flag on " + name)
	return audit.ExitOK
}
