package main

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/skills"
	skilltypes "github.com/jingkaihe/skillgate/pkg/types/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect and adjust skill records",
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skill records",
	Args:  cobra.NoArgs,
}

var skillShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one skill record",
	Args:  cobra.ExactArgs(1),
}

var skillOverrideCmd = &cobra.Command{
	Use:   "override NAME STATUS",
	Short: "Request a status for a skill",
	Long: `Request a status (active, historical or dormant) for a skill. The override
is applied and cleared by the next ingestion cycle, and is recorded in the
skill history with a status_override review flag.`,
	Args: cobra.ExactArgs(2),
}

var skillConfirmCmd = &cobra.Command{
	Use:   "confirm NAME",
	Short: "Mark the outcomes of a skill as validated by a human",
	Long: `Mark the outcomes of a skill as validated by a human. Validated outcomes
raise confidence and allow promotion from level 2.`,
	Args: cobra.ExactArgs(1),
}

var skillCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the skills discovered from SKILL.md files",
	Args:  cobra.NoArgs,
}

func init() {
	skillListCmd.Flags().String("status", "", "Only list skills with this status")
	skillShowCmd.Flags().String("format", "yaml", "Output format (yaml, json)")

	skillCmd.AddCommand(
		withTracing(skillListCmd, runSkillList),
		withTracing(skillShowCmd, runSkillShow),
		withTracing(skillOverrideCmd, runSkillOverride),
		withTracing(skillConfirmCmd, runSkillConfirm),
		withTracing(skillCatalogCmd, runSkillCatalog),
	)
	rootCmd.AddCommand(skillCmd)
}

func runSkillList(cmd *cobra.Command, _ []string) int {
	status, _ := cmd.Flags().GetString("status")

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
		rec := set[name]
		if status != "" && string(rec.Status) != status {
			continue
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(rec.CurrentLevel),
			strconv.Itoa(rec.HighWaterLevel),
			string(rec.Status),
			strconv.Itoa(rec.Temporal.SessionCount),
			string(rec.Temporal.Trend),
			strconv.Itoa(rec.Confidence.ConfidenceScore),
			strconv.Itoa(len(rec.UnresolvedFlags())),
		})
	}

	presenter.Table([]string{"NAME", "LEVEL", "HIGH_WATER", "STATUS", "SESSIONS", "TREND", "CONFIDENCE", "FLAGS"}, rows)
	return audit.ExitOK
}

func runSkillShow(cmd *cobra.Command, args []string) int {
	format, _ := cmd.Flags().GetString("format")

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

	rec, ok := set[args[0]]
	if !ok {
		presenter.Warning("skill " + args[0] + " not found")
		return audit.ExitWarnings
	}
	if err := printStructured(cmd.OutOrStdout(), rec, format); err != nil {
		presenter.Error(err, "Failed to print skill")
		return audit.ExitCritical
	}
	return audit.ExitOK
}

func runSkillOverride(cmd *cobra.Command, args []string) int {
	name, status := args[0], skilltypes.Status(args[1])
	if !status.Valid() {
		presenter.Error(errors.Errorf("unknown status %q", status), "Invalid override")
		return audit.ExitWarnings
	}

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	err = a.updateSkill(cmd.Context(), name, func(rec *skilltypes.Record) error {
		rec.StatusOverride = status
		return nil
	})
	if err != nil {
		presenter.Error(err, "Failed to override "+name)
		return audit.ExitCritical
	}

	presenter.Success(name + " will be set to " + string(status) + " by the next ingestion cycle")
	return audit.ExitOK
}

func runSkillConfirm(cmd *cobra.Command, args []string) int {
	name := args[0]

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	err = a.updateSkill(cmd.Context(), name, func(rec *skilltypes.Record) error {
		rec.OutcomeValidation = skilltypes.OutcomeValidated
		return nil
	})
	if err != nil {
		presenter.Error(err, "Failed to confirm "+name)
		return audit.ExitCritical
	}

	presenter.Success("outcomes of " + name + " marked as " + skilltypes.OutcomeValidated)
	return audit.ExitOK
}

func runSkillCatalog(cmd *cobra.Command, _ []string) int {
	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	attributor, catalog, err := skills.Initialize(cmd.Context(), a.cfg.Skills)
	if err != nil {
		presenter.Error(err, "Failed to discover skills")
		return audit.ExitCritical
	}

	// keyword-only skills come from the skills.keywords configuration
	names := attributor.Known()
	for name := range catalog {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		origin, description, keywords := "config", "", ""
		if s, ok := catalog[name]; ok {
			origin, description, keywords = s.Directory, s.Description, strings.Join(s.Keywords, ",")
		}
		rows = append(rows, []string{
			name,
			strconv.FormatBool(attributor.Allowed(name)),
			keywords,
			origin,
			description,
		})
	}
	presenter.Table([]string{"NAME", "ALLOWED", "KEYWORDS", "ORIGIN", "DESCRIPTION"}, rows)
	return audit.ExitOK
}
