package main

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/history"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse the record of committed ingestion cycles",
	Long: `Browse the record of committed ingestion cycles kept in the run history
database (history_file, default history.db in the data directory). Dry runs
are never recorded.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
}

var historyShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show the full report of a run",
	Args:  cobra.ExactArgs(1),
}

var historySkillCmd = &cobra.Command{
	Use:   "skill NAME",
	Short: "Show every recorded transition of a skill",
	Args:  cobra.ExactArgs(1),
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than --days",
	Args:  cobra.NoArgs,
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	historyShowCmd.Flags().String("format", "yaml", "Output format (yaml, json)")
	historyPruneCmd.Flags().Int("days", 180, "Delete runs started more than this many days ago")

	historyCmd.AddCommand(
		withTracing(historyListCmd, runHistoryList),
		withTracing(historyShowCmd, runHistoryShow),
		withTracing(historySkillCmd, runHistorySkill),
		withTracing(historyPruneCmd, runHistoryPrune),
	)
	rootCmd.AddCommand(historyCmd)
}

// withHistory opens the history store for the duration of fn
func withHistory(cmd *cobra.Command, fn func(*history.Store) int) int {
	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	store, err := a.openHistory(cmd.Context())
	if err != nil {
		presenter.Error(err, "Failed to open run history")
		return audit.ExitCritical
	}
	if store == nil {
		presenter.Warning("run history is disabled (history_file is empty)")
		return audit.ExitWarnings
	}
	defer store.Close()
	return fn(store)
}

func runHistoryList(cmd *cobra.Command, _ []string) int {
	limit, _ := cmd.Flags().GetInt("limit")

	return withHistory(cmd, func(store *history.Store) int {
		runs, err := store.List(cmd.Context(), limit)
		if err != nil {
			presenter.Error(err, "Failed to list runs")
			return audit.ExitCritical
		}

		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.RunID,
				r.StartedAt.UTC().Format(time.RFC3339),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
				strconv.Itoa(r.Processed),
				strconv.Itoa(r.Duplicates),
				strconv.Itoa(r.Invalid + r.IdentityErrors),
				strconv.Itoa(r.Corrupt),
				strconv.Itoa(r.SkillsUpdated),
				strconv.Itoa(r.ExitCode),
			})
		}
		presenter.Table([]string{"RUN_ID", "STARTED_AT", "DURATION", "PROCESSED", "DUPLICATES", "REJECTED", "CORRUPT", "UPDATED", "EXIT"}, rows)
		return audit.ExitOK
	})
}

func runHistoryShow(cmd *cobra.Command, args []string) int {
	format, _ := cmd.Flags().GetString("format")

	return withHistory(cmd, func(store *history.Store) int {
		report, err := store.Get(cmd.Context(), args[0])
		if errors.Is(err, history.ErrRunNotFound) {
			presenter.Warning(err.Error())
			return audit.ExitWarnings
		}
		if err != nil {
			presenter.Error(err, "Failed to load run")
			return audit.ExitCritical
		}
		if err := report.Render(cmd.OutOrStdout(), format); err != nil {
			presenter.Error(err, "Failed to render report")
			return audit.ExitCritical
		}
		return audit.ExitOK
	})
}

func runHistorySkill(cmd *cobra.Command, args []string) int {
	return withHistory(cmd, func(store *history.Store) int {
		transitions, err := store.Transitions(cmd.Context(), args[0])
		if err != nil {
			presenter.Error(err, "Failed to load transitions")
			return audit.ExitCritical
		}

		rows := make([][]string, 0, len(transitions))
		for _, t := range transitions {
			rows = append(rows, []string{
				t.At.UTC().Format(time.RFC3339),
				t.RunID,
				string(t.Kind),
				string(t.FromStatus) + "/" + strconv.Itoa(t.FromLevel),
				string(t.ToStatus) + "/" + strconv.Itoa(t.ToLevel),
				t.Reason,
			})
		}
		presenter.Table([]string{"AT", "RUN_ID", "KIND", "FROM", "TO", "REASON"}, rows)
		return audit.ExitOK
	})
}

func runHistoryPrune(cmd *cobra.Command, _ []string) int {
	days, _ := cmd.Flags().GetInt("days")
	if days < 0 {
		presenter.Error(errors.Errorf("--days must not be negative, got %d", days), "Invalid flags")
		return audit.ExitWarnings
	}

	return withHistory(cmd, func(store *history.Store) int {
		removed, err := store.Prune(cmd.Context(), time.Now().AddDate(0, 0, -days))
		if err != nil {
			presenter.Error(err, "Failed to prune run history")
			return audit.ExitCritical
		}
		presenter.Success("removed " + strconv.FormatInt(removed, 10) + " runs")
		return audit.ExitOK
	})
}
