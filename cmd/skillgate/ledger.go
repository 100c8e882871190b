package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/ledger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and repair the ingestion ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed sessions",
	Args:  cobra.NoArgs,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one ledger entry",
	Args:  cobra.ExactArgs(1),
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the ledger for corruption and errored sessions",
	Long: `Check the ledger for corruption and errored sessions.

Exit codes: 0 clean, 1 issues found, 2 the ledger cannot be loaded.`,
	Args: cobra.NoArgs,
}

var ledgerDedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Collapse duplicate session ids in a legacy ledger",
	Long: `Collapse duplicate session ids, keeping the latest entry of each id.
Ingestion refuses to run on a ledger with duplicate ids; this repairs it.`,
	Args: cobra.NoArgs,
}

func init() {
	ledgerListCmd.Flags().String("status", "", "Only list entries with this status (ok, error)")
	ledgerShowCmd.Flags().String("format", "yaml", "Output format (yaml, json)")

	ledgerCmd.AddCommand(
		withTracing(ledgerListCmd, runLedgerList),
		withTracing(ledgerShowCmd, runLedgerShow),
		withTracing(ledgerVerifyCmd, runLedgerVerify),
		withTracing(ledgerDedupeCmd, runLedgerDedupe),
	)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerList(cmd *cobra.Command, _ []string) int {
	status, _ := cmd.Flags().GetString("status")

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	entries, err := a.ledger.LoadEntries(cmd.Context())
	if err != nil {
		presenter.Error(err, "Failed to read ledger")
		return audit.ExitCritical
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		if status != "" && string(e.Status) != status {
			continue
		}
		rows = append(rows, []string{
			e.SessionID,
			string(e.Source),
			e.IngestedAt.UTC().Format("2006-01-02T15:04:05Z"),
			string(e.Status),
			strings.Join(e.Skills, ","),
		})
	}

	presenter.Table([]string{"SESSION_ID", "SOURCE", "INGESTED_AT", "STATUS", "SKILLS"}, rows)
	presenter.Info(strconv.Itoa(len(rows)) + " entries")
	return audit.ExitOK
}

func runLedgerShow(cmd *cobra.Command, args []string) int {
	format, _ := cmd.Flags().GetString("format")

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	entries, err := a.ledger.LoadEntries(cmd.Context())
	if err != nil {
		presenter.Error(err, "Failed to read ledger")
		return audit.ExitCritical
	}

	var matches []ledger.Entry
	for _, e := range entries {
		if e.SessionID == args[0] {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		presenter.Warning("session " + args[0] + " has not been ingested")
		return audit.ExitWarnings
	}

	var out interface{} = matches[0]
	if len(matches) > 1 {
		presenter.Warning("session " + args[0] + " has " + strconv.Itoa(len(matches)) + " entries; run `skillgate ledger dedupe`")
		out = matches
	}
	if err := printStructured(cmd.OutOrStdout(), out, format); err != nil {
		presenter.Error(err, "Failed to print entry")
		return audit.ExitCritical
	}
	return audit.ExitOK
}

func runLedgerVerify(cmd *cobra.Command, _ []string) int {
	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	l, err := a.ledger.Load(cmd.Context())
	if err != nil {
		presenter.Error(err, "Ledger cannot be loaded")
		return audit.ExitCritical
	}

	issues := l.Verify(nowFrom(nil))
	if len(issues) == 0 {
		presenter.Success("ledger is consistent (" + strconv.Itoa(l.Len()) + " entries)")
		return audit.ExitOK
	}
	for _, issue := range issues {
		presenter.Warning(issue.String())
	}
	return audit.ExitWarnings
}

func runLedgerDedupe(cmd *cobra.Command, _ []string) int {
	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}

	var removed int
	err = a.withLock(cmd.Context(), func(ctx context.Context) error {
		removed, err = a.ledger.Dedupe(ctx)
		return err
	})
	if err != nil {
		presenter.Error(err, "Failed to dedupe ledger")
		return audit.ExitCritical
	}

	if removed == 0 {
		presenter.Success("no duplicate entries")
	} else {
		presenter.Success("removed " + strconv.Itoa(removed) + " duplicate entries")
	}
	return audit.ExitOK
}
