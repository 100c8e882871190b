package main

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Audit the skill store and the ingestion ledger",
	Long: `Audit the skill store and the ingestion ledger without ingesting anything.

Exit codes: 0 clean, 1 warnings, 2 critical findings or unreadable stores.`,
	Args: cobra.NoArgs,
}

func init() {
	verifyCmd.Flags().String("now", "", "Audit as of this RFC3339 time instead of the wall clock")
	rootCmd.AddCommand(withTracing(verifyCmd, runVerify))
}

func runVerify(cmd *cobra.Command, _ []string) int {
	ctx := cmd.Context()

	raw, _ := cmd.Flags().GetString("now")
	clock, err := parseNow(raw)
	if err != nil {
		presenter.Error(err, "")
		return audit.ExitCritical
	}
	now := nowFrom(clock)

	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	l, err := a.ledger.Load(ctx)
	if err != nil {
		presenter.Error(err, "Ledger cannot be loaded")
		return audit.ExitCritical
	}
	set, err := a.skills.Load(ctx)
	if err != nil {
		presenter.Error(err, "Skill store cannot be loaded")
		return audit.ExitCritical
	}

	// ledger entries are checked by Verify, which covers errored sessions too
	res := audit.Run(set, nil, a.cfg.Policy, now, audit.Options{})
	for _, f := range res.Critical {
		presenter.Error(errors.New(f.String()), "critical")
	}
	for _, f := range res.Warnings {
		presenter.Warning(f.String())
	}
	issues := l.Verify(now)
	for _, issue := range issues {
		presenter.Warning("ledger " + issue.String())
	}

	code := res.ExitCode()
	if code == audit.ExitOK && len(issues) > 0 {
		code = audit.ExitWarnings
	}
	if code == audit.ExitOK {
		presenter.Success(strconv.Itoa(len(set)) + " skills and " + strconv.Itoa(l.Len()) + " ledger entries verified")
	}
	return code
}
