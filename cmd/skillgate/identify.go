package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/identity"
	"github.com/jingkaihe/skillgate/pkg/ledger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/transcript"
)

var identifyCmd = &cobra.Command{
	Use:   "identify FILE...",
	Short: "Resolve the session id of artifacts",
	Long: `Resolve the content-stable session id of each artifact and report whether the
ingestion ledger already holds it. Copies of one session resolve to the same id.`,
	Args: cobra.MinimumNArgs(1),
}

func init() {
	rootCmd.AddCommand(withTracing(identifyCmd, runIdentify))
}

func runIdentify(cmd *cobra.Command, args []string) int {
	ctx := cmd.Context()

	var processed *ledger.Ledger
	if a, err := loadApp(); err == nil {
		if l, err := a.ledger.Load(ctx); err == nil {
			processed = l
		} else {
			presenter.Warning("ledger unavailable: " + err.Error())
		}
	}

	code := audit.ExitOK
	rows := make([][]string, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			presenter.Error(err, "Failed to read "+path)
			code = audit.ExitWarnings
			continue
		}
		format, err := transcript.Detect(data)
		if err != nil {
			presenter.Error(err, path)
			code = audit.ExitWarnings
			continue
		}
		id, err := identity.Resolve(data)
		if err != nil {
			presenter.Error(err, path)
			code = audit.ExitWarnings
			continue
		}

		status := "new"
		if processed != nil {
			if e, ok := processed.Get(id.SessionID); ok {
				status = string(e.Status)
			}
		}
		rows = append(rows, []string{path, string(format), id.SessionID, string(id.Source), id.Agent, strconv.FormatBool(id.Derived), status})
	}

	presenter.Table([]string{"FILE", "FORMAT", "SESSION_ID", "SOURCE", "AGENT", "DERIVED", "LEDGER"}, rows)
	return code
}
