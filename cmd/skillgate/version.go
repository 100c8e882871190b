package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of skillgate in JSON format.`,
	Args:  cobra.NoArgs,
}

func init() {
	rootCmd.AddCommand(withTracing(versionCmd, func(cmd *cobra.Command, _ []string) int {
		out, err := version.Get().JSON()
		if err != nil {
			presenter.Error(err, "Failed to format version info")
			return audit.ExitWarnings
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return audit.ExitOK
	}))
}
