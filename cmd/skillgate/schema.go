package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the session envelope",
	Long:  `Print the JSON Schema of the structured session envelope contract accepted by ingest.`,
	Args:  cobra.NoArgs,
}

func init() {
	rootCmd.AddCommand(withTracing(schemaCmd, runSchema))
}

func runSchema(cmd *cobra.Command, _ []string) int {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope.Schema()); err != nil {
		presenter.Error(err, "Failed to encode schema")
		return audit.ExitCritical
	}
	return audit.ExitOK
}
