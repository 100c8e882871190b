package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/presenter"
)

var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "Ingest agent sessions once and gate skill levels on temporal evidence",
	Long: `skillgate ingests CLI agent session transcripts exactly once, folds them into
per-skill evidence and moves skills between levels and statuses only when
time-sensitive evidence thresholds are met.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var shutdownTracing = func(context.Context) error { return nil }

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default $HOME/.skillgate/config.yaml, then ./config.yaml)")
	flags.String("data-dir", "", "Directory holding the ledger, the skill store and the run lock (default ~/.skillgate)")
	flags.String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.Int("workers", 4, "Number of concurrent skill evaluations")

	viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("workers", flags.Lookup("workers"))
}

func setup(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	if err := config.Init(viper.GetViper(), cfgFile); err != nil {
		return err
	}
	if err := logger.Configure(viper.GetString("log_level"), viper.GetString("log_format")); err != nil {
		return err
	}

	shutdown, err := initTracing(cmd.Context())
	if err != nil {
		logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing")
		return nil
	}
	shutdownTracing = shutdown
	return nil
}

// exit flushes traces and terminates with code
func exit(code int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		logger.G(ctx).WithError(err).Debug("failed to flush traces")
	}
	os.Exit(code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		presenter.Error(err, "")
		exit(audit.ExitCritical)
	}
	exit(audit.ExitOK)
}
