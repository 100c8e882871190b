package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/cycle"
	"github.com/jingkaihe/skillgate/pkg/envelope"
	"github.com/jingkaihe/skillgate/pkg/identity"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/transcript"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Check artifacts against the session envelope contract",
	Long: `Validate each artifact the way an ingestion cycle would, without touching the
ledger or the skill store. Hard requirement failures reject the artifact;
soft requirement misses are printed as warnings.`,
	Args: cobra.MinimumNArgs(1),
}

func init() {
	rootCmd.AddCommand(withTracing(validateCmd, runValidate))
}

func runValidate(_ *cobra.Command, args []string) int {
	a, err := loadApp()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		return audit.ExitCritical
	}
	validator := envelope.NewValidator(a.cfg.Envelope.Version)

	code := audit.ExitOK
	for _, path := range args {
		valid, messages, err := validateFile(validator, path)
		if err != nil {
			presenter.Error(err, path)
			code = audit.ExitWarnings
			continue
		}
		if !valid {
			presenter.Error(errors.New(messages[0]), path+" rejected")
			code = audit.ExitWarnings
			continue
		}
		presenter.Success(path + " is valid")
		for _, w := range messages {
			presenter.Warning("  " + w)
		}
	}
	return code
}

func validateFile(validator *envelope.Validator, path string) (bool, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, nil, err
	}
	t, err := transcript.Decode(data)
	if err != nil {
		return false, nil, err
	}
	id, err := identity.FromTranscript(t)
	if err != nil {
		return false, nil, err
	}

	env := cycle.Prepare(t, id, path, validator.ExpectedVersion())
	valid, messages := validator.Validate(&env)
	return valid, messages, nil
}
