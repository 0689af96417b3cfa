package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/pubsync/internal/config"
)

// ValidationResult is the output of the validate command.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Entities int            `json:"entities,omitempty"`
	Issues   []config.Issue `json:"issues,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return "config OK"
	}
	return "config invalid"
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without starting anything",
		Long: `Decode the config file, apply defaults and check it against the schema.
Every problem is reported, not just the first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := loadConfig(opts)
	if err == nil {
		return out.Success(ValidationResult{Valid: true, Entities: len(cfg.Entities)})
	}

	var ve *config.ValidationError
	if errors.As(err, &ve) {
		lines := make([]string, len(ve.Issues))
		for i, is := range ve.Issues {
			lines[i] = is.String()
		}
		if opts.Format == "json" {
			_ = out.Error(ErrCodeConfigInvalid, "config invalid", ve.Issues)
		} else {
			_ = out.Error(ErrCodeConfigInvalid, "config invalid", lines)
		}
		return err
	}

	code := ErrCodeConfigInvalid
	if GetExitCode(err) == ExitCommandError {
		code = ErrCodeConfigMissing
	}
	_ = out.Error(code, err.Error(), nil)
	return err
}
