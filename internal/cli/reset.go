package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pubsync/internal/settings"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget sync state so the next run resubscribes and resyncs",
		Long: `Delete the subscription flag, subscription ID and watermark of each
configured entity (or just --entity). The next run registers a new
subscription and pulls every record from the beginning. Local rows are kept
and are replaced as records arrive again.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(rootOpts, entity, cmd)
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "only reset this entity")
	return cmd
}

type resetResult struct {
	Reset []string `json:"reset"`
}

func (r resetResult) String() string {
	return fmt.Sprintf("reset sync state for %d entities: %v", len(r.Reset), r.Reset)
}

func runReset(opts *RootOptions, entity string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	entities, err := selectEntities(cfg, entity)
	if err != nil {
		_ = out.Error(ErrCodeUnknownEntity, err.Error(), nil)
		return err
	}

	ctx := cmd.Context()
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		_ = out.Error(ErrCodeDatabase, err.Error(), nil)
		return err
	}
	defer db.Close()
	ss := settings.NewSQL(db)

	var res resetResult
	for _, e := range entities {
		if err := settings.Reset(ctx, ss, scopeFor(cfg, e)); err != nil {
			return WrapExitError(ExitFailure, "reset "+e.Name, err)
		}
		res.Reset = append(res.Reset, e.Name)
	}
	return out.Success(res)
}
