package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/settings"
	"github.com/roach88/pubsync/internal/store/sqlstore"
)

// EntityStatus is the persisted sync state of one entity.
type EntityStatus struct {
	Entity     string           `json:"entity"`
	RecordType string           `json:"record_type"`
	State      engine.SyncState `json:"state"`
	Rows       int              `json:"rows"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	StoreIdentity string         `json:"store_identity"`
	Entities      []EntityStatus `json:"entities"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store %s\n", r.StoreIdentity)
	for _, e := range r.Entities {
		sub := "none"
		if e.State.SubscriptionCreated {
			sub = e.State.SubscriptionID
		}
		wm := "never"
		if e.State.Watermark.After(engine.Epoch) {
			wm = e.State.Watermark.Format(time.RFC3339Nano)
		}
		fmt.Fprintf(&b, "  %-16s %-20s rows=%-6d watermark=%s subscription=%s\n",
			e.Entity, e.RecordType, e.Rows, wm, sub)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync state of each entity",
		Long: `Print, for each configured entity, whether its remote subscription is
registered, its modification-date watermark and its local row count.

Example:
  pubsync status --config ./pubsync.yaml
  pubsync status --entity Note --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, entity, cmd)
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "only report this entity")
	return cmd
}

func runStatus(opts *RootOptions, entity string, cmd *cobra.Command) error {
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

	report := StatusReport{StoreIdentity: cfg.StoreIdentity}
	for _, e := range entities {
		state, err := engine.ReadState(ctx, ss, scopeFor(cfg, e))
		if err != nil {
			return WrapExitError(ExitFailure, "read sync state for "+e.Name, err)
		}
		rows, err := sqlstore.New(db, e.Name).Count(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "count rows for "+e.Name, err)
		}
		report.Entities = append(report.Entities, EntityStatus{
			Entity:     e.Name,
			RecordType: e.RecordType,
			State:      state,
			Rows:       rows,
		})
	}
	return out.Success(report)
}
