package cli

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"

	"github.com/roach88/pubsync/internal/config"
	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/projector"
	"github.com/roach88/pubsync/internal/remote"
	"github.com/roach88/pubsync/internal/settings"
	"github.com/roach88/pubsync/internal/sqldb"
	"github.com/roach88/pubsync/internal/store/sqlstore"
)

// loadConfig loads the config file named by the root flags. A missing file
// is a command error; an invalid one is a failure.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, WrapExitError(ExitCommandError, "config not found", err)
	}
	return nil, WrapExitError(ExitFailure, "invalid config", err)
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sqldb.DB, error) {
	db, err := sqldb.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return db, nil
}

// selectEntities returns every configured entity, or only the named one.
func selectEntities(cfg *config.Config, name string) ([]config.EntityConfig, error) {
	if name == "" {
		return cfg.Entities, nil
	}
	e, ok := cfg.Entity(name)
	if !ok {
		return nil, NewExitError(ExitCommandError, "unknown entity "+name)
	}
	return []config.EntityConfig{e}, nil
}

func scopeFor(cfg *config.Config, e config.EntityConfig) settings.Scope {
	return settings.Scope{Identity: cfg.StoreIdentity, RecordType: e.RecordType}
}

// buildProjectors creates one projector per configured entity, all sharing
// db, the remote store and the metrics.
func buildProjectors(cfg *config.Config, db *sqldb.DB, rs remote.Store, log *slog.Logger, m *engine.Metrics) ([]*projector.Projector, error) {
	ss := settings.NewSQL(db)
	out := make([]*projector.Projector, 0, len(cfg.Entities))
	for _, e := range cfg.Entities {
		p, err := projector.New(sqlstore.New(db, e.Name), ss, rs, cfg.ProjectorConfig(e),
			projector.WithLogger(log),
			projector.WithEngineOptions(engine.WithMetrics(m)),
		)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "failed to build projector", err)
		}
		out = append(out, p)
	}
	return out, nil
}
