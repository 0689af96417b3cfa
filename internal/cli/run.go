package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/pubsync/internal/config"
	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/projector"
	"github.com/roach88/pubsync/internal/remote"
	"github.com/roach88/pubsync/internal/remote/s3store"
)

const shutdownTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Remote overrides the S3 remote store (for testing).
	Remote remote.Store
	// OnReady is called once the projectors are started and the HTTP
	// server is listening (for testing).
	OnReady func(projectors []*projector.Projector, addr net.Addr)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	return newRunCommand(opts)
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync every configured entity and serve push notifications",
		Long: `Start one sync engine per configured entity. Each engine registers its
remote subscription, pulls records modified since its watermark and then
waits for push notifications.

Notifications are accepted on POST /notifications; Prometheus metrics are
served on GET /metrics.

Example:
  pubsync run --config ./pubsync.yaml
  pubsync run -c /etc/pubsync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	log := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	rs := opts.Remote
	if rs == nil {
		if rs, err = openRemote(ctx, cfg, log); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	projectors, err := buildProjectors(cfg, db, rs, log, metrics)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           newServeMux(projectors, reg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, len(projectors)+1)
	var wg sync.WaitGroup
	for _, p := range projectors {
		wg.Add(1)
		go func(p *projector.Projector) {
			defer wg.Done()
			if err := p.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", p.EntityName(), err)
			}
		}(p)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, p := range projectors {
		p.Start()
	}
	log.Info("pubsync started", "entities", len(projectors), "listen", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Syncing %d entities. Listening on %s\n", len(projectors), ln.Addr())

	if opts.OnReady != nil {
		opts.OnReady(projectors, ln.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("component failed; shutting down", "error", runErr)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	cancel()
	wg.Wait()

	if runErr != nil {
		return WrapExitError(ExitFailure, "sync stopped", runErr)
	}
	log.Info("pubsync stopped gracefully")
	return nil
}

func openRemote(ctx context.Context, cfg *config.Config, log *slog.Logger) (remote.Store, error) {
	rs, err := s3store.New(ctx, s3store.Config{
		Bucket:          cfg.Remote.Bucket,
		Region:          cfg.Remote.Region,
		Endpoint:        cfg.Remote.Endpoint,
		Prefix:          cfg.Remote.Prefix,
		AccessKeyID:     cfg.Remote.AccessKeyID,
		SecretAccessKey: cfg.Remote.SecretAccessKey,
		SessionToken:    cfg.Remote.SessionToken,
		PathStyle:       cfg.Remote.PathStyle,
		Logger:          log,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure remote store", err)
	}
	return rs, nil
}
