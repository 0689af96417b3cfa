package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/notify"
	"github.com/roach88/pubsync/internal/projector"
	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
	"github.com/roach88/pubsync/internal/remote/memory"
	"github.com/roach88/pubsync/internal/settings"
	"github.com/roach88/pubsync/internal/store"
	"github.com/roach88/pubsync/internal/testutil"
)

// DefaultSettleTimeout bounds how long a step may take to go idle.
const DefaultSettleTimeout = 5 * time.Second

// Harness executes one scenario against a projector wired to in-memory
// stores and a fake clock.
type Harness struct {
	scenario *Scenario
	local    *store.Memory
	settings settings.Store
	remote   *memory.Store
	clock    *testutil.FakeClock
	logger   *slog.Logger
	settle   time.Duration

	proj   *projector.Projector
	stop   func()
	traced int // remote calls already copied into the trace
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes engine and projector logs to l. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithSettleTimeout overrides DefaultSettleTimeout.
func WithSettleTimeout(d time.Duration) Option {
	return func(h *Harness) { h.settle = d }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh stores. The flow runs step by step and
// every step waits for the engine to go idle before the next one, so the
// trace is deterministic. Timers only fire on advance steps.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &Harness{
		scenario: scenario,
		local:    store.NewMemory(scenario.Entity),
		settings: settings.NewMemory(),
		remote:   memory.New(),
		clock:    testutil.NewFakeClock(DefaultStart),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		settle:   DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}

	for _, r := range scenario.Remote {
		h.remote.Put(r.Record(scenario.Entity, DefaultStart))
	}

	if err := h.boot(ctx); err != nil {
		return nil, err
	}
	defer func() { h.stop() }()

	result := NewResult(DefaultStart)
	for i, step := range scenario.Flow {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Action, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// boot builds a projector over the harness stores and starts its engine.
func (h *Harness) boot(ctx context.Context) error {
	cfg := projector.Config{
		EntityName:       h.scenario.Entity,
		PageSize:         h.scenario.PageSize,
		MaxRetryAttempts: h.scenario.MaxRetryAttempts,
	}
	p, err := projector.New(h.local, h.settings, h.remote, cfg,
		projector.WithLogger(h.logger),
		projector.WithEngineOptions(engine.WithClock(h.clock)),
	)
	if err != nil {
		return fmt.Errorf("failed to build projector: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(runCtx)
	}()
	h.proj = p
	h.stop = func() {
		cancel()
		<-done
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	switch step.Action {
	case ActionStart:
		result.addStep(step.Action, "")
		h.proj.Start()

	case ActionAdvance:
		result.addStep(step.Action, step.By.String())
		h.clock.Advance(step.By)

	case ActionPut:
		result.addStep(step.Action, step.Record.ID)
		h.remote.Put(step.Record.Record(h.scenario.Entity, DefaultStart))

	case ActionRemove:
		result.addStep(step.Action, step.ID)
		h.remote.Remove(step.ID)

	case ActionNotify:
		result.addStep(step.Action, step.Kind+" "+step.ID)
		payload, err := notify.Encode(notify.Notification{
			SubscriptionID: h.proj.Engine().SubscriptionID(),
			RecordType:     h.scenario.RecordType(),
			Kind:           remote.EventKind(step.Kind),
			RecordID:       step.ID,
		})
		if err != nil {
			return err
		}
		if !h.proj.ProcessNotification(payload) {
			return errors.New("notification rejected")
		}

	case ActionFail:
		result.addStep(step.Action, step.Op)
		errs := make([]error, step.Times)
		for i := range errs {
			cause := fmt.Errorf("scripted failure %d", i+1)
			if step.RetryAfter > 0 {
				errs[i] = remote.Retry(step.Op, step.RetryAfter, cause)
			} else {
				errs[i] = remote.Fatal(step.Op, cause)
			}
		}
		h.remote.FailNext(step.Op, errs...)

	case ActionRestart:
		result.addStep(step.Action, "")
		if err := h.waitIdle(ctx); err != nil {
			return err
		}
		h.stop()
		if err := h.boot(ctx); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	if err := h.waitIdle(ctx); err != nil {
		return err
	}
	h.traceCalls(result)
	return nil
}

func (h *Harness) waitIdle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.settle)
	defer cancel()
	if err := h.proj.Engine().WaitIdle(ctx); err != nil {
		return fmt.Errorf("engine did not settle: %w", err)
	}
	return nil
}

// traceCalls appends the remote calls made since the last step.
func (h *Harness) traceCalls(result *Result) {
	calls := h.remote.Calls()
	for _, c := range calls[h.traced:] {
		result.addCall(c.Op, c.Arg)
	}
	h.traced = len(calls)
}

// collect copies the final local rows, watermark and status into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	rows := h.local.All()
	slices.SortFunc(rows, func(a, b record.Entity) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	result.Rows = rows

	wm, err := h.proj.Engine().Watermark(ctx)
	if err != nil {
		return err
	}
	result.Watermark = wm
	result.Status = h.proj.Engine().Status()
	return nil
}
