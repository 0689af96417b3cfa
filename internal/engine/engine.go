package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/pubsync/internal/notify"
	"github.com/roach88/pubsync/internal/remote"
	"github.com/roach88/pubsync/internal/settings"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultWatermarkSeedDelay = 3 * time.Second
	DefaultMaxRetryAttempts   = 8
	DefaultPredicate          = "TRUEPREDICATE"
	DefaultDesiredKey         = "CD_id"
	DefaultStoreIdentity      = "default"
)

// Config configures one engine. RecordType is required.
type Config struct {
	// StoreIdentity namespaces sync state for one local store.
	StoreIdentity string
	// RecordType is the remote record type this engine mirrors.
	RecordType string
	// Subscription describes the standing query registered remotely.
	Subscription SubscriptionConfig
	// PageSize is the query page size. Zero asks for the server maximum.
	PageSize int
	// WatermarkSeedDelay is how long Batch.SeedWatermark waits before
	// advancing the watermark.
	WatermarkSeedDelay time.Duration
	// MaxRetryAttempts bounds the retries of one operation chain.
	MaxRetryAttempts int
}

// SubscriptionConfig is the client side of a remote.SubscriptionSpec.
type SubscriptionConfig struct {
	Predicate   string
	FiresOn     []remote.EventKind
	DesiredKeys []string
}

func (c Config) withDefaults() Config {
	if c.StoreIdentity == "" {
		c.StoreIdentity = DefaultStoreIdentity
	}
	if c.Subscription.Predicate == "" {
		c.Subscription.Predicate = DefaultPredicate
	}
	if len(c.Subscription.FiresOn) == 0 {
		c.Subscription.FiresOn = remote.AllEvents
	}
	if len(c.Subscription.DesiredKeys) == 0 {
		c.Subscription.DesiredKeys = []string{DefaultDesiredKey}
	}
	if c.WatermarkSeedDelay == 0 {
		c.WatermarkSeedDelay = DefaultWatermarkSeedDelay
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.RecordType == "" {
		errs = append(errs, errors.New("record type is required"))
	}
	if c.PageSize < 0 {
		errs = append(errs, fmt.Errorf("page size must not be negative, got %d", c.PageSize))
	}
	if c.WatermarkSeedDelay < 0 {
		errs = append(errs, fmt.Errorf("watermark seed delay must not be negative, got %s", c.WatermarkSeedDelay))
	}
	if c.MaxRetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("max retry attempts must not be negative, got %d", c.MaxRetryAttempts))
	}
	return errors.Join(errs...)
}

// Engine is the remote sync engine for one record type.
//
// Thread-safety model:
//   - Start, FetchRecentRecords, FetchRecord, ProcessNotification and the
//     accessors are safe from any goroutine; they enqueue work and return.
//   - Run must be called exactly once; it blocks until ctx is done.
type Engine struct {
	cfg            Config
	scope          settings.Scope
	subscriptionID string

	remote   remote.Store
	settings settings.Store
	handler  Handler

	log     *slog.Logger
	clock   Clock
	decoder notify.Decoder
	metrics *Metrics

	pipeline  *taskQueue
	local     *taskQueue
	callbacks *taskQueue

	running atomic.Bool
	status  atomic.Int32

	// Start-in-progress guard. chainActive stays set until the
	// subscription state machine reaches Active or Halted, across timed
	// retries.
	startMu      sync.Mutex
	starting     bool
	chainActive  bool
	startWaiters int

	// Timers scheduled through the clock and not yet fired.
	timerMu   sync.Mutex
	timers    map[uint64]func() bool
	nextTimer uint64

	// Serializes watermark read-compare-write.
	wmMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock sets the clock used for retries and watermark seeding.
// Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithDecoder sets the push payload decoder. Default: notify.JSONDecoder.
func WithDecoder(d notify.Decoder) Option {
	return func(e *Engine) {
		if d != nil {
			e.decoder = d
		}
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine. Collaborators are fixed for its lifetime.
func New(cfg Config, rs remote.Store, ss settings.Store, h Handler, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if rs == nil || ss == nil || h == nil {
		return nil, errors.New("engine: remote store, settings store and handler are required")
	}
	cfg = cfg.withDefaults()
	scope := settings.Scope{Identity: cfg.StoreIdentity, RecordType: cfg.RecordType}

	e := &Engine{
		cfg:            cfg,
		scope:          scope,
		subscriptionID: scope.SubscriptionCreated(),
		remote:         rs,
		settings:       ss,
		handler:        h,
		log:            slog.Default(),
		clock:          SystemClock{},
		decoder:        notify.JSONDecoder{},
		pipeline:       newTaskQueue("pipeline"),
		local:          newTaskQueue("local"),
		callbacks:      newTaskQueue("callbacks"),
		timers:         make(map[uint64]func() bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine", "record_type", cfg.RecordType)
	e.pipeline.onDepth = func(n int) { e.metrics.depth(cfg.RecordType, n) }
	e.metrics.status(cfg.RecordType, StatusUnknown)
	return e, nil
}

// Run drives the three serial contexts until ctx is done.
//
// ERROR HANDLING: failures inside tasks are logged and processing
// continues. Run itself only returns ctx.Err() or ErrAlreadyRunning.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.log.Info("engine starting", "subscription_id", e.subscriptionID)

	var wg sync.WaitGroup
	for _, q := range e.queues() {
		wg.Add(1)
		go func(q *taskQueue) {
			defer wg.Done()
			q.run(ctx)
		}(q)
	}

	<-ctx.Done()
	wg.Wait()
	e.stopTimers()
	e.log.Info("engine stopping: context cancelled")
	return ctx.Err()
}

func (e *Engine) queues() []*taskQueue {
	return []*taskQueue{e.pipeline, e.local, e.callbacks}
}

// WaitIdle blocks until all three contexts are idle at the same moment.
// Timers scheduled through the Clock do not count as pending work.
func (e *Engine) WaitIdle(ctx context.Context) error {
	for {
		before := e.enqueuedTotal()
		for _, q := range e.queues() {
			if err := q.WaitIdle(ctx); err != nil {
				return err
			}
		}
		if e.enqueuedTotal() == before {
			return nil
		}
	}
}

func (e *Engine) enqueuedTotal() uint64 {
	var n uint64
	for _, q := range e.queues() {
		n += q.Enqueued()
	}
	return n
}

// Config returns the effective configuration with defaults applied.
func (e *Engine) Config() Config { return e.cfg }

// SubscriptionID returns the identifier used for the remote subscription.
func (e *Engine) SubscriptionID() string { return e.subscriptionID }

// Status returns the current subscription state.
func (e *Engine) Status() Status { return Status(e.status.Load()) }

func (e *Engine) setStatus(s Status) {
	old := Status(e.status.Swap(int32(s)))
	if old != s {
		e.log.Debug("subscription status changed", "from", old.String(), "to", s.String())
	}
	e.metrics.status(e.cfg.RecordType, s)
}

// submit enqueues remote work on the pipeline.
func (e *Engine) submit(kind string, fn func(ctx context.Context)) {
	if !e.pipeline.Enqueue(task{kind: kind, fn: fn}) {
		e.log.Warn("engine stopped; dropping remote operation", "kind", kind)
	}
}

// callback enqueues handler work on the callbacks context.
func (e *Engine) callback(kind string, fn func(ctx context.Context)) {
	if !e.callbacks.Enqueue(task{kind: kind, fn: fn}) {
		e.log.Warn("engine stopped; dropping callback", "kind", kind)
	}
}

// observe records the outcome of a remote call.
func (e *Engine) observe(op string, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		if _, ok := remote.RetryHint(err); ok {
			outcome = outcomeRetry
		}
	}
	e.metrics.remoteOp(e.cfg.RecordType, op, outcome)
}

type retryDecision int

const (
	retryNone retryDecision = iota // no hint: caller handles the failure
	retryScheduled
	retryExhausted
)

// retry schedules next after the server's retry hint carried by err.
// attempt is the number of retries already made in this chain.
func (e *Engine) retry(op string, attempt int, err error, next func()) retryDecision {
	hint, ok := remote.RetryHint(err)
	if !ok {
		return retryNone
	}
	if attempt >= e.cfg.MaxRetryAttempts {
		e.log.Error("remote operation failed",
			"op", op,
			"error", NewRetryExhaustedError(e.cfg.RecordType, op, attempt, err),
		)
		return retryExhausted
	}
	e.log.Warn("remote operation throttled; retrying",
		"op", op,
		"retry_after", hint,
		"attempt", attempt+1,
	)
	e.metrics.retry(e.cfg.RecordType, op)
	e.schedule(hint, next)
	return retryScheduled
}

// schedule runs f after d on the clock and keeps its stop function until
// it fires, so Run can cancel whatever is still pending on shutdown.
func (e *Engine) schedule(d time.Duration, f func()) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	id := e.nextTimer
	e.nextTimer++
	e.timers[id] = e.clock.AfterFunc(d, func() {
		e.timerMu.Lock()
		delete(e.timers, id)
		e.timerMu.Unlock()
		f()
	})
}

// PendingTimers returns the number of scheduled retries and watermark
// seeds that have not fired yet.
func (e *Engine) PendingTimers() int {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	return len(e.timers)
}

func (e *Engine) stopTimers() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	for id, stop := range e.timers {
		stop()
		delete(e.timers, id)
	}
}
