package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote/memory"
	"github.com/roach88/pubsync/internal/settings"
	"github.com/roach88/pubsync/internal/testutil"
)

const testRecordType = "CD_Item"

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// recorder is a Handler that remembers every callback.
type recorder struct {
	mu      sync.Mutex
	starts  int
	batches []Batch
	created []record.Record
	updated []record.Record
	deleted []string
	onBatch func(Batch)
}

func (r *recorder) HandleStart(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *recorder) HandleBatch(_ context.Context, b Batch) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	hook := r.onBatch
	r.mu.Unlock()
	if hook != nil {
		hook(b)
	}
}

func (r *recorder) HandleCreated(_ context.Context, rec record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, rec)
}

func (r *recorder) HandleUpdated(_ context.Context, rec record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, rec)
}

func (r *recorder) HandleDeleted(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func (r *recorder) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

func (r *recorder) Batches() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Batch(nil), r.batches...)
}

func (r *recorder) Created() []record.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record.Record(nil), r.created...)
}

func (r *recorder) Updated() []record.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record.Record(nil), r.updated...)
}

func (r *recorder) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

// harness bundles an engine with its fakes.
type harness struct {
	engine   *Engine
	handler  *recorder
	remote   *memory.Store
	settings settings.Store
	clock    *testutil.FakeClock
	metrics  *Metrics
}

// newHarness builds an engine without running it.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.RecordType == "" {
		cfg.RecordType = testRecordType
	}
	h := &harness{
		handler:  &recorder{},
		remote:   memory.New(),
		settings: settings.NewMemory(),
		clock:    testutil.NewFakeClock(base),
		metrics:  NewMetrics(nil),
	}
	e, err := New(cfg, h.remote, h.settings, h.handler, WithClock(h.clock), WithMetrics(h.metrics))
	require.NoError(t, err)
	h.engine = e
	return h
}

// run starts the engine and stops it when the test ends.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// startedHarness is newHarness followed by run.
func startedHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := newHarness(t, cfg)
	h.run(t)
	return h
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.WaitIdle(ctx), "engine did not go idle")
}

func (h *harness) ops() []string {
	var out []string
	for _, c := range h.remote.Calls() {
		out = append(out, c.Op)
	}
	return out
}
