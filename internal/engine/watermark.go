package engine

import (
	"context"
	"time"

	"github.com/roach88/pubsync/internal/settings"
)

// Epoch is the watermark of a store that has never synced.
var Epoch = time.Unix(0, 0).UTC()

// SyncState is the persisted sync bookkeeping of one engine.
type SyncState struct {
	SubscriptionCreated bool      `json:"subscription_created"`
	SubscriptionID      string    `json:"subscription_id"`
	Watermark           time.Time `json:"watermark"`
}

// ReadState loads the sync state for scope. A missing watermark reads as
// Epoch.
func ReadState(ctx context.Context, s settings.Store, scope settings.Scope) (SyncState, error) {
	var st SyncState
	var err error
	if st.SubscriptionCreated, err = s.Bool(ctx, scope.SubscriptionCreated()); err != nil {
		return SyncState{}, err
	}
	if st.SubscriptionID, err = s.String(ctx, scope.SubscriptionID()); err != nil {
		return SyncState{}, err
	}
	if st.Watermark, err = readWatermark(ctx, s, scope); err != nil {
		return SyncState{}, err
	}
	return st, nil
}

func readWatermark(ctx context.Context, s settings.Store, scope settings.Scope) (time.Time, error) {
	t, ok, err := s.Time(ctx, scope.Watermark())
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return Epoch, nil
	}
	return t, nil
}

// State returns the engine's persisted sync state.
func (e *Engine) State(ctx context.Context) (SyncState, error) {
	return ReadState(ctx, e.settings, e.scope)
}

// Watermark returns the modification time up to which records are known.
func (e *Engine) Watermark(ctx context.Context) (time.Time, error) {
	return readWatermark(ctx, e.settings, e.scope)
}

// UpdateWatermark persists t if it is newer than the stored watermark and
// reports whether the watermark advanced.
func (e *Engine) UpdateWatermark(ctx context.Context, t time.Time) (bool, error) {
	e.wmMu.Lock()
	defer e.wmMu.Unlock()

	cur, err := e.Watermark(ctx)
	if err != nil {
		return false, err
	}
	if !t.After(cur) {
		return false, nil
	}
	if err := e.settings.SetTime(ctx, e.scope.Watermark(), t); err != nil {
		return false, err
	}
	e.log.Debug("watermark advanced", "from", cur, "to", t)
	return true, nil
}

func (e *Engine) advanceWatermark(ctx context.Context, t time.Time) {
	if _, err := e.UpdateWatermark(ctx, t); err != nil {
		e.log.Error("update watermark failed",
			"error", NewSettingsError(e.cfg.RecordType, "write-watermark", err))
	}
}

// seedWatermark is Batch.SeedWatermark: it advances the watermark to t
// after WatermarkSeedDelay, on the local context.
func (e *Engine) seedWatermark(t time.Time) {
	if t.IsZero() {
		return
	}
	e.schedule(e.cfg.WatermarkSeedDelay, func() {
		e.local.Enqueue(task{kind: "seed-watermark", fn: func(ctx context.Context) {
			e.advanceWatermark(ctx, t)
		}})
	})
}
