package engine

import (
	"context"
	"time"

	"github.com/roach88/pubsync/internal/record"
)

// Handler receives engine events. All methods run on the callbacks context,
// one at a time, never on the pipeline.
type Handler interface {
	// HandleStart runs once per Start call after subscription preparation.
	HandleStart(ctx context.Context)
	// HandleBatch delivers the result of FetchRecentRecords.
	HandleBatch(ctx context.Context, b Batch)
	HandleCreated(ctx context.Context, r record.Record)
	HandleUpdated(ctx context.Context, r record.Record)
	HandleDeleted(ctx context.Context, id string)
}

// Batch is the concatenated result of a paginated fetch, in fetch order
// (newest first).
type Batch struct {
	Records []record.Record

	// SeedWatermark schedules UpdateWatermark(t) after the engine's
	// WatermarkSeedDelay. Handlers call it once the batch is persisted.
	SeedWatermark func(t time.Time)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Start   func(ctx context.Context)
	Batch   func(ctx context.Context, b Batch)
	Created func(ctx context.Context, r record.Record)
	Updated func(ctx context.Context, r record.Record)
	Deleted func(ctx context.Context, id string)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) HandleStart(ctx context.Context) {
	if h.Start != nil {
		h.Start(ctx)
	}
}

func (h HandlerFuncs) HandleBatch(ctx context.Context, b Batch) {
	if h.Batch != nil {
		h.Batch(ctx, b)
	}
}

func (h HandlerFuncs) HandleCreated(ctx context.Context, r record.Record) {
	if h.Created != nil {
		h.Created(ctx, r)
	}
}

func (h HandlerFuncs) HandleUpdated(ctx context.Context, r record.Record) {
	if h.Updated != nil {
		h.Updated(ctx, r)
	}
}

func (h HandlerFuncs) HandleDeleted(ctx context.Context, id string) {
	if h.Deleted != nil {
		h.Deleted(ctx, id)
	}
}
