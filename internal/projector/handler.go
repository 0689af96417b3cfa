package projector

import (
	"context"
	"time"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/record"
)

// handler adapts a Projector to engine.Handler. Failures are logged and the
// event is consumed.
type handler struct {
	p *Projector
}

var _ engine.Handler = handler{}

func (h handler) HandleStart(context.Context) {
	h.p.engine.FetchRecentRecords()
}

func (h handler) HandleBatch(ctx context.Context, b engine.Batch) {
	if err := h.p.Create(ctx, b.Records); err != nil {
		h.p.log.Error("batch not persisted", "records", len(b.Records), "error", err)
		return
	}

	seed := record.Latest(b.Records)
	latest, err := h.p.FetchLatestLocalEntity(ctx)
	if err != nil {
		h.p.log.Warn("read latest entity failed", "error", err)
	} else if latest != nil && latest.ModifiedAt.After(seed) {
		seed = latest.ModifiedAt
	}
	if !seed.IsZero() && b.SeedWatermark != nil {
		h.p.log.Debug("seeding watermark", "at", seed.Format(time.RFC3339Nano))
		b.SeedWatermark(seed)
	}
}

func (h handler) HandleCreated(ctx context.Context, r record.Record) {
	if err := h.p.Create(ctx, []record.Record{r}); err != nil {
		h.p.log.Error("created record not persisted", "record_id", r.ID, "error", err)
	}
}

func (h handler) HandleUpdated(ctx context.Context, r record.Record) {
	if err := h.p.Update(ctx, r); err != nil {
		h.p.log.Error("updated record not persisted", "record_id", r.ID, "error", err)
	}
}

func (h handler) HandleDeleted(ctx context.Context, id string) {
	if err := h.p.Delete(ctx, id); err != nil {
		h.p.log.Error("delete not persisted", "record_id", id, "error", err)
	}
}
