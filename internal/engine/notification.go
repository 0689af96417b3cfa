package engine

import (
	"context"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
)

// ProcessNotification routes a push payload. It returns false when the
// payload does not decode or belongs to another subscription.
//
// created and updated fetch the record, invoke the handler and then advance
// the watermark to the record's modification time. deleted invokes
// HandleDeleted without a fetch.
func (e *Engine) ProcessNotification(payload []byte) bool {
	n, err := e.decoder.Decode(payload)
	if err != nil {
		e.metrics.notification(e.cfg.RecordType, notificationUndecodable)
		e.log.Debug("ignoring notification", "error", err)
		return false
	}
	if n.SubscriptionID != e.subscriptionID {
		e.metrics.notification(e.cfg.RecordType, notificationForeign)
		e.log.Debug("notification for another subscription", "subscription_id", n.SubscriptionID)
		return false
	}
	e.metrics.notification(e.cfg.RecordType, notificationAccepted)

	switch n.Kind {
	case remote.EventCreated:
		e.FetchRecord(n.RecordID, func(ctx context.Context, r record.Record) {
			e.handler.HandleCreated(ctx, r)
			e.advanceWatermark(ctx, r.ModifiedAt)
		})
	case remote.EventUpdated:
		e.FetchRecord(n.RecordID, func(ctx context.Context, r record.Record) {
			e.handler.HandleUpdated(ctx, r)
			e.advanceWatermark(ctx, r.ModifiedAt)
		})
	case remote.EventDeleted:
		id := n.RecordID
		e.callback("deleted", func(ctx context.Context) { e.handler.HandleDeleted(ctx, id) })
	}
	return true
}
