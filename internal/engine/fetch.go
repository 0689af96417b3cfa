package engine

import (
	"context"
	"errors"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
)

// FetchRecentRecords pulls every record modified after the watermark,
// newest first, and delivers them as one Batch. Each page is its own
// pipeline operation; continuation pages inherit the page size and the
// accumulated records. Failures are logged and no batch is delivered.
func (e *Engine) FetchRecentRecords() {
	e.query(0)
}

func (e *Engine) query(attempt int) {
	e.submit("query", func(ctx context.Context) {
		wm, err := e.Watermark(ctx)
		if err != nil {
			e.log.Error("read watermark failed",
				"error", NewSettingsError(e.cfg.RecordType, "read-watermark", err))
			return
		}

		q := remote.Query{
			RecordType:    e.cfg.RecordType,
			ModifiedAfter: wm,
			Descending:    true,
			Limit:         e.cfg.PageSize,
		}
		var page []record.Record
		cursor, err := e.remote.Query(ctx, q, func(r record.Record) { page = append(page, r) })
		e.observe(remote.OpQuery, err)
		if err != nil {
			if e.retry(remote.OpQuery, attempt, err, func() { e.query(attempt + 1) }) == retryNone {
				e.log.Error("query failed", "op", remote.OpQuery, "error", err)
			}
			return
		}
		e.log.Debug("fetched page", "records", len(page), "since", wm)
		e.advance(cursor, page)
	})
}

func (e *Engine) advance(cursor remote.Cursor, acc []record.Record) {
	if cursor.Done() {
		e.deliverBatch(acc)
		return
	}
	e.continueQuery(cursor, acc, 0)
}

func (e *Engine) continueQuery(cursor remote.Cursor, acc []record.Record, attempt int) {
	e.submit("query", func(ctx context.Context) {
		var page []record.Record
		next, err := e.remote.Continue(ctx, cursor, e.cfg.PageSize, func(r record.Record) { page = append(page, r) })
		e.observe(remote.OpContinue, err)
		if err != nil {
			if e.retry(remote.OpContinue, attempt, err, func() { e.continueQuery(cursor, acc, attempt+1) }) == retryNone {
				e.log.Error("query failed", "op", remote.OpContinue, "error", err, "fetched", len(acc))
			}
			return
		}
		e.log.Debug("fetched page", "records", len(page), "total", len(acc)+len(page))
		e.advance(next, append(acc, page...))
	})
}

func (e *Engine) deliverBatch(records []record.Record) {
	if records == nil {
		records = []record.Record{}
	}
	b := Batch{Records: records, SeedWatermark: e.seedWatermark}
	e.log.Info("fetch complete", "records", len(records))
	e.callback("batch", func(ctx context.Context) { e.handler.HandleBatch(ctx, b) })
}

// FetchRecord fetches one record on the pipeline and hands it to onFetched
// on the callbacks context. Failures are logged.
func (e *Engine) FetchRecord(id string, onFetched func(ctx context.Context, r record.Record)) {
	e.fetchRecord(id, onFetched, 0)
}

func (e *Engine) fetchRecord(id string, onFetched func(context.Context, record.Record), attempt int) {
	e.submit("fetch-by-id", func(ctx context.Context) {
		r, err := e.remote.FetchByID(ctx, id)
		e.observe(remote.OpFetchByID, err)
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				e.log.Info("record gone before fetch", "record_id", id)
				return
			}
			if e.retry(remote.OpFetchByID, attempt, err, func() { e.fetchRecord(id, onFetched, attempt+1) }) == retryNone {
				e.log.Error("fetch failed", "op", remote.OpFetchByID, "record_id", id, "error", err)
			}
			return
		}
		e.callback("fetched", func(ctx context.Context) { onFetched(ctx, r) })
	})
}
