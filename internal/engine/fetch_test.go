package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
	"github.com/roach88/pubsync/internal/testutil"
)

func TestFetchRecentRecords_Paginates(t *testing.T) {
	h := startedHarness(t, Config{PageSize: 40})
	for _, r := range testutil.Records(testRecordType, 85, base) {
		h.remote.Put(r)
	}

	h.engine.FetchRecentRecords()
	h.idle(t)

	calls := h.remote.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, remote.OpQuery, calls[0].Op)
	assert.Equal(t, remote.OpContinue, calls[1].Op)
	assert.Equal(t, remote.OpContinue, calls[2].Op)
	for _, c := range calls {
		assert.Equal(t, 40, c.Limit, "continuations inherit the page size")
	}

	batches := h.handler.Batches()
	require.Len(t, batches, 1, "exactly one batch for the whole fetch")
	recs := batches[0].Records
	require.Len(t, recs, 85)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i-1].ModifiedAt.After(recs[i].ModifiedAt), "records arrive newest first")
	}
}

func TestFetchRecentRecords_OnlyAfterWatermark(t *testing.T) {
	h := startedHarness(t, Config{})
	for _, r := range testutil.Records(testRecordType, 10, base) {
		h.remote.Put(r)
	}
	other := testutil.Records("CD_Note", 1, base)[0]
	other.ID = "note-1"
	h.remote.Put(other)

	_, err := h.engine.UpdateWatermark(context.Background(), base.Add(7*time.Second))
	require.NoError(t, err)

	h.engine.FetchRecentRecords()
	h.idle(t)

	batches := h.handler.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 3)
	assert.Equal(t, testutil.RecordID(10), batches[0].Records[0].ID)
}

func TestFetchRecentRecords_EmptyResultStillDelivers(t *testing.T) {
	h := startedHarness(t, Config{})
	h.engine.FetchRecentRecords()
	h.idle(t)

	batches := h.handler.Batches()
	require.Len(t, batches, 1)
	assert.Empty(t, batches[0].Records)
}

func TestFetchRecentRecords_FailureDeliversNothing(t *testing.T) {
	h := startedHarness(t, Config{PageSize: 5})
	for _, r := range testutil.Records(testRecordType, 12, base) {
		h.remote.Put(r)
	}
	h.remote.FailNext(remote.OpContinue, remote.Fatal(remote.OpContinue, errors.New("boom")))

	h.engine.FetchRecentRecords()
	h.idle(t)

	assert.Empty(t, h.handler.Batches())
	assert.Zero(t, h.clock.Pending(), "no retry without a hint")
}

func TestFetchRecentRecords_RetriesContinuation(t *testing.T) {
	h := startedHarness(t, Config{PageSize: 5})
	for _, r := range testutil.Records(testRecordType, 12, base) {
		h.remote.Put(r)
	}
	h.remote.FailNext(remote.OpContinue, remote.Retry(remote.OpContinue, 2*time.Second, errors.New("busy")))

	h.engine.FetchRecentRecords()
	h.idle(t)
	assert.Empty(t, h.handler.Batches())

	h.clock.Advance(2 * time.Second)
	h.idle(t)

	batches := h.handler.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Records, 12, "retried page keeps the records already fetched")
}

func TestFetchRecord_RetriesAfterHint(t *testing.T) {
	h := startedHarness(t, Config{})
	rec := testutil.Records(testRecordType, 1, base)[0]
	h.remote.Put(rec)
	h.remote.FailNext(remote.OpFetchByID, remote.Retry(remote.OpFetchByID, 5*time.Second, errors.New("throttled")))

	var fetched atomic.Int32
	h.engine.FetchRecord(rec.ID, func(_ context.Context, r record.Record) {
		assert.Equal(t, rec.ID, r.ID)
		fetched.Add(1)
	})
	h.idle(t)

	assert.Equal(t, []time.Duration{5 * time.Second}, h.clock.Scheduled(), "exactly one retry, after the hinted delay")
	assert.Zero(t, fetched.Load())

	h.clock.Advance(5*time.Second - time.Millisecond)
	h.idle(t)
	assert.Zero(t, fetched.Load(), "retry must not run before the hint elapses")

	h.clock.Advance(time.Millisecond)
	h.idle(t)
	assert.Equal(t, int32(1), fetched.Load())
	assert.Equal(t, 2, h.remote.CallCount(remote.OpFetchByID))
	assert.Len(t, h.clock.Scheduled(), 1)
}

func TestFetchRecord_RetryBudget(t *testing.T) {
	h := startedHarness(t, Config{MaxRetryAttempts: 2})
	rec := testutil.Records(testRecordType, 1, base)[0]
	h.remote.Put(rec)
	throttled := remote.Retry(remote.OpFetchByID, time.Second, errors.New("throttled"))
	h.remote.FailNext(remote.OpFetchByID, throttled, throttled, throttled)

	var fetched atomic.Int32
	h.engine.FetchRecord(rec.ID, func(context.Context, record.Record) { fetched.Add(1) })
	for i := 0; i < 5; i++ {
		h.idle(t)
		h.clock.Advance(time.Second)
	}
	h.idle(t)

	assert.Zero(t, fetched.Load())
	assert.Equal(t, 3, h.remote.CallCount(remote.OpFetchByID), "first try plus two retries")
	assert.Len(t, h.clock.Scheduled(), 2)
}

func TestFetchRecord_NotFoundIsQuiet(t *testing.T) {
	h := startedHarness(t, Config{})
	var fetched atomic.Int32
	h.engine.FetchRecord("missing", func(context.Context, record.Record) { fetched.Add(1) })
	h.idle(t)

	assert.Zero(t, fetched.Load())
	assert.Zero(t, h.clock.Pending())
}

func TestPipeline_SerializesRemoteCalls(t *testing.T) {
	h := newHarness(t, Config{PageSize: 2})
	for _, r := range testutil.Records(testRecordType, 4, base) {
		h.remote.Put(r)
	}

	// Both are queued before the pipeline starts draining.
	h.engine.FetchRecentRecords()
	h.engine.FetchRecord(testutil.RecordID(1), func(context.Context, record.Record) {})
	h.run(t)
	h.idle(t)

	// The continuation is enqueued behind the point fetch that was already
	// waiting, so the pipeline order is query, fetch, continue.
	assert.Equal(t, []string{remote.OpQuery, remote.OpFetchByID, remote.OpContinue}, h.ops())
}
