package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/remote"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(s *Store, n int) {
	for i := 0; i < n; i++ {
		s.Put(record.Record{
			ID:         fmt.Sprintf("r%03d", i),
			Type:       "CD_Item",
			Fields:     record.Fields{"CD_title": record.String(fmt.Sprintf("t%d", i))},
			ModifiedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func drain(t *testing.T, s *Store, q remote.Query) []record.Record {
	t.Helper()
	ctx := context.Background()
	var out []record.Record
	each := func(r record.Record) { out = append(out, r) }
	cursor, err := s.Query(ctx, q, each)
	require.NoError(t, err)
	for !cursor.Done() {
		cursor, err = s.Continue(ctx, cursor, q.Limit, each)
		require.NoError(t, err)
	}
	return out
}

func TestQuery_PaginatesWithCursor(t *testing.T) {
	s := New()
	seed(s, 85)

	got := drain(t, s, remote.Query{RecordType: "CD_Item", Limit: 40, Descending: true})
	require.Len(t, got, 85)
	assert.Equal(t, "r084", got[0].ID)
	assert.Equal(t, "r000", got[84].ID)
	assert.Equal(t, 1, s.CallCount(remote.OpQuery))
	assert.Equal(t, 2, s.CallCount(remote.OpContinue))
}

func TestQuery_FiltersByWatermarkAndType(t *testing.T) {
	s := New()
	seed(s, 10)
	s.Put(record.Record{ID: "other", Type: "CD_Other", ModifiedAt: base.Add(time.Hour)})

	got := drain(t, s, remote.Query{RecordType: "CD_Item", ModifiedAfter: base.Add(7 * time.Minute)})
	require.Len(t, got, 2)
	assert.Equal(t, "r008", got[0].ID)
	assert.Equal(t, "r009", got[1].ID)
}

func TestQuery_ZeroLimitUsesMaxPage(t *testing.T) {
	s := New()
	s.SetMaxPage(3)
	seed(s, 5)

	var n int
	cursor, err := s.Query(context.Background(), remote.Query{RecordType: "CD_Item"}, func(record.Record) { n++ })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, cursor.Done())
}

func TestContinue_UnknownCursor(t *testing.T) {
	s := New()
	_, err := s.Continue(context.Background(), "9:1", 10, func(record.Record) {})
	require.Error(t, err)
	_, retry := remote.RetryHint(err)
	assert.False(t, retry)
}

func TestFailNext_ConsumedInOrder(t *testing.T) {
	s := New()
	first := remote.Retry(remote.OpFetchByID, time.Second, errors.New("busy"))
	s.FailNext(remote.OpFetchByID, first)
	s.Put(record.Record{ID: "a", Type: "CD_Item"})

	_, err := s.FetchByID(context.Background(), "a")
	assert.ErrorIs(t, err, first)

	r, err := s.FetchByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", r.ID)
}

func TestFetchByID_NotFound(t *testing.T) {
	_, err := New().FetchByID(context.Background(), "missing")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestSubscriptions_Lifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.FetchSubscription(ctx, "sub")
	require.NoError(t, err)
	assert.Nil(t, got)

	created, err := s.CreateSubscription(ctx, remote.SubscriptionSpec{ID: "sub", RecordType: "CD_Item", Predicate: "TRUEPREDICATE"})
	require.NoError(t, err)
	assert.Equal(t, "sub", created.ID)

	got, err = s.FetchSubscription(ctx, "sub")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "CD_Item", got.RecordType)

	require.NoError(t, s.DeleteSubscription(ctx, "sub"))
	assert.Empty(t, s.Subscriptions())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Query(ctx, remote.Query{}, func(record.Record) {})
	assert.ErrorIs(t, err, context.Canceled)
}
