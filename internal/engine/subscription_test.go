package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pubsync/internal/remote"
)

const wantSubscriptionID = "default.CD_Item.subscription.public"

func TestStart_CreatesSubscription(t *testing.T) {
	h := startedHarness(t, Config{})
	ctx := context.Background()

	h.engine.Start()
	h.idle(t)

	assert.Equal(t, StatusActive, h.engine.Status())
	assert.Equal(t, 1, h.handler.Starts())
	assert.Equal(t, []string{remote.OpCreateSubscription}, h.ops())

	subs := h.remote.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, wantSubscriptionID, subs[0].ID)
	assert.Equal(t, testRecordType, subs[0].RecordType)
	assert.Equal(t, DefaultPredicate, subs[0].Predicate)
	assert.Equal(t, remote.AllEvents, subs[0].FiresOn)

	st, err := h.engine.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.SubscriptionCreated)
	assert.Equal(t, wantSubscriptionID, st.SubscriptionID)
	assert.True(t, st.Watermark.Equal(Epoch))
}

func TestStart_VerifiesExistingSubscription(t *testing.T) {
	h := startedHarness(t, Config{})
	require.NoError(t, h.settings.SetBool(context.Background(), wantSubscriptionID, true))
	h.remote.PutSubscription(remote.Subscription{ID: wantSubscriptionID, RecordType: testRecordType})

	h.engine.Start()
	h.idle(t)

	assert.Equal(t, StatusActive, h.engine.Status())
	assert.Equal(t, []string{remote.OpFetchSubscription}, h.ops(), "no create when the subscription is healthy")
	assert.Equal(t, 1, h.handler.Starts())
}

func TestStart_StaleSubscriptionIsReplaced(t *testing.T) {
	h := startedHarness(t, Config{})
	require.NoError(t, h.settings.SetBool(context.Background(), wantSubscriptionID, true))
	h.remote.PutSubscription(remote.Subscription{ID: wantSubscriptionID, RecordType: "CD_Other"})

	h.engine.Start()
	h.idle(t)

	assert.Equal(t, []string{
		remote.OpFetchSubscription,
		remote.OpDeleteSubscription,
		remote.OpCreateSubscription,
	}, h.ops(), "create is chained after the delete")

	subs := h.remote.Subscriptions()
	require.Len(t, subs, 1, "the fresh subscription survives the delete")
	assert.Equal(t, testRecordType, subs[0].RecordType)
	assert.Equal(t, StatusActive, h.engine.Status())
}

func TestStart_MissingSubscriptionIsRecreated(t *testing.T) {
	h := startedHarness(t, Config{})
	require.NoError(t, h.settings.SetBool(context.Background(), wantSubscriptionID, true))

	h.engine.Start()
	h.idle(t)

	assert.Equal(t, []string{
		remote.OpFetchSubscription,
		remote.OpDeleteSubscription,
		remote.OpCreateSubscription,
	}, h.ops())
	assert.Len(t, h.remote.Subscriptions(), 1)
	assert.Equal(t, StatusActive, h.engine.Status())
}

func TestStart_CheckFailureWithoutHintRecreates(t *testing.T) {
	h := startedHarness(t, Config{})
	require.NoError(t, h.settings.SetBool(context.Background(), wantSubscriptionID, true))
	h.remote.FailNext(remote.OpFetchSubscription, remote.Fatal(remote.OpFetchSubscription, errors.New("bad gateway")))

	h.engine.Start()
	h.idle(t)

	assert.Equal(t, []string{remote.OpFetchSubscription, remote.OpCreateSubscription}, h.ops())
	assert.Equal(t, StatusActive, h.engine.Status())
}

func TestStart_CheckRetriesAfterHint(t *testing.T) {
	h := startedHarness(t, Config{})
	require.NoError(t, h.settings.SetBool(context.Background(), wantSubscriptionID, true))
	h.remote.PutSubscription(remote.Subscription{ID: wantSubscriptionID, RecordType: testRecordType})
	h.remote.FailNext(remote.OpFetchSubscription,
		remote.Retry(remote.OpFetchSubscription, 3*time.Second, errors.New("zone busy")))

	h.engine.Start()
	h.idle(t)
	assert.Equal(t, StatusVerifying, h.engine.Status())
	assert.Equal(t, 1, h.handler.Starts(), "timed retries are not pipeline work")

	h.clock.Advance(3 * time.Second)
	h.idle(t)
	assert.Equal(t, StatusActive, h.engine.Status())
	assert.Equal(t, 2, h.remote.CallCount(remote.OpFetchSubscription))
}

func TestStart_CheckRetryBudgetHalts(t *testing.T) {
	h := startedHarness(t, Config{MaxRetryAttempts: 1})
	require.NoError(t, h.settings.SetBool(context.Background(), wantSubscriptionID, true))
	busy := remote.Retry(remote.OpFetchSubscription, time.Second, errors.New("zone busy"))
	h.remote.FailNext(remote.OpFetchSubscription, busy, busy)

	h.engine.Start()
	h.idle(t)
	h.clock.Advance(time.Second)
	h.idle(t)

	assert.Equal(t, StatusHalted, h.engine.Status())
	assert.Zero(t, h.remote.CallCount(remote.OpCreateSubscription))
}

func TestStart_CreateFailureHaltsUntilNextStart(t *testing.T) {
	h := startedHarness(t, Config{})
	h.remote.FailNext(remote.OpCreateSubscription, remote.Fatal(remote.OpCreateSubscription, errors.New("permission denied")))

	h.engine.Start()
	h.idle(t)

	assert.Equal(t, StatusHalted, h.engine.Status())
	assert.Equal(t, 1, h.handler.Starts(), "start is delivered regardless of outcome")
	created, err := h.settings.Bool(context.Background(), wantSubscriptionID)
	require.NoError(t, err)
	assert.False(t, created)

	h.engine.Start()
	h.idle(t)
	assert.Equal(t, StatusActive, h.engine.Status())
	assert.Equal(t, 2, h.handler.Starts())
}

func TestStart_CreateRetriesAfterHint(t *testing.T) {
	h := startedHarness(t, Config{})
	h.remote.FailNext(remote.OpCreateSubscription,
		remote.Retry(remote.OpCreateSubscription, 5*time.Second, errors.New("rate limited")))

	h.engine.Start()
	h.idle(t)
	assert.Equal(t, StatusCreating, h.engine.Status())
	assert.Equal(t, []time.Duration{5 * time.Second}, h.clock.Scheduled())

	h.clock.Advance(5 * time.Second)
	h.idle(t)
	assert.Equal(t, StatusActive, h.engine.Status())
	assert.Len(t, h.remote.Subscriptions(), 1)
}

func TestStart_OverlappingCallsJoin(t *testing.T) {
	h := newHarness(t, Config{})

	// Queued before Run so all three overlap the first preparation.
	h.engine.Start()
	h.engine.Start()
	h.engine.Start()
	h.run(t)
	h.idle(t)

	assert.Equal(t, 1, h.remote.CallCount(remote.OpCreateSubscription), "one state machine for overlapping starts")
	assert.Equal(t, 3, h.handler.Starts(), "every start call gets its own HandleStart")
}

func TestStart_SequentialCallsEachRunStateMachine(t *testing.T) {
	h := startedHarness(t, Config{})

	h.engine.Start()
	h.idle(t)
	h.engine.Start()
	h.idle(t)

	assert.Equal(t, []string{remote.OpCreateSubscription, remote.OpFetchSubscription}, h.ops())
	assert.Equal(t, 2, h.handler.Starts())
}

func TestSubscriptionSpec_UsesConfig(t *testing.T) {
	h := newHarness(t, Config{
		Subscription: SubscriptionConfig{
			Predicate:   "done == 0",
			FiresOn:     []remote.EventKind{remote.EventCreated},
			DesiredKeys: []string{"CD_id", "CD_title"},
		},
	})
	spec := h.engine.subscriptionSpec()
	assert.Equal(t, wantSubscriptionID, spec.ID)
	assert.Equal(t, "done == 0", spec.Predicate)
	assert.Equal(t, []remote.EventKind{remote.EventCreated}, spec.FiresOn)
	assert.Equal(t, []string{"CD_id", "CD_title"}, spec.DesiredKeys)
}

func TestStart_DuringPendingRetryJoinsChain(t *testing.T) {
	h := startedHarness(t, Config{})
	h.remote.FailNext(remote.OpCreateSubscription,
		remote.Retry(remote.OpCreateSubscription, 5*time.Second, errors.New("rate limited")))

	h.engine.Start()
	h.idle(t)
	require.Equal(t, StatusCreating, h.engine.Status())

	// The create retry is still waiting on the clock.
	h.engine.Start()
	h.idle(t)
	assert.Equal(t, 1, h.remote.CallCount(remote.OpCreateSubscription), "no second state machine")
	assert.Equal(t, 2, h.handler.Starts())

	h.clock.Advance(5 * time.Second)
	h.idle(t)
	assert.Equal(t, []string{remote.OpCreateSubscription, remote.OpCreateSubscription}, h.ops())
	assert.Equal(t, StatusActive, h.engine.Status())
	assert.Len(t, h.remote.Subscriptions(), 1)

	// Once the chain settled, the next start verifies again.
	h.engine.Start()
	h.idle(t)
	assert.Equal(t, remote.OpFetchSubscription, h.ops()[2])
	assert.Equal(t, 3, h.handler.Starts())
}

func TestStart_DuringPendingDeleteRetryKeepsNewSubscription(t *testing.T) {
	h := startedHarness(t, Config{})
	require.NoError(t, h.settings.SetBool(context.Background(), wantSubscriptionID, true))
	h.remote.PutSubscription(remote.Subscription{ID: wantSubscriptionID, RecordType: "CD_Other"})
	h.remote.FailNext(remote.OpDeleteSubscription,
		remote.Retry(remote.OpDeleteSubscription, 2*time.Second, errors.New("zone busy")))

	h.engine.Start()
	h.idle(t)
	h.engine.Start()
	h.idle(t)
	h.clock.Advance(2 * time.Second)
	h.idle(t)

	assert.Equal(t, []string{
		remote.OpFetchSubscription,
		remote.OpDeleteSubscription,
		remote.OpDeleteSubscription,
		remote.OpCreateSubscription,
	}, h.ops())
	subs := h.remote.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, testRecordType, subs[0].RecordType)
	assert.Equal(t, StatusActive, h.engine.Status())
}

func TestRun_StopsPendingTimers(t *testing.T) {
	h := newHarness(t, Config{})
	h.remote.FailNext(remote.OpCreateSubscription,
		remote.Retry(remote.OpCreateSubscription, 5*time.Second, errors.New("rate limited")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()

	h.engine.Start()
	h.idle(t)
	require.Equal(t, 1, h.engine.PendingTimers())
	require.Equal(t, 1, h.clock.Pending())

	cancel()
	<-done
	assert.Zero(t, h.engine.PendingTimers())
	assert.Zero(t, h.clock.Pending())
}
