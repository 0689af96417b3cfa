package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/roach88/pubsync/internal/remote"
)

// Start prepares the subscription and then delivers HandleStart.
//
// Preparation runs on the local context: it reads the created flag, runs
// the subscription state machine on the pipeline and waits for the
// pipeline to drain. HandleStart is delivered whatever the outcome.
//
// Calls made while a preparation is in progress join it instead of
// starting another state machine. The same holds while an earlier state
// machine is still waiting on a timed retry: the call waits for the
// pipeline and leaves the pending chain alone. Every call still gets its
// own HandleStart.
func (e *Engine) Start() {
	e.startMu.Lock()
	e.startWaiters++
	if e.starting {
		e.startMu.Unlock()
		e.log.Debug("start already in progress; joining")
		return
	}
	e.starting = true
	resume := e.chainActive
	e.chainActive = true
	e.startMu.Unlock()

	fn := e.prepare
	if resume {
		e.log.Debug("subscription retry pending; joining")
		fn = e.awaitPipeline
	}
	if !e.local.Enqueue(task{kind: "start", fn: fn}) {
		e.startMu.Lock()
		e.starting = false
		e.chainActive = resume
		e.startWaiters = 0
		e.startMu.Unlock()
		e.log.Warn("engine stopped; start ignored")
	}
}

func (e *Engine) prepare(ctx context.Context) {
	created, err := e.settings.Bool(ctx, e.scope.SubscriptionCreated())
	if err != nil {
		e.log.Error("read sync state failed; assuming no subscription",
			"error", NewSettingsError(e.cfg.RecordType, "read-created-flag", err))
		created = false
	}

	if created {
		e.verifySubscription(0)
	} else {
		e.createSubscription(0)
	}
	e.awaitPipeline(ctx)
}

// awaitPipeline waits for queued remote work, then delivers one
// HandleStart per joined Start call.
func (e *Engine) awaitPipeline(ctx context.Context) {
	if err := e.pipeline.WaitIdle(ctx); err != nil {
		return
	}

	e.startMu.Lock()
	n := e.startWaiters
	e.startWaiters = 0
	e.starting = false
	e.startMu.Unlock()

	for i := 0; i < n; i++ {
		e.callback("start", e.handler.HandleStart)
	}
}

// endChain records the final status of a subscription state machine.
// The next Start runs a fresh one.
func (e *Engine) endChain(s Status) {
	e.setStatus(s)
	e.startMu.Lock()
	e.chainActive = false
	e.startMu.Unlock()
}

// verifySubscription checks that the remembered subscription still exists
// and still targets our record type.
func (e *Engine) verifySubscription(attempt int) {
	e.setStatus(StatusVerifying)
	e.submit("check-subscription", func(ctx context.Context) {
		sub, err := e.remote.FetchSubscription(ctx, e.subscriptionID)
		e.observe(remote.OpFetchSubscription, err)
		if err != nil {
			switch e.retry(remote.OpFetchSubscription, attempt, err, func() { e.verifySubscription(attempt + 1) }) {
			case retryScheduled:
				return
			case retryExhausted:
				e.endChain(StatusHalted)
				return
			}
			e.log.Warn("subscription check failed; recreating", "error", err)
			e.setStatus(StatusStale)
			e.clearCreated(ctx)
			e.createSubscription(0)
			return
		}

		if sub == nil || sub.RecordType != e.cfg.RecordType {
			e.log.Info("subscription missing or stale; recreating", "found", sub != nil)
			e.setStatus(StatusStale)
			e.clearCreated(ctx)
			// Create only after the delete finished, otherwise the delete
			// could remove the subscription we just made.
			e.deleteSubscription(0, func() { e.createSubscription(0) })
			return
		}

		e.log.Debug("subscription verified", "subscription_id", sub.ID)
		e.endChain(StatusActive)
	})
}

// deleteSubscription removes the subscription best-effort, then runs next
// from inside the pipeline task.
func (e *Engine) deleteSubscription(attempt int, next func()) {
	e.submit("unsubscribe", func(ctx context.Context) {
		err := e.remote.DeleteSubscription(ctx, e.subscriptionID)
		e.observe(remote.OpDeleteSubscription, err)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			if e.retry(remote.OpDeleteSubscription, attempt, err, func() { e.deleteSubscription(attempt+1, next) }) == retryScheduled {
				return
			}
			e.log.Warn("could not delete stale subscription; continuing", "error", err)
		}
		next()
	})
}

func (e *Engine) createSubscription(attempt int) {
	e.setStatus(StatusCreating)
	e.submit("subscribe", func(ctx context.Context) {
		sub, err := e.remote.CreateSubscription(ctx, e.subscriptionSpec())
		e.observe(remote.OpCreateSubscription, err)
		if err != nil {
			switch e.retry(remote.OpCreateSubscription, attempt, err, func() { e.createSubscription(attempt + 1) }) {
			case retryScheduled:
				return
			case retryNone:
				e.log.Error("subscription failed", "error", NewSubscriptionError(e.cfg.RecordType, err))
			}
			e.endChain(StatusHalted)
			return
		}

		if err := e.settings.SetBool(ctx, e.scope.SubscriptionCreated(), true); err != nil {
			e.log.Error("persist sync state failed",
				"error", NewSettingsError(e.cfg.RecordType, "write-created-flag", err))
		}
		if err := e.settings.SetString(ctx, e.scope.SubscriptionID(), sub.ID); err != nil {
			e.log.Error("persist sync state failed",
				"error", NewSettingsError(e.cfg.RecordType, "write-subscription-id", err))
		}
		e.log.Info("subscription created", "subscription_id", sub.ID)
		e.endChain(StatusActive)
	})
}

func (e *Engine) clearCreated(ctx context.Context) {
	if err := e.settings.SetBool(ctx, e.scope.SubscriptionCreated(), false); err != nil {
		e.log.Error("clear sync state failed",
			"error", NewSettingsError(e.cfg.RecordType, "clear-created-flag", err))
	}
}

func (e *Engine) subscriptionSpec() remote.SubscriptionSpec {
	return remote.SubscriptionSpec{
		ID:          e.subscriptionID,
		RecordType:  e.cfg.RecordType,
		Predicate:   e.cfg.Subscription.Predicate,
		FiresOn:     slices.Clone(e.cfg.Subscription.FiresOn),
		DesiredKeys: slices.Clone(e.cfg.Subscription.DesiredKeys),
	}
}
