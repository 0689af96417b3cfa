// Package engine implements the remote sync engine.
//
// The engine keeps one record type of a local store in step with a shared
// remote record store. It owns the remote change subscription, pulls
// changes since a persisted watermark, and turns push notifications into
// handler callbacks.
//
// ARCHITECTURE:
//
// Three serial execution contexts, each a FIFO task queue drained by one
// goroutine started in Run:
//
//   - pipeline: every remote call, strictly one at a time, in submission
//     order. Follow-up work (cursor continuation, delete-then-create) is
//     enqueued from inside a pipeline task.
//   - local: bookkeeping that must not block the pipeline, chiefly Start
//     preparation, which waits for the pipeline to drain.
//   - callbacks: every Handler invocation. Handlers may mutate the local
//     store without stalling network work.
//
// Retries are never sleeps. A failure carrying a server retry hint is
// re-enqueued through Clock.AfterFunc after the hinted delay; failures
// without a hint are logged and dropped. Retry chains are bounded by
// Config.MaxRetryAttempts.
//
// SUBSCRIPTION STATE MACHINE:
//
//	Unknown -> Verifying -> Active
//	                     -> Stale -> (delete) -> Creating -> Active
//	Unknown -> Creating -> Active | Halted
//
// Halted lasts until the next Start.
//
// SYNC STATE:
//
// The created flag, the server-assigned subscription ID and the watermark
// are persisted in a settings.Store under keys scoped by store identity
// and record type. The watermark only moves forward.
package engine
