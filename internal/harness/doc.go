// Package harness runs sync scenarios against a projector wired to an
// in-memory remote store, an in-memory local store and a fake clock.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	entity: Item            # optional, defaults to Item
//	page_size: 2            # optional engine tuning
//	remote:
//	  - id: 3f2504e0-4f89-11d3-9a0c-0305e82c3301
//	    at: 1s              # modified one second after the start
//	    fields: { title: "Buy milk", priority: 2 }
//	flow:
//	  - action: start
//	  - action: advance
//	    by: 3s
//	  - action: notify
//	    kind: updated
//	    id: 3f2504e0-4f89-11d3-9a0c-0305e82c3301
//	assertions:
//	  - type: local_entity
//	    id: 3f2504e0-4f89-11d3-9a0c-0305e82c3301
//	    expect: { title: "Buy milk" }
//	  - type: watermark
//	    at: 1s
//
// Remote field names get the CD_ prefix unless they already carry it;
// CD_id and CD_entityName are filled in from the record ID and entity.
// Timestamps are written as {time: "2024-07-01T09:30:00Z"}.
//
// # Flow Actions
//
//   - start: prepare the subscription and pull recent records
//   - advance: move the fake clock, firing retry and watermark timers
//   - put, remove: change the remote store without notifying
//   - notify: deliver a created, updated or deleted push notification
//   - fail: script the next calls of a remote operation to fail, either
//     retryably (retry_after) or fatally
//   - restart: stop the engine and build a new one over the same stores
//
// # Assertion Types
//
//   - local_count: number of local rows
//   - local_entity: field values of one row (subset match)
//   - local_absent: a row does not exist
//   - watermark: the persisted watermark, "epoch" or an offset
//   - status: the engine's subscription status
//   - call_count: how often a remote operation was called
//   - call_order: first calls of operations appear in order
//
// # Deterministic Testing
//
// The clock only moves on advance steps and every step waits for the
// engine to go idle, so a scenario always produces the same trace. The
// trace, final rows, watermark and status are compared against golden
// files with goldie.
package harness
