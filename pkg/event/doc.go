// Package event provides the durable event bus at the heart of the Waymark
// orchestration core. Events are the unit of inter-agent communication: a
// producer publishes an event, the dispatcher routes it to a priority-tier
// worker queue, and a worker claims it through the idempotency guard before
// running its handler.
//
// Storage model:
//   - Each event is a Redis hash at waymark:{instance}:event:{id}.
//   - Each priority tier has a FIFO list queue holding pending event IDs.
//   - Claimed (processing) event IDs live in a ZSET scored by claim time,
//     which is the reaper's scan surface for stuck events.
//   - Every published event is also broadcast as JSON on a Pub/Sub channel
//     consumed by the global listener.
//
// Idempotency:
// The event ID doubles as the idempotency key. ShouldSkip performs an atomic
// check-and-claim as a single Lua script, so two workers racing on the same
// ID can never both believe they claimed it. Status only ever advances
// pending -> processing -> {completed|failed}; every transition is guarded
// server-side, never read-then-write in application code.
//
// All keys and channels are namespaced by instance name so multiple Waymark
// instances can share one Redis server.
package event
