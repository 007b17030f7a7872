// Package dispatch pulls event IDs from the tier queues and runs the
// registered handler for each event's type inside the idempotency guard.
//
// Each tier gets its own worker pool so a flood of bulk work can never
// starve realtime events. Handlers classify their failures as transient
// (retry until the attempt budget is exhausted) or fatal (fail
// immediately); panics are caught and treated as fatal.
package dispatch
