// Package listener watches the copy-of-everything event broadcast for
// cross-event patterns no single handler can see: rejection streaks,
// application droughts, recurring skill gaps. Detections become insight
// records, and a rejection streak closes the feedback loop by publishing
// a ROADMAP_REPATH_NEEDED event back onto the bus.
//
// The listener is advisory. It never touches event status, and a detector
// that fails or panics is logged and swallowed so analysis can never break
// primary processing. Window counters live in Redis, not process memory,
// so a restart does not forget a streak in progress.
package listener
