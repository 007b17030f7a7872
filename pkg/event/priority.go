package event

// Priority routing: a pure, static mapping from event type to a priority
// tier, and from tier to the worker queue that serves it. Priority is fixed
// at publish time and never mutated afterwards.
//
// Five tiers are in use. Higher tiers get worker pools sized for latency,
// the bulk tier gets pools sized for throughput. The only ordering promise
// is FIFO within a single tier queue.

const (
	// MinPriority is the lowest priority (bulk work).
	MinPriority = 1

	// MaxPriority is the highest priority (user-facing real-time).
	MaxPriority = 10
)

// Tier queue names. Each name resolves to one Redis list per instance.
const (
	QueueRealtime    = "realtime"    // priority 10: user is actively waiting
	QueueInteractive = "interactive" // priority 7: user-triggered, near-term
	QueueSystem      = "system"      // priority 5: system-triggered follow-ups
	QueueBackground  = "background"  // priority 3: background pipelines
	QueueBulk        = "bulk"        // priority 1: market-wide batch work
)

// Queues lists every tier queue name, highest priority first.
var Queues = []string{QueueRealtime, QueueInteractive, QueueSystem, QueueBackground, QueueBulk}

// priorities is the static type -> priority table. Every member of Types
// must appear here; PriorityFor falls back to MinPriority for safety but
// the table is meant to be exhaustive.
var priorities = map[Type]int{
	TypeInterviewCompleted:   10,
	TypeSkillVerified:        10,
	TypeOnboardingCompleted:  7,
	TypeResumeParsed:         7,
	TypeApplyTriggered:       7,
	TypeRejectionParsed:      5,
	TypeRoadmapRepathNeeded:  5,
	TypeJobMatchFound:        3,
	TypeApplicationSubmitted: 3,
	TypeMarketUpdate:         1,
}

// PriorityFor returns the priority tier for an event type.
// Unknown types route to the bulk tier rather than being dropped.
func PriorityFor(t Type) int {
	if p, ok := priorities[t]; ok {
		return p
	}
	return MinPriority
}

// QueueFor resolves a priority value to its tier queue name.
// Priorities between the fixed tiers round down to the nearest tier,
// so a caller-supplied priority 8 lands on the interactive queue.
func QueueFor(priority int) string {
	switch {
	case priority >= 10:
		return QueueRealtime
	case priority >= 7:
		return QueueInteractive
	case priority >= 5:
		return QueueSystem
	case priority >= 3:
		return QueueBackground
	default:
		return QueueBulk
	}
}
