package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Event represents one unit of inter-agent communication on the bus.
// An event is immutable once terminal: only the status, retry_count,
// processed_at_ms and error_message fields ever change after creation,
// and status moves strictly forward. Events are never deleted; the store
// is the permanent audit trail.
type Event struct {
	ID            string         `json:"id"`                       // UUID - doubles as the idempotency key
	Type          Type           `json:"type"`                     // Closed set of event kinds
	Payload       map[string]any `json:"payload"`                  // Type-specific structured document
	Status        Status         `json:"status"`                   // Lifecycle state
	Priority      int            `json:"priority"`                 // 1 (bulk) to 10 (user-facing real-time), derived from Type
	SourceAgent   string         `json:"source_agent,omitempty"`   // Optional routing hint: producing agent
	TargetAgent   string         `json:"target_agent,omitempty"`   // Optional routing hint: intended consumer
	CreatedAtMs   int64          `json:"created_at_ms"`            // Unix milliseconds at publish time
	ProcessedAtMs int64          `json:"processed_at_ms,omitempty"` // Unix milliseconds at terminal transition
	ErrorMessage  string         `json:"error_message,omitempty"`  // Populated only on failed
	RetryCount    int            `json:"retry_count"`              // Processing attempts so far
}

// Type identifies the kind of an event. The set is closed: priority routing
// and handler registration are both keyed on these constants, never on
// free-form strings.
type Type string

const (
	// TypeOnboardingCompleted fires when a user finishes the onboarding flow.
	TypeOnboardingCompleted Type = "ONBOARDING_COMPLETED"

	// TypeResumeParsed fires when an uploaded resume has been parsed into
	// structured profile data.
	TypeResumeParsed Type = "RESUME_PARSED"

	// TypeApplyTriggered fires when a user manually triggers a job application.
	TypeApplyTriggered Type = "APPLY_TRIGGERED"

	// TypeInterviewCompleted fires when a practice interview session ends.
	TypeInterviewCompleted Type = "INTERVIEW_COMPLETED"

	// TypeSkillVerified fires when a skill-verification exercise completes.
	TypeSkillVerified Type = "SKILL_VERIFIED"

	// TypeRejectionParsed fires when an application rejection has been parsed.
	TypeRejectionParsed Type = "REJECTION_PARSED"

	// TypeRoadmapRepathNeeded fires when the user's career roadmap needs
	// recalculation, typically emitted by the global listener's feedback loop.
	TypeRoadmapRepathNeeded Type = "ROADMAP_REPATH_NEEDED"

	// TypeJobMatchFound fires when a scraped job listing matches a user profile.
	TypeJobMatchFound Type = "JOB_MATCH_FOUND"

	// TypeApplicationSubmitted fires when a job application was submitted.
	TypeApplicationSubmitted Type = "APPLICATION_SUBMITTED"

	// TypeMarketUpdate fires on market-wide job data refreshes.
	TypeMarketUpdate Type = "MARKET_UPDATE"
)

// Types lists every known event type. Used by the dispatcher to verify
// handler registries cover the closed set.
var Types = []Type{
	TypeOnboardingCompleted,
	TypeResumeParsed,
	TypeApplyTriggered,
	TypeInterviewCompleted,
	TypeSkillVerified,
	TypeRejectionParsed,
	TypeRoadmapRepathNeeded,
	TypeJobMatchFound,
	TypeApplicationSubmitted,
	TypeMarketUpdate,
}

// Status defines the lifecycle state of an event.
// Events progress strictly: pending -> processing -> completed|failed.
type Status string

const (
	// StatusPending indicates the event is durably recorded and queued.
	StatusPending Status = "pending"

	// StatusProcessing indicates a worker has claimed the event.
	StatusProcessing Status = "processing"

	// StatusCompleted indicates the handler finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the handler failed; error_message is populated.
	StatusFailed Status = "failed"
)

// Validate checks if the Type is a valid enum value.
func (t Type) Validate() error {
	switch t {
	case TypeOnboardingCompleted, TypeResumeParsed, TypeApplyTriggered,
		TypeInterviewCompleted, TypeSkillVerified, TypeRejectionParsed,
		TypeRoadmapRepathNeeded, TypeJobMatchFound, TypeApplicationSubmitted,
		TypeMarketUpdate:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", t)
	}
}

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown event status: %q", s)
	}
}

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Validate checks if the Event has valid field values.
// Returns an error if any validation fails.
func (e *Event) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid event ID: not a valid UUID")
	}

	if err := e.Type.Validate(); err != nil {
		return fmt.Errorf("invalid type: %w", err)
	}

	if err := e.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if e.Priority < MinPriority || e.Priority > MaxPriority {
		return fmt.Errorf("invalid priority: must be in [%d,%d], got %d",
			MinPriority, MaxPriority, e.Priority)
	}

	if e.RetryCount < 0 {
		return fmt.Errorf("invalid retry_count: must be >= 0, got %d", e.RetryCount)
	}

	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
