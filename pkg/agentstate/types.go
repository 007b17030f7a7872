package agentstate

import (
	"fmt"
	"strings"
)

// State is one of the fixed vocabulary of agent lifecycle states.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StatePlanning     State = "planning"
	StateExecuting    State = "executing"
	StateEvaluating   State = "evaluating"
	StateAdapting     State = "adapting"
	StateWaitingInput State = "waiting_input"
	StateWaitingAgent State = "waiting_agent"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
	StatePaused       State = "paused"
	StateCancelled    State = "cancelled"
)

// States lists every state in the vocabulary.
var States = []State{
	StateIdle, StateInitializing, StatePlanning, StateExecuting,
	StateEvaluating, StateAdapting, StateWaitingInput, StateWaitingAgent,
	StateSucceeded, StateFailed, StatePaused, StateCancelled,
}

// Validate checks if the State is a valid enum value.
func (s State) Validate() error {
	switch s {
	case StateIdle, StateInitializing, StatePlanning, StateExecuting,
		StateEvaluating, StateAdapting, StateWaitingInput, StateWaitingAgent,
		StateSucceeded, StateFailed, StatePaused, StateCancelled:
		return nil
	default:
		return fmt.Errorf("unknown agent state: %q", s)
	}
}

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Waiting reports whether the state is a resumable suspension on an
// external party.
func (s State) Waiting() bool {
	return s == StateWaitingInput || s == StateWaitingAgent
}

// Signal names a transition trigger. Signals are distinct from bus events:
// they drive one run's state machine, not inter-agent communication.
type Signal string

const (
	SignalStart          Signal = "START"
	SignalInitComplete   Signal = "INIT_COMPLETE"
	SignalPlanComplete   Signal = "PLAN_COMPLETE"
	SignalStepComplete   Signal = "STEP_COMPLETE"
	SignalStepFailed     Signal = "STEP_FAILED"
	SignalAdapt          Signal = "ADAPT"
	SignalEvaluationPass Signal = "EVALUATION_PASS"
	SignalEvaluationFail Signal = "EVALUATION_FAIL"
	SignalWaitForInput   Signal = "WAIT_FOR_INPUT"
	SignalWaitForAgent   Signal = "WAIT_FOR_AGENT"
	SignalResume         Signal = "RESUME"
	SignalTimeout        Signal = "TIMEOUT"
	SignalPause          Signal = "PAUSE"
	SignalCancel         Signal = "CANCEL"
)

// Validate checks if the Signal is a valid enum value.
func (s Signal) Validate() error {
	switch s {
	case SignalStart, SignalInitComplete, SignalPlanComplete, SignalStepComplete,
		SignalStepFailed, SignalAdapt, SignalEvaluationPass, SignalEvaluationFail,
		SignalWaitForInput, SignalWaitForAgent, SignalResume, SignalTimeout,
		SignalPause, SignalCancel:
		return nil
	default:
		return fmt.Errorf("unknown signal: %q", s)
	}
}

// runKeySeparator joins run key components inside Redis keys and index
// members, so the components themselves must not contain it.
const runKeySeparator = "|"

// RunKey identifies one agent run. At most one AgentState record exists per
// key; starting over requires a fresh TaskID.
type RunKey struct {
	AgentName string
	UserID    string
	TaskID    string
}

// Validate checks the run key components are present and encodable.
func (k RunKey) Validate() error {
	for _, part := range []struct{ name, value string }{
		{"agent_name", k.AgentName},
		{"user_id", k.UserID},
		{"task_id", k.TaskID},
	} {
		if part.value == "" {
			return fmt.Errorf("%s cannot be empty", part.name)
		}
		if strings.Contains(part.value, runKeySeparator) {
			return fmt.Errorf("%s cannot contain %q", part.name, runKeySeparator)
		}
	}
	return nil
}

// String renders the key in its index-member form.
func (k RunKey) String() string {
	return k.AgentName + runKeySeparator + k.UserID + runKeySeparator + k.TaskID
}

// ParseRunKey decodes an index member back into a RunKey.
func ParseRunKey(s string) (RunKey, error) {
	parts := strings.Split(s, runKeySeparator)
	if len(parts) != 3 {
		return RunKey{}, fmt.Errorf("malformed run key: %q", s)
	}
	k := RunKey{AgentName: parts[0], UserID: parts[1], TaskID: parts[2]}
	if err := k.Validate(); err != nil {
		return RunKey{}, err
	}
	return k, nil
}

// AgentState is the persisted execution lifecycle of one agent run.
type AgentState struct {
	ID                 string       `json:"id"` // UUID assigned at creation
	AgentName          string       `json:"agent_name"`
	UserID             string       `json:"user_id"`
	TaskID             string       `json:"task_id"`
	Current            State        `json:"current_state"`
	Previous           State        `json:"previous_state,omitempty"`
	Context            StateContext `json:"state_context"`
	TotalTransitions   int          `json:"total_transitions"`
	StateEnteredAtMs   int64        `json:"state_entered_at_ms"`
	LastTransitionAtMs int64        `json:"last_transition_at_ms"`
}

// Key returns the run key of this record.
func (a *AgentState) Key() RunKey {
	return RunKey{AgentName: a.AgentName, UserID: a.UserID, TaskID: a.TaskID}
}

// StateTransition is one append-only audit row. Rows are never updated or
// deleted; they exist purely for debugging and replay.
type StateTransition struct {
	AgentStateID string         `json:"agent_state_id"`
	From         State          `json:"from_state"`
	To           State          `json:"to_state"`
	Signal       Signal         `json:"signal"`
	Payload      map[string]any `json:"payload,omitempty"`
	DurationMs   int64          `json:"duration_ms"` // time spent in From
	AtMs         int64          `json:"at_ms"`
}

// ContextKind tags the active StateContext variant.
type ContextKind string

const (
	// ContextNone carries no resumption data (idle and terminal states).
	ContextNone ContextKind = "none"

	// ContextRun carries in-flight plan execution data.
	ContextRun ContextKind = "run"

	// ContextWaitingInput marks a suspension on user input.
	ContextWaitingInput ContextKind = "waiting_input"

	// ContextWaitingAgent marks a suspension on another agent.
	ContextWaitingAgent ContextKind = "waiting_agent"
)

// StateContext is the tagged resumption record persisted with each state.
// Exactly one variant matching Kind is set; resumption logic switches on
// Kind exhaustively instead of probing an untyped blob.
type StateContext struct {
	Kind         ContextKind          `json:"kind"`
	Run          *RunContext          `json:"run,omitempty"`
	WaitingInput *WaitingInputContext `json:"waiting_input,omitempty"`
	WaitingAgent *WaitingAgentContext `json:"waiting_agent,omitempty"`
}

// RunContext carries enough plan progress to continue a run mid-flight.
type RunContext struct {
	PlanID      string         `json:"plan_id"`
	StepIndex   int            `json:"step_index"`
	Adaptations int            `json:"adaptations"` // completed executing/adapting cycles
	LastError   string         `json:"last_error,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"` // completed step name -> tool output
}

// WaitingInputContext describes a suspension on user input.
type WaitingInputContext struct {
	Run         RunContext `json:"run"` // where to pick the plan back up
	Prompt      string     `json:"prompt"`
	TimeoutAtMs int64      `json:"timeout_at_ms,omitempty"` // 0 = no deadline
}

// WaitingAgentContext describes a suspension on another agent's output.
type WaitingAgentContext struct {
	Run         RunContext `json:"run"`
	AgentName   string     `json:"agent_name"` // who we wait on
	TaskID      string     `json:"task_id"`    // their run
	TimeoutAtMs int64      `json:"timeout_at_ms,omitempty"`
}

// NoContext is the empty context for idle and terminal states.
func NoContext() StateContext {
	return StateContext{Kind: ContextNone}
}

// RunningContext wraps plan progress for active states.
func RunningContext(rc RunContext) StateContext {
	return StateContext{Kind: ContextRun, Run: &rc}
}

// Validate checks that exactly the variant named by Kind is populated.
func (c StateContext) Validate() error {
	switch c.Kind {
	case ContextNone:
		if c.Run != nil || c.WaitingInput != nil || c.WaitingAgent != nil {
			return fmt.Errorf("context kind %q must carry no variant", c.Kind)
		}
	case ContextRun:
		if c.Run == nil || c.WaitingInput != nil || c.WaitingAgent != nil {
			return fmt.Errorf("context kind %q must carry exactly the run variant", c.Kind)
		}
	case ContextWaitingInput:
		if c.WaitingInput == nil || c.Run != nil || c.WaitingAgent != nil {
			return fmt.Errorf("context kind %q must carry exactly the waiting_input variant", c.Kind)
		}
	case ContextWaitingAgent:
		if c.WaitingAgent == nil || c.Run != nil || c.WaitingInput != nil {
			return fmt.Errorf("context kind %q must carry exactly the waiting_agent variant", c.Kind)
		}
	default:
		return fmt.Errorf("unknown context kind: %q", c.Kind)
	}
	return nil
}

// TimeoutAtMs returns the suspension deadline, or 0 when the context does
// not carry one.
func (c StateContext) TimeoutAtMs() int64 {
	switch c.Kind {
	case ContextWaitingInput:
		return c.WaitingInput.TimeoutAtMs
	case ContextWaitingAgent:
		return c.WaitingAgent.TimeoutAtMs
	default:
		return 0
	}
}
