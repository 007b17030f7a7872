package agentstate

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ToHash converts an AgentState to Redis hash format.
// The tagged context is JSON-encoded into a single field.
func ToHash(a *AgentState) (map[string]interface{}, error) {
	contextJSON, err := json.Marshal(a.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state context: %w", err)
	}

	hash := map[string]interface{}{
		"id":                    a.ID,
		"agent_name":            a.AgentName,
		"user_id":               a.UserID,
		"task_id":               a.TaskID,
		"current_state":         string(a.Current),
		"previous_state":        string(a.Previous),
		"state_context":         string(contextJSON),
		"total_transitions":     a.TotalTransitions,
		"state_entered_at_ms":   a.StateEnteredAtMs,
		"last_transition_at_ms": a.LastTransitionAtMs,
	}

	return hash, nil
}

// FromHash converts a Redis hash back to an AgentState.
func FromHash(hash map[string]string) (*AgentState, error) {
	var sc StateContext
	if contextJSON := hash["state_context"]; contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &sc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state_context: %w", err)
		}
	} else {
		sc = NoContext()
	}

	totalTransitions, err := strconv.Atoi(hash["total_transitions"])
	if err != nil {
		return nil, fmt.Errorf("invalid total_transitions field: %w", err)
	}

	enteredAtMs, _ := strconv.ParseInt(hash["state_entered_at_ms"], 10, 64)
	lastTransitionAtMs, _ := strconv.ParseInt(hash["last_transition_at_ms"], 10, 64)

	a := &AgentState{
		ID:                 hash["id"],
		AgentName:          hash["agent_name"],
		UserID:             hash["user_id"],
		TaskID:             hash["task_id"],
		Current:            State(hash["current_state"]),
		Previous:           State(hash["previous_state"]),
		Context:            sc,
		TotalTransitions:   totalTransitions,
		StateEnteredAtMs:   enteredAtMs,
		LastTransitionAtMs: lastTransitionAtMs,
	}

	return a, nil
}
