package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). The structured
// payload is JSON-encoded into a single hash field. This provides a balance
// between queryability (individual fields) and flexibility (the payload's
// type-specific shape).

// ToHash converts an Event struct to a Redis hash format.
// The payload document is JSON-encoded.
func ToHash(e *Event) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := map[string]interface{}{
		"id":              e.ID,
		"type":            string(e.Type),
		"payload":         string(payloadJSON),
		"status":          string(e.Status),
		"priority":        e.Priority,
		"source_agent":    e.SourceAgent,
		"target_agent":    e.TargetAgent,
		"created_at_ms":   e.CreatedAtMs,
		"processed_at_ms": e.ProcessedAtMs,
		"error_message":   e.ErrorMessage,
		"retry_count":     e.RetryCount,
	}

	return hash, nil
}

// FromHash converts a Redis hash to an Event struct.
// JSON fields are decoded back to Go types.
func FromHash(hash map[string]string) (*Event, error) {
	priority, err := strconv.Atoi(hash["priority"])
	if err != nil {
		return nil, fmt.Errorf("invalid priority field: %w", err)
	}

	var payload map[string]any
	if payloadJSON := hash["payload"]; payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	retryCount, err := strconv.Atoi(hash["retry_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid retry_count field: %w", err)
	}

	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	var processedAtMs int64
	if raw := hash["processed_at_ms"]; raw != "" {
		processedAtMs, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid processed_at_ms field: %w", err)
		}
	}

	ev := &Event{
		ID:            hash["id"],
		Type:          Type(hash["type"]),
		Payload:       payload,
		Status:        Status(hash["status"]),
		Priority:      priority,
		SourceAgent:   hash["source_agent"],
		TargetAgent:   hash["target_agent"],
		CreatedAtMs:   createdAtMs,
		ProcessedAtMs: processedAtMs,
		ErrorMessage:  hash["error_message"],
		RetryCount:    retryCount,
	}

	return ev, nil
}

// hashArgs flattens a hash map into alternating field/value script arguments.
// Lua scripts receive the pairs after any leading fixed arguments.
func hashArgs(hash map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(hash)*2)
	for field, value := range hash {
		args = append(args, field, value)
	}
	return args
}
