package tools

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedExecutor is an in-memory Executor for tests and dry runs. Each
// tool ID is bound to a fixed response or error; invocations are recorded
// in order.
type ScriptedExecutor struct {
	mu        sync.Mutex
	responses map[string]map[string]any
	failures  map[string]error
	calls     []string
}

// NewScriptedExecutor creates an executor with no bindings. Unbound tool
// IDs return an error.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{
		responses: make(map[string]map[string]any),
		failures:  make(map[string]error),
	}
}

// Respond binds a canned output to a tool ID.
func (s *ScriptedExecutor) Respond(toolID string, output map[string]any) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[toolID] = output
	delete(s.failures, toolID)
	return s
}

// Fail binds an error to a tool ID.
func (s *ScriptedExecutor) Fail(toolID string, err error) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[toolID] = err
	delete(s.responses, toolID)
	return s
}

// Calls returns the tool IDs invoked so far, in order.
func (s *ScriptedExecutor) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Execute implements Executor.
func (s *ScriptedExecutor) Execute(ctx context.Context, toolID string, args map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, toolID)

	if err, ok := s.failures[toolID]; ok {
		return nil, err
	}
	if output, ok := s.responses[toolID]; ok {
		return &Result{ToolID: toolID, Output: output}, nil
	}
	return nil, fmt.Errorf("no scripted response for tool %q", toolID)
}
