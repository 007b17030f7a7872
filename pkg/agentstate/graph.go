package agentstate

import (
	"errors"
	"fmt"
)

// transitions is the fixed legal-edge graph. Terminal states deliberately
// have no entry: nothing leaves succeeded, failed, or cancelled.
var transitions = map[State]map[Signal]State{
	StateIdle: {
		SignalStart:  StateInitializing,
		SignalCancel: StateCancelled,
	},
	StateInitializing: {
		SignalInitComplete: StatePlanning,
		SignalStepFailed:   StateFailed,
		SignalCancel:       StateCancelled,
	},
	StatePlanning: {
		SignalPlanComplete: StateExecuting,
		SignalWaitForInput: StateWaitingInput,
		SignalStepFailed:   StateFailed,
		SignalCancel:       StateCancelled,
	},
	StateExecuting: {
		SignalStepComplete: StateEvaluating,
		SignalStepFailed:   StateFailed,
		SignalAdapt:        StateAdapting,
		SignalWaitForInput: StateWaitingInput,
		SignalWaitForAgent: StateWaitingAgent,
		SignalPause:        StatePaused,
		SignalCancel:       StateCancelled,
	},
	StateEvaluating: {
		SignalEvaluationPass: StateSucceeded,
		SignalEvaluationFail: StateAdapting,
		SignalStepFailed:     StateFailed,
		SignalCancel:         StateCancelled,
	},
	StateAdapting: {
		SignalPlanComplete: StateExecuting,
		SignalStepFailed:   StateFailed,
		SignalCancel:       StateCancelled,
	},
	StateWaitingInput: {
		SignalResume:  StateExecuting,
		SignalTimeout: StateFailed,
		SignalPause:   StatePaused,
		SignalCancel:  StateCancelled,
	},
	StateWaitingAgent: {
		SignalResume:  StateExecuting,
		SignalTimeout: StateFailed,
		SignalPause:   StatePaused,
		SignalCancel:  StateCancelled,
	},
	StatePaused: {
		SignalResume: StateExecuting,
		SignalCancel: StateCancelled,
	},
}

// IllegalTransitionError reports an attempted transition with no legal edge.
// It is a typed error so drivers can distinguish machine rejections from
// storage failures.
type IllegalTransitionError struct {
	From   State
	Signal Signal
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: no edge from %q on signal %q", e.From, e.Signal)
}

// IsIllegalTransition reports whether err is a machine rejection rather
// than a storage failure.
func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}

// Next resolves the target state for a signal from the given state.
// Returns *IllegalTransitionError when no edge exists, including any signal
// fired at a terminal state.
func Next(from State, sig Signal) (State, error) {
	if edges, ok := transitions[from]; ok {
		if to, ok := edges[sig]; ok {
			return to, nil
		}
	}
	return "", &IllegalTransitionError{From: from, Signal: sig}
}

// LegalSignals returns the signals with an edge out of the given state,
// for diagnostics. Order is unspecified.
func LegalSignals(from State) []Signal {
	edges := transitions[from]
	sigs := make([]Signal, 0, len(edges))
	for sig := range edges {
		sigs = append(sigs, sig)
	}
	return sigs
}
