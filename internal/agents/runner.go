// Package agents drives persisted agent runs through their state machine.
// A Runner walks one run along initializing, planning, executing, and
// evaluating, invoking one tool per plan step, with a bounded adaptation
// budget for recoverable step failures. Every transition is persisted
// before the next step runs, and executing runs checkpoint their position
// after each step, so a run suspended on user input, parked on another
// agent, or orphaned by a dead worker can be picked back up later, in
// another process, from the stored record alone.
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/waymarkhq/waymark/internal/tools"
	"github.com/waymarkhq/waymark/pkg/agentstate"
)

// DefaultMaxAdaptations bounds executing/adapting cycles per run. The
// state machine itself is permissive; the budget is driver policy.
const DefaultMaxAdaptations = 2

// DefaultApprovalTimeout is how long a run may sit in waiting_input
// before the expiry sweep times it out.
const DefaultApprovalTimeout = 24 * time.Hour

// Step is one unit of plan work: a single tool invocation. A non-empty
// Approval prompt suspends the run for user confirmation before the tool
// fires.
type Step struct {
	Name     string
	ToolID   string
	Args     map[string]any
	Approval string
}

// Plan is an ordered list of steps plus an optional evaluation of the
// collected outputs. A nil Evaluate accepts any completed run.
type Plan struct {
	ID       string
	Steps    []Step
	Evaluate func(outputs map[string]any) error
}

// Outcome reports where a drive left the run: a terminal state, or a
// waiting state with the run suspended.
type Outcome struct {
	State   agentstate.State
	Outputs map[string]any
}

// Suspended reports whether the run is parked waiting for input or for
// another agent rather than finished.
func (o *Outcome) Suspended() bool {
	return o.State.Waiting() || o.State == agentstate.StatePaused
}

// Options tunes a Runner.
type Options struct {
	MaxAdaptations  int
	ApprovalTimeout time.Duration
}

func (o *Options) normalize() {
	if o.MaxAdaptations <= 0 {
		o.MaxAdaptations = DefaultMaxAdaptations
	}
	if o.ApprovalTimeout <= 0 {
		o.ApprovalTimeout = DefaultApprovalTimeout
	}
}

// Runner drives agent runs against a state store and a tool executor.
type Runner struct {
	store *agentstate.Store
	exec  tools.Executor
	opts  Options
}

// NewRunner creates a runner.
func NewRunner(store *agentstate.Store, exec tools.Executor, opts Options) *Runner {
	opts.normalize()
	return &Runner{store: store, exec: exec, opts: opts}
}

// Run starts a fresh run for key and drives it as far as the plan allows.
// Returns agentstate.ErrAlreadyExists (wrapped) if the key already has a
// record; use Resume for suspended runs.
func (r *Runner) Run(ctx context.Context, key agentstate.RunKey, plan Plan) (*Outcome, error) {
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan %s has no steps", plan.ID)
	}

	if _, err := r.store.Create(ctx, key); err != nil {
		return nil, err
	}

	if _, err := r.store.Transition(ctx, key, agentstate.SignalStart, agentstate.NoContext(),
		map[string]any{"plan_id": plan.ID}); err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	if _, err := r.store.Transition(ctx, key, agentstate.SignalInitComplete, agentstate.NoContext(), nil); err != nil {
		return nil, fmt.Errorf("finishing init: %w", err)
	}

	rc := agentstate.RunContext{PlanID: plan.ID}
	if _, err := r.store.Transition(ctx, key, agentstate.SignalPlanComplete,
		agentstate.RunningContext(rc), nil); err != nil {
		return nil, fmt.Errorf("committing plan: %w", err)
	}

	return r.execute(ctx, key, plan, rc, false)
}

// Resume picks up a suspended or interrupted run from its persisted
// record. The caller supplies the plan, rebuilt deterministically by the
// driver that owns the run; position, collected outputs, and adaptation
// budget come from the stored context. Resuming past a waiting_input step
// counts as the approval being granted.
//
// A run left in an active state by a dead worker is re-driven from its
// last checkpoint rather than rejected, so event redelivery is all it
// takes to recover a crashed run.
func (r *Runner) Resume(ctx context.Context, key agentstate.RunKey, plan Plan) (*Outcome, error) {
	a, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", key, err)
	}

	rc := runContextOf(a)
	if rc.PlanID != "" && rc.PlanID != plan.ID {
		return nil, fmt.Errorf("run %s was suspended on plan %s, got %s", key, rc.PlanID, plan.ID)
	}

	switch a.Current {
	case agentstate.StateWaitingInput:
		if _, err := r.store.Transition(ctx, key, agentstate.SignalResume,
			agentstate.RunningContext(rc), nil); err != nil {
			return nil, fmt.Errorf("resuming run: %w", err)
		}
		return r.execute(ctx, key, plan, rc, true)

	case agentstate.StateWaitingAgent, agentstate.StatePaused:
		if _, err := r.store.Transition(ctx, key, agentstate.SignalResume,
			agentstate.RunningContext(rc), nil); err != nil {
			return nil, fmt.Errorf("resuming run: %w", err)
		}
		return r.execute(ctx, key, plan, rc, false)

	case agentstate.StateExecuting:
		// A dead worker left the run mid-plan. It is already in the right
		// state, so no transition fires; execution picks up at the
		// checkpointed step.
		return r.execute(ctx, key, plan, rc, false)

	case agentstate.StateInitializing:
		if _, err := r.store.Transition(ctx, key, agentstate.SignalInitComplete,
			agentstate.NoContext(), nil); err != nil {
			return nil, fmt.Errorf("finishing init: %w", err)
		}
		return r.replan(ctx, key, plan, rc)

	case agentstate.StatePlanning, agentstate.StateAdapting:
		return r.replan(ctx, key, plan, rc)

	case agentstate.StateEvaluating:
		// Interrupted between the last step and the verdict. The outputs
		// travelled with the checkpointed context, so the verdict can be
		// retaken directly.
		return r.verdict(ctx, key, plan, rc)

	default:
		return nil, fmt.Errorf("run %s is %s, not resumable", key, a.Current)
	}
}

// replan recommits the caller's plan for a run interrupted before its
// plan was committed, then executes it.
func (r *Runner) replan(ctx context.Context, key agentstate.RunKey, plan Plan, rc agentstate.RunContext) (*Outcome, error) {
	rc.PlanID = plan.ID
	if _, err := r.store.Transition(ctx, key, agentstate.SignalPlanComplete,
		agentstate.RunningContext(rc), nil); err != nil {
		return nil, fmt.Errorf("committing plan: %w", err)
	}
	return r.execute(ctx, key, plan, rc, false)
}

// runContextOf extracts plan progress from whichever variant the stored
// context carries. States persisted before any plan committed yield the
// zero progress record.
func runContextOf(a *agentstate.AgentState) agentstate.RunContext {
	c := a.Context
	switch {
	case c.Run != nil:
		return *c.Run
	case c.WaitingInput != nil:
		return c.WaitingInput.Run
	case c.WaitingAgent != nil:
		return c.WaitingAgent.Run
	default:
		return agentstate.RunContext{}
	}
}

// execute walks the plan from rc.StepIndex, checkpointing the context
// after every completed step. approvedCurrent marks the step at the
// resume position as already confirmed so a resumed run does not
// re-suspend on the same prompt.
func (r *Runner) execute(ctx context.Context, key agentstate.RunKey, plan Plan, rc agentstate.RunContext, approvedCurrent bool) (*Outcome, error) {
	if rc.Outputs == nil {
		rc.Outputs = make(map[string]any)
	}

	for rc.StepIndex < len(plan.Steps) {
		step := plan.Steps[rc.StepIndex]

		if step.Approval != "" && !approvedCurrent {
			return r.suspendForInput(ctx, key, rc, step)
		}
		approvedCurrent = false

		result, err := r.exec.Execute(ctx, step.ToolID, step.Args)
		if err != nil {
			retry, adaptErr := r.adaptOrFail(ctx, key, &rc, step, err)
			if adaptErr != nil {
				return nil, adaptErr
			}
			if !retry {
				return &Outcome{State: agentstate.StateFailed, Outputs: rc.Outputs},
					fmt.Errorf("step %s: %w", step.Name, err)
			}
			continue
		}

		rc.Outputs[step.Name] = result.Output
		rc.StepIndex++
		if err := r.store.Checkpoint(ctx, key, agentstate.StateExecuting,
			agentstate.RunningContext(rc)); err != nil {
			return nil, fmt.Errorf("checkpointing after step %s: %w", step.Name, err)
		}
	}

	return r.evaluate(ctx, key, plan, rc)
}

// suspendForInput parks the run in waiting_input on the current step.
func (r *Runner) suspendForInput(ctx context.Context, key agentstate.RunKey, rc agentstate.RunContext, step Step) (*Outcome, error) {
	waiting := agentstate.StateContext{
		Kind: agentstate.ContextWaitingInput,
		WaitingInput: &agentstate.WaitingInputContext{
			Run:         rc,
			Prompt:      step.Approval,
			TimeoutAtMs: time.Now().Add(r.opts.ApprovalTimeout).UnixMilli(),
		},
	}
	if _, err := r.store.Transition(ctx, key, agentstate.SignalWaitForInput, waiting,
		map[string]any{"step": step.Name}); err != nil {
		return nil, fmt.Errorf("suspending for input: %w", err)
	}
	return &Outcome{State: agentstate.StateWaitingInput}, nil
}

// adaptOrFail spends one adaptation on a failed step if the budget allows,
// returning retry=true with the run back in executing. With the budget
// spent it drives the run to failed and returns retry=false.
func (r *Runner) adaptOrFail(ctx context.Context, key agentstate.RunKey, rc *agentstate.RunContext, step Step, stepErr error) (bool, error) {
	if rc.Adaptations >= r.opts.MaxAdaptations {
		if _, err := r.store.Transition(ctx, key, agentstate.SignalStepFailed, agentstate.NoContext(),
			map[string]any{"step": step.Name, "error": stepErr.Error()}); err != nil {
			return false, fmt.Errorf("failing run: %w", err)
		}
		return false, nil
	}

	rc.Adaptations++
	rc.LastError = stepErr.Error()
	if _, err := r.store.Transition(ctx, key, agentstate.SignalAdapt,
		agentstate.RunningContext(*rc),
		map[string]any{"step": step.Name, "error": stepErr.Error()}); err != nil {
		return false, fmt.Errorf("entering adapting: %w", err)
	}
	if _, err := r.store.Transition(ctx, key, agentstate.SignalPlanComplete,
		agentstate.RunningContext(*rc), nil); err != nil {
		return false, fmt.Errorf("leaving adapting: %w", err)
	}
	return true, nil
}

// evaluate moves the run into evaluating and takes the verdict.
func (r *Runner) evaluate(ctx context.Context, key agentstate.RunKey, plan Plan, rc agentstate.RunContext) (*Outcome, error) {
	if _, err := r.store.Transition(ctx, key, agentstate.SignalStepComplete,
		agentstate.RunningContext(rc), nil); err != nil {
		return nil, fmt.Errorf("entering evaluating: %w", err)
	}
	return r.verdict(ctx, key, plan, rc)
}

// verdict judges the collected outputs and closes the run, or spends an
// adaptation on a full re-run. The run must already be in evaluating.
func (r *Runner) verdict(ctx context.Context, key agentstate.RunKey, plan Plan, rc agentstate.RunContext) (*Outcome, error) {
	var evalErr error
	if plan.Evaluate != nil {
		evalErr = plan.Evaluate(rc.Outputs)
	}

	if evalErr == nil {
		if _, err := r.store.Transition(ctx, key, agentstate.SignalEvaluationPass,
			agentstate.NoContext(), nil); err != nil {
			return nil, fmt.Errorf("closing run: %w", err)
		}
		return &Outcome{State: agentstate.StateSucceeded, Outputs: rc.Outputs}, nil
	}

	if rc.Adaptations >= r.opts.MaxAdaptations {
		if _, err := r.store.Transition(ctx, key, agentstate.SignalStepFailed, agentstate.NoContext(),
			map[string]any{"error": evalErr.Error()}); err != nil {
			return nil, fmt.Errorf("failing run: %w", err)
		}
		return &Outcome{State: agentstate.StateFailed, Outputs: rc.Outputs},
			fmt.Errorf("evaluation: %w", evalErr)
	}

	// Re-run the whole plan under a fresh adaptation.
	rc.Adaptations++
	rc.StepIndex = 0
	rc.LastError = evalErr.Error()
	rc.Outputs = nil
	if _, err := r.store.Transition(ctx, key, agentstate.SignalEvaluationFail,
		agentstate.RunningContext(rc),
		map[string]any{"error": evalErr.Error()}); err != nil {
		return nil, fmt.Errorf("entering adapting: %w", err)
	}
	if _, err := r.store.Transition(ctx, key, agentstate.SignalPlanComplete,
		agentstate.RunningContext(rc), nil); err != nil {
		return nil, fmt.Errorf("leaving adapting: %w", err)
	}
	return r.execute(ctx, key, plan, rc, false)
}
