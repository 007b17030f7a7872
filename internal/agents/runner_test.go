package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waymarkhq/waymark/internal/tools"
	"github.com/waymarkhq/waymark/pkg/agentstate"
)

func setupTestStore(t *testing.T) *agentstate.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := agentstate.NewStore(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func runKey(task string) agentstate.RunKey {
	return agentstate.RunKey{AgentName: "test-agent", UserID: "u-1", TaskID: task}
}

// flakyExecutor fails the first n invocations, then succeeds.
type flakyExecutor struct {
	failuresLeft int
	calls        int
}

func (f *flakyExecutor) Execute(ctx context.Context, toolID string, args map[string]any) (*tools.Result, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, fmt.Errorf("%s backend unavailable", toolID)
	}
	return &tools.Result{ToolID: toolID, Output: map[string]any{"ok": true}}, nil
}

// panicExecutor succeeds for the first n calls, then panics, which is
// what a worker process dying mid-step looks like from the store's side.
type panicExecutor struct {
	succeedFirst int
	calls        int
}

func (p *panicExecutor) Execute(ctx context.Context, toolID string, args map[string]any) (*tools.Result, error) {
	p.calls++
	if p.calls > p.succeedFirst {
		panic("worker died")
	}
	return &tools.Result{ToolID: toolID, Output: map[string]any{"ok": true}}, nil
}

func twoStepPlan() Plan {
	return Plan{
		ID: "test-plan",
		Steps: []Step{
			{Name: "first", ToolID: tools.ToolResumeParse, Args: map[string]any{"user_id": "u-1"}},
			{Name: "second", ToolID: tools.ToolJobSearch, Args: map[string]any{"user_id": "u-1"}},
		},
	}
}

func signalsOf(t *testing.T, store *agentstate.Store, key agentstate.RunKey) []agentstate.Signal {
	t.Helper()
	history, err := store.History(context.Background(), key)
	require.NoError(t, err)
	sigs := make([]agentstate.Signal, len(history))
	for i, row := range history {
		sigs[i] = row.Signal
	}
	return sigs
}

func TestRunHappyPath(t *testing.T) {
	store := setupTestStore(t)
	exec := tools.NewScriptedExecutor().
		Respond(tools.ToolResumeParse, map[string]any{"skills": []string{"go"}}).
		Respond(tools.ToolJobSearch, map[string]any{"matches": 2})

	r := NewRunner(store, exec, Options{})
	outcome, err := r.Run(context.Background(), runKey("t-1"), twoStepPlan())
	require.NoError(t, err)

	assert.Equal(t, agentstate.StateSucceeded, outcome.State)
	assert.False(t, outcome.Suspended())
	assert.Contains(t, outcome.Outputs, "first")
	assert.Contains(t, outcome.Outputs, "second")

	assert.Equal(t, []agentstate.Signal{
		agentstate.SignalStart,
		agentstate.SignalInitComplete,
		agentstate.SignalPlanComplete,
		agentstate.SignalStepComplete,
		agentstate.SignalEvaluationPass,
	}, signalsOf(t, store, runKey("t-1")))
}

func TestRunRejectsEmptyPlan(t *testing.T) {
	store := setupTestStore(t)
	r := NewRunner(store, tools.NewScriptedExecutor(), Options{})

	_, err := r.Run(context.Background(), runKey("t-1"), Plan{ID: "empty"})
	require.Error(t, err)
}

func TestRunAdaptsOnStepFailure(t *testing.T) {
	store := setupTestStore(t)
	exec := &flakyExecutor{failuresLeft: 1}

	r := NewRunner(store, exec, Options{MaxAdaptations: 2})
	outcome, err := r.Run(context.Background(), runKey("t-1"), twoStepPlan())
	require.NoError(t, err)

	assert.Equal(t, agentstate.StateSucceeded, outcome.State)
	assert.Equal(t, 3, exec.calls, "one failed attempt plus two successes")

	sigs := signalsOf(t, store, runKey("t-1"))
	assert.Contains(t, sigs, agentstate.SignalAdapt)
}

func TestRunExhaustsAdaptationBudget(t *testing.T) {
	store := setupTestStore(t)
	exec := &flakyExecutor{failuresLeft: 100}

	r := NewRunner(store, exec, Options{MaxAdaptations: 2})
	outcome, err := r.Run(context.Background(), runKey("t-1"), twoStepPlan())

	require.Error(t, err)
	assert.Equal(t, agentstate.StateFailed, outcome.State)
	assert.Equal(t, 3, exec.calls, "initial attempt plus two adaptations")

	got, err := store.Get(context.Background(), runKey("t-1"))
	require.NoError(t, err)
	assert.Equal(t, agentstate.StateFailed, got.Current)
}

func TestRunRefusesExistingKey(t *testing.T) {
	store := setupTestStore(t)
	exec := tools.NewScriptedExecutor().
		Respond(tools.ToolResumeParse, map[string]any{}).
		Respond(tools.ToolJobSearch, map[string]any{})

	r := NewRunner(store, exec, Options{})
	_, err := r.Run(context.Background(), runKey("t-1"), twoStepPlan())
	require.NoError(t, err)

	_, err = r.Run(context.Background(), runKey("t-1"), twoStepPlan())
	require.ErrorIs(t, err, agentstate.ErrAlreadyExists)
}

func TestApprovalSuspendsAndResumes(t *testing.T) {
	store := setupTestStore(t)
	exec := tools.NewScriptedExecutor().
		Respond(tools.ToolResumeParse, map[string]any{}).
		Respond(tools.ToolJobApply, map[string]any{"submitted": true})

	plan := Plan{
		ID: "gated-plan",
		Steps: []Step{
			{Name: "prepare", ToolID: tools.ToolResumeParse},
			{Name: "submit", ToolID: tools.ToolJobApply, Approval: "approve submission"},
		},
	}

	r := NewRunner(store, exec, Options{})
	key := runKey("t-1")

	outcome, err := r.Run(context.Background(), key, plan)
	require.NoError(t, err)
	assert.Equal(t, agentstate.StateWaitingInput, outcome.State)
	assert.True(t, outcome.Suspended())
	assert.Equal(t, []string{tools.ToolResumeParse}, exec.Calls(), "the gated tool must not fire")

	// The persisted record alone carries the resume position.
	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, agentstate.ContextWaitingInput, got.Context.Kind)
	assert.Equal(t, 1, got.Context.WaitingInput.Run.StepIndex)
	assert.Equal(t, "approve submission", got.Context.WaitingInput.Prompt)
	assert.NotZero(t, got.Context.WaitingInput.TimeoutAtMs)

	resumed, err := r.Resume(context.Background(), key, plan)
	require.NoError(t, err)
	assert.Equal(t, agentstate.StateSucceeded, resumed.State)
	assert.Contains(t, resumed.Outputs, "submit")
	assert.Equal(t, []string{tools.ToolResumeParse, tools.ToolJobApply}, exec.Calls(),
		"resume continues from the gated step, not from the top")
}

func TestResumeRejectsWrongStates(t *testing.T) {
	store := setupTestStore(t)
	r := NewRunner(store, tools.NewScriptedExecutor(), Options{})
	key := runKey("t-1")

	t.Run("missing run", func(t *testing.T) {
		_, err := r.Resume(context.Background(), key, twoStepPlan())
		require.Error(t, err)
	})

	t.Run("idle run", func(t *testing.T) {
		_, err := store.Create(context.Background(), key)
		require.NoError(t, err)

		_, err = r.Resume(context.Background(), key, twoStepPlan())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not resumable")
	})

	t.Run("finished run", func(t *testing.T) {
		exec := tools.NewScriptedExecutor().
			Respond(tools.ToolResumeParse, map[string]any{}).
			Respond(tools.ToolJobSearch, map[string]any{})
		done := NewRunner(store, exec, Options{})
		fkey := runKey("t-done")
		_, err := done.Run(context.Background(), fkey, twoStepPlan())
		require.NoError(t, err)

		_, err = done.Resume(context.Background(), fkey, twoStepPlan())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not resumable")
	})
}

func TestResumeRecoversCrashedRun(t *testing.T) {
	store := setupTestStore(t)
	key := runKey("t-crash")
	plan := twoStepPlan()

	crashed := NewRunner(store, &panicExecutor{succeedFirst: 1}, Options{})
	require.Panics(t, func() {
		_, _ = crashed.Run(context.Background(), key, plan)
	})

	// The dead worker left the run in executing, pointing past the step
	// it checkpointed.
	a, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, agentstate.StateExecuting, a.Current)
	require.NotNil(t, a.Context.Run)
	assert.Equal(t, 1, a.Context.Run.StepIndex)
	assert.Contains(t, a.Context.Run.Outputs, "first")

	// Redelivering the triggering event resumes the run from the
	// checkpoint instead of stranding it.
	good := &flakyExecutor{}
	outcome, err := NewRunner(store, good, Options{}).Resume(context.Background(), key, plan)
	require.NoError(t, err)
	assert.Equal(t, agentstate.StateSucceeded, outcome.State)
	assert.Equal(t, 1, good.calls, "only the unfinished step re-runs")
	assert.Contains(t, outcome.Outputs, "first")
	assert.Contains(t, outcome.Outputs, "second")
}

func TestResumeRecoversRunStrandedBeforeExecution(t *testing.T) {
	store := setupTestStore(t)
	key := runKey("t-early")
	ctx := context.Background()

	// A worker that died right after creating the record leaves the run
	// in initializing with no plan committed.
	_, err := store.Create(ctx, key)
	require.NoError(t, err)
	_, err = store.Transition(ctx, key, agentstate.SignalStart, agentstate.NoContext(), nil)
	require.NoError(t, err)

	exec := tools.NewScriptedExecutor().
		Respond(tools.ToolResumeParse, map[string]any{}).
		Respond(tools.ToolJobSearch, map[string]any{})
	outcome, err := NewRunner(store, exec, Options{}).Resume(ctx, key, twoStepPlan())
	require.NoError(t, err)
	assert.Equal(t, agentstate.StateSucceeded, outcome.State)
	assert.Len(t, exec.Calls(), 2)
}

func TestResumeRetakesInterruptedVerdict(t *testing.T) {
	store := setupTestStore(t)
	key := runKey("t-verdict")
	ctx := context.Background()

	plan := twoStepPlan()
	plan.Evaluate = requireOutputs("first", "second")

	// Drive the record to evaluating by hand, the way a run looks when
	// its worker died between the last step and the verdict.
	rc := agentstate.RunContext{
		PlanID:    plan.ID,
		StepIndex: 2,
		Outputs: map[string]any{
			"first":  map[string]any{"ok": true},
			"second": map[string]any{"ok": true},
		},
	}
	_, err := store.Create(ctx, key)
	require.NoError(t, err)
	_, err = store.Transition(ctx, key, agentstate.SignalStart, agentstate.NoContext(), nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, key, agentstate.SignalInitComplete, agentstate.NoContext(), nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, key, agentstate.SignalPlanComplete, agentstate.RunningContext(rc), nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, key, agentstate.SignalStepComplete, agentstate.RunningContext(rc), nil)
	require.NoError(t, err)

	exec := tools.NewScriptedExecutor()
	outcome, err := NewRunner(store, exec, Options{}).Resume(ctx, key, plan)
	require.NoError(t, err)
	assert.Equal(t, agentstate.StateSucceeded, outcome.State)
	assert.Empty(t, exec.Calls(), "checkpointed outputs make re-running steps unnecessary")
}

func TestResumeRejectsMismatchedPlan(t *testing.T) {
	store := setupTestStore(t)
	exec := tools.NewScriptedExecutor().Respond(tools.ToolResumeParse, map[string]any{})

	plan := Plan{
		ID: "gated-plan",
		Steps: []Step{
			{Name: "prepare", ToolID: tools.ToolResumeParse},
			{Name: "submit", ToolID: tools.ToolJobApply, Approval: "approve"},
		},
	}

	r := NewRunner(store, exec, Options{})
	key := runKey("t-1")
	_, err := r.Run(context.Background(), key, plan)
	require.NoError(t, err)

	other := twoStepPlan()
	_, err = r.Resume(context.Background(), key, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suspended on plan")
}

func TestEvaluationFailRetriesWholePlan(t *testing.T) {
	store := setupTestStore(t)
	exec := tools.NewScriptedExecutor().
		Respond(tools.ToolResumeParse, map[string]any{}).
		Respond(tools.ToolJobSearch, map[string]any{})

	evaluations := 0
	plan := twoStepPlan()
	plan.Evaluate = func(outputs map[string]any) error {
		evaluations++
		if evaluations == 1 {
			return errors.New("market scan came back empty")
		}
		return nil
	}

	r := NewRunner(store, exec, Options{MaxAdaptations: 2})
	outcome, err := r.Run(context.Background(), runKey("t-1"), plan)
	require.NoError(t, err)

	assert.Equal(t, agentstate.StateSucceeded, outcome.State)
	assert.Equal(t, 2, evaluations)
	assert.Len(t, exec.Calls(), 4, "both steps re-ran under the adaptation")

	sigs := signalsOf(t, store, runKey("t-1"))
	assert.Contains(t, sigs, agentstate.SignalEvaluationFail)
}

func TestEvaluationFailExhaustsBudget(t *testing.T) {
	store := setupTestStore(t)
	exec := tools.NewScriptedExecutor().
		Respond(tools.ToolResumeParse, map[string]any{}).
		Respond(tools.ToolJobSearch, map[string]any{})

	plan := twoStepPlan()
	plan.Evaluate = func(outputs map[string]any) error {
		return errors.New("never good enough")
	}

	r := NewRunner(store, exec, Options{MaxAdaptations: 1})
	outcome, err := r.Run(context.Background(), runKey("t-1"), plan)

	require.Error(t, err)
	assert.Equal(t, agentstate.StateFailed, outcome.State)
}
