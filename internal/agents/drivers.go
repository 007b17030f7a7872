package agents

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/waymarkhq/waymark/internal/dispatch"
	"github.com/waymarkhq/waymark/internal/tools"
	"github.com/waymarkhq/waymark/pkg/agentstate"
	"github.com/waymarkhq/waymark/pkg/event"
)

// Shipped agent names. The agent name is the first component of the run
// key, so each driver owns a disjoint run keyspace.
const (
	AgentOnboarding  = "onboarding-agent"
	AgentApplication = "application-agent"
	AgentRepath      = "repath-agent"
)

// driverSpec binds an event type to a deterministic plan builder. Plans
// are rebuilt from the event payload on every drive, which is what lets
// Resume work without persisting step lists.
type driverSpec struct {
	agentName string
	trigger   event.Type
	plan      func(ev *event.Event) Plan
}

// shippedDrivers is the fixed driver set.
var shippedDrivers = []driverSpec{
	{
		agentName: AgentOnboarding,
		trigger:   event.TypeOnboardingCompleted,
		plan:      onboardingPlan,
	},
	{
		agentName: AgentApplication,
		trigger:   event.TypeApplyTriggered,
		plan:      applicationPlan,
	},
	{
		agentName: AgentRepath,
		trigger:   event.TypeRoadmapRepathNeeded,
		plan:      repathPlan,
	},
}

// onboardingPlan builds the initial roadmap for a freshly onboarded user:
// parse their resume, then scan the market for matching roles.
func onboardingPlan(ev *event.Event) Plan {
	user := payloadString(ev, "user_id")
	return Plan{
		ID: "onboarding-roadmap",
		Steps: []Step{
			{
				Name:   "parse_resume",
				ToolID: tools.ToolResumeParse,
				Args:   map[string]any{"user_id": user, "resume_url": payloadString(ev, "resume_url")},
			},
			{
				Name:   "scan_market",
				ToolID: tools.ToolJobSearch,
				Args:   map[string]any{"user_id": user, "target_role": payloadString(ev, "target_role")},
			},
		},
		Evaluate: requireOutputs("parse_resume", "scan_market"),
	}
}

// applicationPlan drives one job application end to end. Submission is
// gated on user approval, so this plan routinely suspends in
// waiting_input and finishes on a later RESUME.
func applicationPlan(ev *event.Event) Plan {
	user := payloadString(ev, "user_id")
	jobURL := payloadString(ev, "job_url")
	return Plan{
		ID: "job-application",
		Steps: []Step{
			{
				Name:   "analyze_form",
				ToolID: tools.ToolFormAnalyze,
				Args:   map[string]any{"job_url": jobURL},
			},
			{
				Name:   "tailor_resume",
				ToolID: tools.ToolResumeGenerate,
				Args:   map[string]any{"user_id": user, "job_url": jobURL},
			},
			{
				Name:     "submit_application",
				ToolID:   tools.ToolJobApply,
				Args:     map[string]any{"user_id": user, "job_url": jobURL},
				Approval: "approve application submission",
			},
		},
		Evaluate: requireOutputs("submit_application"),
	}
}

// repathPlan rebuilds a user's roadmap after the listener detects a
// rejection streak: rescan the market, then regenerate the base resume
// against what it found.
func repathPlan(ev *event.Event) Plan {
	user := payloadString(ev, "user_id")
	return Plan{
		ID: "roadmap-repath",
		Steps: []Step{
			{
				Name:   "rescan_market",
				ToolID: tools.ToolJobSearch,
				Args:   map[string]any{"user_id": user, "trigger": payloadString(ev, "trigger")},
			},
			{
				Name:   "regenerate_resume",
				ToolID: tools.ToolResumeGenerate,
				Args:   map[string]any{"user_id": user},
			},
		},
		Evaluate: requireOutputs("rescan_market", "regenerate_resume"),
	}
}

// RegisterHandlers binds every shipped driver to the dispatch registry,
// then an acknowledgement handler for each remaining event type. Every
// type in the closed set ends up bound, so the dispatcher's coverage
// check passes and notification-only events complete instead of failing
// with no handler.
func RegisterHandlers(registry *dispatch.Registry, runner *Runner) error {
	for _, spec := range shippedDrivers {
		if err := registry.Register(spec.trigger, handlerFor(spec, runner)); err != nil {
			return fmt.Errorf("registering %s: %w", spec.agentName, err)
		}
	}
	for _, t := range event.Types {
		if _, ok := registry.HandlerFor(t); ok {
			continue
		}
		if err := registry.Register(t, acknowledge); err != nil {
			return fmt.Errorf("registering acknowledgement for %s: %w", t, err)
		}
	}
	return nil
}

// acknowledge completes a notification-only event. No agent runs on it;
// the global listener reacts to these off the broadcast channel.
func acknowledge(ctx context.Context, ev *event.Event) error {
	return nil
}

// handlerFor adapts one driver to the dispatch contract. The event ID is
// the task ID, so a redelivered event resumes its own run instead of
// starting a second one.
func handlerFor(spec driverSpec, runner *Runner) dispatch.HandlerFunc {
	return func(ctx context.Context, ev *event.Event) error {
		user := payloadString(ev, "user_id")
		if user == "" {
			return dispatch.Fatal(fmt.Errorf("event %s has no user_id", ev.ID))
		}

		key := agentstate.RunKey{AgentName: spec.agentName, UserID: user, TaskID: ev.ID}
		plan := spec.plan(ev)

		outcome, err := runner.Run(ctx, key, plan)
		if errors.Is(err, agentstate.ErrAlreadyExists) {
			outcome, err = runner.Resume(ctx, key, plan)
		}
		if err != nil {
			if tools.IsTimeout(err) {
				return err
			}
			// The run record is terminal; a retry could not restart it.
			return dispatch.Fatal(err)
		}

		if outcome.Suspended() {
			// The run completes later via an explicit resume; the
			// triggering event's work is done.
			log.Printf("[Agents] run %s suspended in %s", key, outcome.State)
		}
		return nil
	}
}

func payloadString(ev *event.Event, field string) string {
	if ev.Payload == nil {
		return ""
	}
	s, _ := ev.Payload[field].(string)
	return s
}

// requireOutputs builds an evaluation that checks each named step
// produced output.
func requireOutputs(names ...string) func(map[string]any) error {
	return func(outputs map[string]any) error {
		for _, name := range names {
			if _, ok := outputs[name]; !ok {
				return fmt.Errorf("step %s produced no output", name)
			}
		}
		return nil
	}
}
