package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waymarkhq/waymark/internal/format"
	"github.com/waymarkhq/waymark/internal/printer"
	"github.com/waymarkhq/waymark/pkg/agentstate"
)

var (
	stateAgentName   string
	stateUserID      string
	stateTaskID      string
	stateShowHistory bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect a persisted agent run",
	Long: `Inspect the persisted state of one agent run.

A run is addressed by agent name, user ID and task ID. The task ID is
the ID of the event that triggered the run.

By default the full run record is printed as JSON. With --history the
transition log is printed instead, oldest first.

Examples:
  # Current state of an onboarding run
  waymark state --agent onboarding-agent --user u-1 --task 4f7c2a1e-...

  # How the run got there
  waymark state --agent application-agent --user u-1 --task 4f7c2a1e-... --history`,
	RunE: runState,
}

func init() {
	stateCmd.Flags().StringVar(&stateAgentName, "agent", "", "Agent name (required)")
	stateCmd.Flags().StringVar(&stateUserID, "user", "", "User ID (required)")
	stateCmd.Flags().StringVar(&stateTaskID, "task", "", "Task ID, usually the triggering event ID (required)")
	stateCmd.Flags().BoolVar(&stateShowHistory, "history", false, "Show the transition log instead of the run record")
	stateCmd.MarkFlagRequired("agent")
	stateCmd.MarkFlagRequired("user")
	stateCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	key := agentstate.RunKey{
		AgentName: stateAgentName,
		UserID:    stateUserID,
		TaskID:    stateTaskID,
	}
	if err := key.Validate(); err != nil {
		return printer.Error("invalid run key", err.Error(), nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := stateStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}
	defer store.Close()

	if stateShowHistory {
		history, err := store.History(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to fetch history: %w", err)
		}
		format.HistoryTable(os.Stdout, history)
		return nil
	}

	state, err := store.Get(ctx, key)
	if err != nil {
		if agentstate.IsNotFound(err) {
			return printer.Error(
				"run not found",
				fmt.Sprintf("No run for agent %q, user %q, task %q.", key.AgentName, key.UserID, key.TaskID),
				[]string{"The task ID is the triggering event's ID. Find it with:\n  waymark events"},
			)
		}
		return fmt.Errorf("failed to fetch run: %w", err)
	}
	return format.SingleJSON(os.Stdout, state)
}
