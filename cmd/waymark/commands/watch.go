package commands

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/waymarkhq/waymark/internal/printer"
	"github.com/waymarkhq/waymark/internal/watch"
	"github.com/waymarkhq/waymark/pkg/event"
)

var watchTimeout time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [EVENT_ID]",
	Short: "Watch bus activity",
	Long: `Watch bus activity.

Tail Mode (no EVENT_ID):
  Subscribes to the event broadcast channel and prints each event as it
  is published. Runs until interrupted (Ctrl+C).

Wait Mode (with EVENT_ID):
  Polls one event until it reaches a terminal status (completed or
  failed), then prints the outcome and exits. Fails if --timeout elapses
  first.

Examples:
  # Live tail of everything the daemon publishes
  waymark watch

  # Block until a specific event finishes
  waymark watch 4f7c2a1e-... --timeout 5m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 2*time.Minute, "How long to wait in wait mode")
	rootCmd.AddCommand(watchCmd)
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := eventClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create event client: %w", err)
	}
	defer client.Close()

	if len(args) == 1 {
		id, err := resolveEventArg(ctx, client, cfg.Instance, args[0])
		if err != nil {
			return err
		}
		ev, err := watch.PollForTerminal(ctx, client, id, watchTimeout)
		if err != nil {
			return printer.Error(
				"event did not complete in time",
				err.Error(),
				[]string{"Inspect the event:\n  waymark events " + id},
			)
		}
		printer.Printf("%s  %s  %s", ev.ID, ev.Type, printer.Status(ev.Status))
		if ev.ErrorMessage != "" {
			printer.Printf("  %s", ev.ErrorMessage)
		}
		printer.Println()
		if ev.Status == event.StatusFailed {
			return fmt.Errorf("event %s failed", ev.ID)
		}
		return nil
	}

	sub, err := client.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	printer.Step("Watching instance '%s' (Ctrl+C to stop)\n", cfg.Instance)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			printer.Warning("subscription error: %v\n", err)
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			printer.Printf("%s  %-24s  pri=%-2d  %s\n",
				time.UnixMilli(ev.CreatedAtMs).Format("15:04:05"),
				ev.Type,
				ev.Priority,
				printer.Status(ev.Status),
			)
		}
	}
}
