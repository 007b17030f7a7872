package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/waymarkhq/waymark/internal/printer"
	"github.com/waymarkhq/waymark/internal/watch"
	"github.com/waymarkhq/waymark/pkg/event"
)

var (
	publishType    string
	publishPayload string
	publishWait    time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an event onto the bus",
	Long: `Publish a domain event onto the bus.

The event is persisted, routed to its priority tier queue, and announced
to subscribers. With --wait, the command blocks until the event reaches a
terminal status (completed or failed) or the wait times out.

Examples:
  # Fire-and-forget
  waymark publish --type ONBOARDING_COMPLETED --payload '{"user_id":"u-1","resume_url":"s3://r/u-1.pdf"}'

  # Publish and wait for the handler to finish
  waymark publish --type APPLY_TRIGGERED --payload '{"user_id":"u-1","job_id":"j-9"}' --wait 2m`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVarP(&publishType, "type", "t", "", "Event type (required)")
	publishCmd.Flags().StringVarP(&publishPayload, "payload", "p", "{}", "Event payload as a JSON object")
	publishCmd.Flags().DurationVar(&publishWait, "wait", 0, "Block until the event is terminal (0 = don't wait)")
	publishCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	t := event.Type(publishType)
	if err := t.Validate(); err != nil {
		known := make([]string, len(event.Types))
		for i, kt := range event.Types {
			known[i] = string(kt)
		}
		return printer.Error(
			"unknown event type",
			fmt.Sprintf("%q is not a recognised event type.", publishType),
			[]string{"Known types:\n  " + strings.Join(known, "\n  ")},
		)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(publishPayload), &payload); err != nil {
		return printer.Error(
			"invalid payload",
			fmt.Sprintf("--payload must be a JSON object: %v", err),
			[]string{`Example: --payload '{"user_id":"u-1"}'`},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := eventClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create event client: %w", err)
	}
	defer client.Close()

	id, err := client.PublishNew(ctx, t, payload)
	if err != nil {
		return printer.Error(
			"failed to publish event",
			err.Error(),
			[]string{"Check that Redis is reachable:\n  waymark events"},
		)
	}

	tier := event.QueueFor(event.PriorityFor(t))
	printer.Success("Published %s\n", publishType)
	printer.Info("  ID:   %s\n", id)
	printer.Info("  Tier: %s\n", tier)

	if publishWait <= 0 {
		return nil
	}

	printer.Step("Waiting for terminal status (up to %s)...\n", publishWait)
	ev, err := watch.PollForTerminal(ctx, client, id, publishWait)
	if err != nil {
		return printer.Error(
			"event did not complete in time",
			err.Error(),
			[]string{"Inspect the event later:\n  waymark events " + id},
		)
	}

	if ev.Status == event.StatusFailed {
		return printer.Error(
			"event failed",
			ev.ErrorMessage,
			[]string{"Inspect the event:\n  waymark events " + id},
		)
	}
	printer.Success("Event %s\n", printer.Status(ev.Status))
	return nil
}
