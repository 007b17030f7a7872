package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waymarkhq/waymark/internal/format"
	"github.com/waymarkhq/waymark/internal/printer"
	"github.com/waymarkhq/waymark/internal/timespec"
	"github.com/waymarkhq/waymark/pkg/event"
)

var (
	eventsStatusFilter string
	eventsOutputFormat string
	eventsSince        string
	eventsUntil        string
)

var eventsCmd = &cobra.Command{
	Use:   "events [EVENT_ID]",
	Short: "Inspect events on the bus",
	Long: `Inspect events in list or get mode.

List Mode (no EVENT_ID):
  Displays every stored event as a table or JSONL stream, optionally
  filtered by status. Events are never deleted, so this is the full
  audit trail for the instance.

Get Mode (with EVENT_ID):
  Displays complete details of a single event as pretty-printed JSON.

Output Formats (list mode only):
  default - Human-readable table
  jsonl   - One JSON object per line, for piping into jq

Examples:
  # List everything
  waymark events

  # Only failures
  waymark events --status failed

  # Pending and processing, as JSONL
  waymark events --status pending,processing --output jsonl

  # Failures from the last hour
  waymark events --status failed --since 1h

  # Full details of one event
  waymark events 4f7c2a1e-...

  # Extract failed event IDs for requeueing scripts
  waymark events --status failed --output jsonl | jq -r '.id'`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsStatusFilter, "status", "s", "", "Comma-separated status filter: pending,processing,completed,failed")
	eventsCmd.Flags().StringVarP(&eventsOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "Only events created after this time (duration like '1h' or RFC3339)")
	eventsCmd.Flags().StringVar(&eventsUntil, "until", "", "Only events created before this time (duration like '1h' or RFC3339)")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	isGetMode := len(args) > 0

	if !isGetMode && eventsOutputFormat != "default" && eventsOutputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", eventsOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	window, err := timespec.ParseRange(eventsSince, eventsUntil)
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Examples: --since 1h30m, --since 2026-08-28T13:00:00Z"},
		)
	}

	var statuses []event.Status
	if eventsStatusFilter != "" {
		for _, raw := range strings.Split(eventsStatusFilter, ",") {
			s := event.Status(strings.TrimSpace(raw))
			if err := s.Validate(); err != nil {
				return printer.Error(
					"invalid status filter",
					err.Error(),
					[]string{"Valid statuses: pending, processing, completed, failed"},
				)
			}
			statuses = append(statuses, s)
		}
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

	if isGetMode {
		id, err := resolveEventArg(ctx, client, cfg.Instance, args[0])
		if err != nil {
			return err
		}
		ev, err := client.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch event: %w", err)
		}
		return format.SingleJSON(os.Stdout, ev)
	}

	events, err := client.ListByStatus(ctx, statuses...)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	if !window.IsZero() {
		filtered := events[:0]
		for _, ev := range events {
			if window.Contains(ev.CreatedAtMs) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	// Newest first
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAtMs > events[j].CreatedAtMs
	})

	if eventsOutputFormat == "jsonl" {
		return format.EventJSONL(os.Stdout, events)
	}
	format.EventTable(os.Stdout, events, cfg.Instance)
	return nil
}
