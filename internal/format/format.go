// Package format renders events and agent run records for CLI output,
// as compact tables for humans or JSONL for piping into jq.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/waymarkhq/waymark/pkg/agentstate"
	"github.com/waymarkhq/waymark/pkg/event"
)

// EventTable writes events as a formatted table to the provided writer.
// Columns: ID, TYPE, STATUS, PRI, RETRY, AGE, ERROR (truncated).
// Returns the number of events formatted.
func EventTable(w io.Writer, events []*event.Event, instanceName string) int {
	if len(events) == 0 {
		fmt.Fprintf(w, "No events found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Events for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-24s %-11s %-4s %-6s %-8s %s\n",
		"ID", "TYPE", "STATUS", "PRI", "RETRY", "AGE", "ERROR")
	fmt.Fprintf(w, "%-10s %-24s %-11s %-4s %-6s %-8s %s\n",
		"----------", "------------------------", "-----------", "----", "------", "--------", "----------------------------------------")

	for _, ev := range events {
		fmt.Fprintf(w, "%-10s %-24s %-11s %-4d %-6d %-8s %s\n",
			truncateID(ev.ID),
			truncateType(string(ev.Type)),
			ev.Status,
			ev.Priority,
			ev.RetryCount,
			relativeTime(ev.CreatedAtMs),
			truncateText(ev.ErrorMessage, 40),
		)
	}

	countMsg := "event"
	if len(events) != 1 {
		countMsg = "events"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(events), countMsg)

	return len(events)
}

// EventJSONL writes events as line-delimited JSON to the provided writer.
func EventJSONL(w io.Writer, events []*event.Event) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// SingleJSON writes one record as pretty-printed JSON.
func SingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// HistoryTable writes a run's audit trail as a formatted table.
func HistoryTable(w io.Writer, history []agentstate.StateTransition) int {
	if len(history) == 0 {
		fmt.Fprintln(w, "No transitions recorded")
		return 0
	}

	fmt.Fprintf(w, "%-14s %-14s %-16s %-9s %s\n",
		"FROM", "TO", "SIGNAL", "HELD", "AGE")
	fmt.Fprintf(w, "%-14s %-14s %-16s %-9s %s\n",
		"--------------", "--------------", "----------------", "---------", "--------")

	for _, row := range history {
		fmt.Fprintf(w, "%-14s %-14s %-16s %-9s %s\n",
			row.From,
			row.To,
			row.Signal,
			holdTime(row.DurationMs),
			relativeTime(row.AtMs),
		)
	}

	return len(history)
}

// truncateID shortens a UUID to its first 8 characters for table display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateType shortens long event type names for table display.
func truncateType(typeName string) string {
	if len(typeName) > 24 {
		return typeName[:21] + "..."
	}
	return typeName
}

// truncateText truncates free text for table display. Empty values return "-".
func truncateText(text string, max int) string {
	if text == "" {
		return "-"
	}
	if len(text) > max {
		return text[:max-3] + "..."
	}
	return text
}

// holdTime renders how long a state was held.
func holdTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	return d.Truncate(100 * time.Millisecond).String()
}

// relativeTime formats a unix-milliseconds timestamp as relative time,
// like "2m ago" or "1h ago".
func relativeTime(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}
