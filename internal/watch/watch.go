// Package watch provides CLI-side polling helpers for observing the bus.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/waymarkhq/waymark/pkg/event"
)

// pollInterval is how often the watchers re-read Redis.
const pollInterval = 200 * time.Millisecond

// PollForTerminal polls an event until it reaches completed or failed.
// Returns the terminal event, or an error if the timeout elapses first.
func PollForTerminal(ctx context.Context, client *event.Client, eventID string, timeout time.Duration) (*event.Event, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for event %s after %v", eventID, timeout)

		case <-ticker.C:
			ev, err := client.Get(ctx, eventID)
			if err != nil {
				if event.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query event: %w", err)
			}

			if ev.Status.Terminal() {
				return ev, nil
			}
		}
	}
}
