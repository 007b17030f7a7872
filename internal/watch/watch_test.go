package watch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waymarkhq/waymark/pkg/event"
)

func setupTestClient(t *testing.T) *event.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := event.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestPollForTerminal(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	ev := event.New(event.TypeMarketUpdate, map[string]any{"region": "apac"})
	require.NoError(t, client.Publish(ctx, ev))

	// Complete the event from "another worker" after a short delay.
	go func() {
		time.Sleep(300 * time.Millisecond)
		skip, err := client.ShouldSkip(ctx, ev.ID)
		if err != nil || skip.Skip {
			return
		}
		client.MarkCompleted(ctx, ev.ID)
	}()

	got, err := PollForTerminal(ctx, client, ev.ID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, event.StatusCompleted, got.Status)
}

func TestPollForTerminalTimeout(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	ev := event.New(event.TypeMarketUpdate, map[string]any{"region": "apac"})
	require.NoError(t, client.Publish(ctx, ev))

	_, err := PollForTerminal(ctx, client, ev.ID, 500*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting")
}

func TestPollForTerminalCancelled(t *testing.T) {
	client := setupTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PollForTerminal(ctx, client, "missing", time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
