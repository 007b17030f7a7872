package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.instanceName)
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPublish(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("records pending event and enqueues on tier queue", func(t *testing.T) {
		e := New(TypeOnboardingCompleted, map[string]any{"user_id": "u-1"})
		require.NoError(t, client.Publish(ctx, e))

		got, err := client.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, 7, got.Priority)
		assert.Equal(t, 0, got.RetryCount)

		id, err := client.Dequeue(ctx, QueueInteractive, 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, e.ID, id)
	})

	t.Run("duplicate ID is rejected without touching the original", func(t *testing.T) {
		e := New(TypeMarketUpdate, nil)
		require.NoError(t, client.Publish(ctx, e))

		// Claim it so a duplicate would be visible as a reset.
		res, err := client.ShouldSkip(ctx, e.ID)
		require.NoError(t, err)
		require.False(t, res.Skip)

		dup := New(TypeMarketUpdate, nil)
		dup.ID = e.ID
		err = client.Publish(ctx, dup)
		require.ErrorIs(t, err, ErrDuplicateEvent)

		got, err := client.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, got.Status, "duplicate publish must not reset status")
		assert.Equal(t, 0, got.RetryCount, "duplicate publish must not touch retry_count")

		// The duplicate must not be re-enqueued either.
		id, err := client.Dequeue(ctx, QueueBulk, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, e.ID, id, "only the original enqueue exists")
		id, err = client.Dequeue(ctx, QueueBulk, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("rejects invalid event loudly", func(t *testing.T) {
		e := New(Type("BOGUS"), nil)
		err := client.Publish(ctx, e)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid event")
	})

	t.Run("rejects non-pending event", func(t *testing.T) {
		e := New(TypeMarketUpdate, nil)
		e.Status = StatusCompleted
		err := client.Publish(ctx, e)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestShouldSkip(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("claims pending event exactly once", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeInterviewCompleted, map[string]any{"session": "s-1"})
		require.NoError(t, err)

		first, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		assert.False(t, first.Skip)

		second, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		assert.True(t, second.Skip)
		assert.Equal(t, ReasonAlreadyProcessing, second.Reason)
	})

	t.Run("reports already_completed", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeSkillVerified, nil)
		require.NoError(t, err)

		res, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Skip)
		require.NoError(t, client.MarkCompleted(ctx, id))

		res, err = client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.Skip)
		assert.Equal(t, ReasonAlreadyCompleted, res.Reason)
	})

	t.Run("reports already_failed", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeSkillVerified, nil)
		require.NoError(t, err)

		res, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Skip)
		require.NoError(t, client.MarkFailed(ctx, id, "boom"))

		res, err = client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.Skip)
		assert.Equal(t, ReasonAlreadyFailed, res.Reason)
	})

	t.Run("reports not_found for unknown ID", func(t *testing.T) {
		res, err := client.ShouldSkip(ctx, uuid.New().String())
		require.NoError(t, err)
		assert.True(t, res.Skip)
		assert.Equal(t, ReasonNotFound, res.Reason)
	})
}

// TestConcurrentClaimExclusivity spawns N racing claim attempts on one event
// ID and verifies exactly one wins.
func TestConcurrentClaimExclusivity(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	id, err := client.PublishNew(ctx, TypeApplyTriggered, nil)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	claims := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.ShouldSkip(ctx, id)
			if err == nil && !res.Skip {
				claims <- true
			}
		}()
	}
	wg.Wait()
	close(claims)

	won := 0
	for range claims {
		won++
	}
	assert.Equal(t, 1, won, "exactly one claimant may win")
}

func TestStatusMonotonicity(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("cannot complete a pending event", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeJobMatchFound, nil)
		require.NoError(t, err)

		err = client.MarkCompleted(ctx, id)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("cannot fail a completed event", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeJobMatchFound, nil)
		require.NoError(t, err)

		res, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Skip)
		require.NoError(t, client.MarkCompleted(ctx, id))

		err = client.MarkFailed(ctx, id, "too late")
		require.ErrorIs(t, err, ErrInvalidTransition)

		got, err := client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, 0, got.RetryCount)
	})

	t.Run("terminal markers on unknown events report not found", func(t *testing.T) {
		err := client.MarkCompleted(ctx, uuid.New().String())
		assert.True(t, IsNotFound(err))
	})

	t.Run("mark failed increments retry count and records message", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeJobMatchFound, nil)
		require.NoError(t, err)

		res, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Skip)
		require.NoError(t, client.MarkFailed(ctx, id, "tool timeout"))

		got, err := client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		assert.Equal(t, "tool timeout", got.ErrorMessage)
		assert.NotZero(t, got.ProcessedAtMs)
	})
}

func TestMarkProcessing(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	id, err := client.PublishNew(ctx, TypeResumeParsed, nil)
	require.NoError(t, err)

	t.Run("is a no-op on pending events", func(t *testing.T) {
		require.NoError(t, client.MarkProcessing(ctx, id))

		got, err := client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status, "MarkProcessing never claims")
	})

	t.Run("refreshes a live claim", func(t *testing.T) {
		res, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Skip)

		require.NoError(t, client.MarkProcessing(ctx, id))
		require.NoError(t, client.MarkProcessing(ctx, id), "idempotent")
	})

	t.Run("reports not found for unknown IDs", func(t *testing.T) {
		err := client.MarkProcessing(ctx, uuid.New().String())
		assert.True(t, IsNotFound(err))
	})
}

func TestTierFIFO(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	// Same tier: strict creation order.
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := client.PublishNew(ctx, TypeMarketUpdate, map[string]any{"seq": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		got, err := client.Dequeue(ctx, QueueBulk, 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestTierIsolation(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	bulkID, err := client.PublishNew(ctx, TypeMarketUpdate, nil)
	require.NoError(t, err)
	rtID, err := client.PublishNew(ctx, TypeInterviewCompleted, nil)
	require.NoError(t, err)

	// A realtime worker never waits behind bulk backlog: its queue holds
	// only its own tier's events.
	got, err := client.Dequeue(ctx, QueueRealtime, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, rtID, got)

	got, err = client.Dequeue(ctx, QueueBulk, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, bulkID, got)
}

func TestRequeue(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns stuck event to its tier queue", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeApplicationSubmitted, nil)
		require.NoError(t, err)

		// Drain the original enqueue and claim, simulating a crashed worker.
		_, err = client.Dequeue(ctx, QueueBackground, 100*time.Millisecond)
		require.NoError(t, err)
		res, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Skip)

		require.NoError(t, client.Requeue(ctx, id))

		got, err := client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)

		queued, err := client.Dequeue(ctx, QueueBackground, 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, id, queued)
	})

	t.Run("refuses to requeue a terminal event", func(t *testing.T) {
		id, err := client.PublishNew(ctx, TypeApplicationSubmitted, nil)
		require.NoError(t, err)

		res, err := client.ShouldSkip(ctx, id)
		require.NoError(t, err)
		require.False(t, res.Skip)
		require.NoError(t, client.MarkCompleted(ctx, id))

		err = client.Requeue(ctx, id)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestStuckProcessing(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	id, err := client.PublishNew(ctx, TypeMarketUpdate, nil)
	require.NoError(t, err)

	res, err := client.ShouldSkip(ctx, id)
	require.NoError(t, err)
	require.False(t, res.Skip)

	t.Run("claim is visible past the cutoff", func(t *testing.T) {
		future := time.Now().Add(time.Minute).UnixMilli()
		stuck, err := client.StuckProcessing(ctx, future)
		require.NoError(t, err)
		assert.Contains(t, stuck, id)
	})

	t.Run("fresh claim is invisible before the cutoff", func(t *testing.T) {
		past := time.Now().Add(-time.Minute).UnixMilli()
		stuck, err := client.StuckProcessing(ctx, past)
		require.NoError(t, err)
		assert.NotContains(t, stuck, id)
	})

	t.Run("terminal transition clears the index", func(t *testing.T) {
		require.NoError(t, client.MarkCompleted(ctx, id))
		future := time.Now().Add(time.Minute).UnixMilli()
		stuck, err := client.StuckProcessing(ctx, future)
		require.NoError(t, err)
		assert.NotContains(t, stuck, id)
	})
}

func TestListByStatus(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	pendingID, err := client.PublishNew(ctx, TypeMarketUpdate, nil)
	require.NoError(t, err)

	doneID, err := client.PublishNew(ctx, TypeMarketUpdate, nil)
	require.NoError(t, err)
	res, err := client.ShouldSkip(ctx, doneID)
	require.NoError(t, err)
	require.False(t, res.Skip)
	require.NoError(t, client.MarkCompleted(ctx, doneID))

	pending, err := client.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, pendingID, pending[0].ID)

	all, err := client.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSubscribeEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := client.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	id, err := client.PublishNew(ctx, TypeRejectionParsed, map[string]any{"user_id": "u-3"})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		require.NotNil(t, ev)
		assert.Equal(t, id, ev.ID)
		assert.Equal(t, TypeRejectionParsed, ev.Type)
		assert.Equal(t, "u-3", ev.Payload["user_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}

	t.Run("close is idempotent", func(t *testing.T) {
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
	})
}
