package resolver

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waymarkhq/waymark/pkg/event"
)

func setupTest(t *testing.T) (*event.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := event.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestResolveFullUUID(t *testing.T) {
	client, _ := setupTest(t)
	ctx := context.Background()

	id, err := client.PublishNew(ctx, event.TypeMarketUpdate, map[string]any{"region": "emea"})
	require.NoError(t, err)

	resolved, err := ResolveEventID(ctx, client, id)
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestResolveFullUUIDNotFound(t *testing.T) {
	client, _ := setupTest(t)

	_, err := ResolveEventID(context.Background(), client, "00000000-0000-0000-0000-000000000000")
	assert.True(t, IsNotFoundError(err))
}

func TestResolveShortPrefix(t *testing.T) {
	client, _ := setupTest(t)
	ctx := context.Background()

	id, err := client.PublishNew(ctx, event.TypeMarketUpdate, map[string]any{"region": "emea"})
	require.NoError(t, err)

	resolved, err := ResolveEventID(ctx, client, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestResolveRejectsTooShort(t *testing.T) {
	client, _ := setupTest(t)

	_, err := ResolveEventID(context.Background(), client, "abc")
	assert.ErrorContains(t, err, "at least 6 characters")
}

func TestResolveAmbiguous(t *testing.T) {
	client, mr := setupTest(t)
	ctx := context.Background()

	// Seed two event keys sharing a prefix
	mr.HSet("waymark:test-instance:event:abcdef01-aaaa", "id", "abcdef01-aaaa")
	mr.HSet("waymark:test-instance:event:abcdef01-bbbb", "id", "abcdef01-bbbb")

	_, err := ResolveEventID(ctx, client, "abcdef")
	require.True(t, IsAmbiguousError(err))

	var ambiguous *AmbiguousError
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Matches, 2)
	assert.Contains(t, FormatAmbiguousError(ambiguous), "matches 2 events")
}

func TestResolvePrefixNotFound(t *testing.T) {
	client, _ := setupTest(t)

	_, err := ResolveEventID(context.Background(), client, "ffffff")
	assert.True(t, IsNotFoundError(err))
}
