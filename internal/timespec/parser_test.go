package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	before := time.Now().Add(-time.Hour).UnixMilli()
	got, err := Parse("1h")
	require.NoError(t, err)
	after := time.Now().Add(-time.Hour).UnixMilli()

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestParseRFC3339(t *testing.T) {
	got, err := Parse("2026-08-28T13:00:00Z")
	require.NoError(t, err)

	want := time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, want, got)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("next tuesday")
	assert.ErrorContains(t, err, "invalid time specification")

	_, err = Parse("")
	assert.ErrorContains(t, err, "empty")
}

func TestParseRangeValidatesOrder(t *testing.T) {
	_, err := ParseRange("1h", "2h")
	assert.ErrorContains(t, err, "earlier than")

	r, err := ParseRange("2h", "1h")
	require.NoError(t, err)
	assert.False(t, r.IsZero())
	assert.Less(t, r.SinceMs, r.UntilMs)
}

func TestParseRangeUnbounded(t *testing.T) {
	r, err := ParseRange("", "")
	require.NoError(t, err)
	assert.True(t, r.IsZero())
	assert.True(t, r.Contains(1))
	assert.True(t, r.Contains(time.Now().UnixMilli()))
}

func TestRangeContains(t *testing.T) {
	r := Range{SinceMs: 1000, UntilMs: 2000}

	assert.False(t, r.Contains(999))
	assert.True(t, r.Contains(1000))
	assert.True(t, r.Contains(1500))
	assert.True(t, r.Contains(2000))
	assert.False(t, r.Contains(2001))
}
