package event

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeValidate(t *testing.T) {
	t.Run("accepts all known types", func(t *testing.T) {
		for _, typ := range Types {
			assert.NoError(t, typ.Validate(), "type %s should validate", typ)
		}
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		err := Type("NOT_A_THING").Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event type")
	})

	t.Run("rejects empty type", func(t *testing.T) {
		assert.Error(t, Type("").Validate())
	})
}

func TestStatusValidate(t *testing.T) {
	valid := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	for _, s := range valid {
		assert.NoError(t, s.Validate())
	}

	assert.Error(t, Status("done").Validate())
	assert.Error(t, Status("").Validate())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestEventValidate(t *testing.T) {
	valid := func() *Event {
		return &Event{
			ID:          uuid.New().String(),
			Type:        TypeOnboardingCompleted,
			Payload:     map[string]any{"user_id": "u-1"},
			Status:      StatusPending,
			Priority:    7,
			CreatedAtMs: 1700000000000,
		}
	}

	t.Run("accepts valid event", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects malformed ID", func(t *testing.T) {
		e := valid()
		e.ID = "not-a-uuid"
		err := e.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid event ID")
	})

	t.Run("rejects priority out of range", func(t *testing.T) {
		e := valid()
		e.Priority = 0
		assert.Error(t, e.Validate())

		e.Priority = 11
		assert.Error(t, e.Validate())
	})

	t.Run("rejects negative retry count", func(t *testing.T) {
		e := valid()
		e.RetryCount = -1
		assert.Error(t, e.Validate())
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		e := valid()
		e.Status = Status("queued")
		assert.Error(t, e.Validate())
	})
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{TypeInterviewCompleted, 10},
		{TypeSkillVerified, 10},
		{TypeOnboardingCompleted, 7},
		{TypeResumeParsed, 7},
		{TypeApplyTriggered, 7},
		{TypeRejectionParsed, 5},
		{TypeRoadmapRepathNeeded, 5},
		{TypeJobMatchFound, 3},
		{TypeApplicationSubmitted, 3},
		{TypeMarketUpdate, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFor(tt.typ), "priority for %s", tt.typ)
	}

	t.Run("unknown types route to bulk", func(t *testing.T) {
		assert.Equal(t, MinPriority, PriorityFor(Type("MYSTERY")))
	})

	t.Run("every known type has an explicit tier", func(t *testing.T) {
		for _, typ := range Types {
			_, ok := priorities[typ]
			assert.True(t, ok, "type %s missing from priority table", typ)
		}
	})
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, QueueRealtime, QueueFor(10))
	assert.Equal(t, QueueInteractive, QueueFor(8))
	assert.Equal(t, QueueInteractive, QueueFor(7))
	assert.Equal(t, QueueSystem, QueueFor(5))
	assert.Equal(t, QueueBackground, QueueFor(3))
	assert.Equal(t, QueueBulk, QueueFor(1))
	assert.Equal(t, QueueBulk, QueueFor(2))
}

func TestHashRoundTrip(t *testing.T) {
	e := &Event{
		ID:          uuid.New().String(),
		Type:        TypeRejectionParsed,
		Payload:     map[string]any{"user_id": "u-9", "company": "Initech"},
		Status:      StatusPending,
		Priority:    5,
		SourceAgent: "rejection-parser",
		TargetAgent: "roadmap-agent",
		CreatedAtMs: 1700000000123,
		RetryCount:  2,
	}

	hash, err := ToHash(e)
	require.NoError(t, err)

	// Redis hands hashes back as string->string
	strHash := make(map[string]string, len(hash))
	for k, v := range hash {
		strHash[k] = fmt.Sprintf("%v", v)
	}

	got, err := FromHash(strHash)
	require.NoError(t, err)

	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.Status, got.Status)
	assert.Equal(t, e.Priority, got.Priority)
	assert.Equal(t, e.SourceAgent, got.SourceAgent)
	assert.Equal(t, e.TargetAgent, got.TargetAgent)
	assert.Equal(t, e.CreatedAtMs, got.CreatedAtMs)
	assert.Equal(t, e.RetryCount, got.RetryCount)
	assert.Equal(t, "Initech", got.Payload["company"])
}

func TestFromHashRejectsCorruptFields(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			"id":            uuid.New().String(),
			"type":          string(TypeRejectionParsed),
			"status":        string(StatusPending),
			"priority":      "5",
			"retry_count":   "0",
			"created_at_ms": "1700000000123",
		}
	}

	tests := []struct {
		field   string
		value   string
		wantErr string
	}{
		{"priority", "high", "invalid priority field"},
		{"retry_count", "twice", "invalid retry_count field"},
		{"created_at_ms", "yesterday", "invalid created_at_ms field"},
		{"processed_at_ms", "soon", "invalid processed_at_ms field"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			hash := base()
			hash[tt.field] = tt.value
			_, err := FromHash(hash)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	// An unprocessed event has no processed_at_ms yet.
	hash := base()
	got, err := FromHash(hash)
	require.NoError(t, err)
	assert.Zero(t, got.ProcessedAtMs)
}
