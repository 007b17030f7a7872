package printer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/waymarkhq/waymark/pkg/event"
)

func TestErrorReturnsSimpleError(t *testing.T) {
	err := Error("Test error title", "This is an explanation", []string{"Suggestion 1"})

	assert.Error(t, err)
	assert.Equal(t, "Test error title", err.Error())
}

func TestErrorWithMultipleSuggestions(t *testing.T) {
	suggestions := []string{
		"First suggestion",
		"Second suggestion",
		"Third suggestion",
	}

	err := Error("Multiple suggestions", "Explanation here", suggestions)

	assert.Error(t, err)
	assert.Equal(t, "Multiple suggestions", err.Error())
}

func TestErrorWithNoSuggestions(t *testing.T) {
	err := Error("No suggestions", "Just an explanation", nil)

	assert.Error(t, err)
	assert.Equal(t, "No suggestions", err.Error())
}

func TestStatusRendersEveryStatus(t *testing.T) {
	for _, s := range []event.Status{
		event.StatusPending,
		event.StatusProcessing,
		event.StatusCompleted,
		event.StatusFailed,
	} {
		rendered := Status(s)
		assert.True(t, strings.Contains(rendered, string(s)),
			"rendered status should contain the raw value %q", s)
	}
}

func TestStatusUnknownPassesThrough(t *testing.T) {
	assert.Equal(t, "mystery", Status(event.Status("mystery")))
}
