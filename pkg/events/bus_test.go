package events

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusHandlers(t *testing.T) {
	bus, err := NewBus(Config{Logger: zerolog.Nop()})
	require.NoError(t, err)

	var got []Event
	bus.On(AgentStarted, func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	bus.On(AgentFinished, func(context.Context, Event) error {
		return errors.New("sink down")
	})

	require.NoError(t, bus.Emit(context.Background(), Event{Type: AgentStarted, Agent: "support"}))
	require.Len(t, got, 1)
	assert.Equal(t, "support", got[0].Agent)
	assert.False(t, got[0].Time.IsZero())

	err = bus.Emit(context.Background(), Event{Type: AgentFinished})
	assert.ErrorContains(t, err, "sink down")

	var nilBus *Bus
	assert.NoError(t, nilBus.Emit(context.Background(), Event{Type: AgentStarted}))
}

func TestBusHookInjectsEventData(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "env.txt")

	bus, err := NewBus(Config{
		Logger: zerolog.Nop(),
		Hooks: []Hook{
			{
				ID:      "handover",
				Event:   HandoverPerformed,
				Script:  "echo \"$AGENTFLOW_EVENT:$AGENTFLOW_EVENT_AGENT:$AGENTFLOW_EVENT_TO_AGENT\" > " + outputPath,
				Enabled: true,
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit(context.Background(), Event{
		Type:  HandoverPerformed,
		Agent: "support",
		Data:  map[string]any{"to-agent": "billing"},
	}))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "handover:performed:support:billing\n", string(content))
}

func TestBusHookFailures(t *testing.T) {
	t.Run("should reject hooks without script", func(t *testing.T) {
		_, err := NewBus(Config{Hooks: []Hook{{Event: AgentStarted, Enabled: true}}})
		assert.Error(t, err)
	})

	t.Run("should join hook errors", func(t *testing.T) {
		bus, err := NewBus(Config{
			Logger: zerolog.Nop(),
			Hooks: []Hook{
				{ID: "fail-1", Event: ToolCalled, Script: "exit 2", Enabled: true},
				{ID: "fail-2", Event: ToolCalled, Script: "exit 3", Enabled: true},
				{ID: "disabled", Event: ToolCalled, Script: "exit 4"},
			},
		})
		require.NoError(t, err)

		err = bus.Emit(context.Background(), Event{Type: ToolCalled})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hook fail-1 failed")
		assert.Contains(t, err.Error(), "hook fail-2 failed")
		assert.NotContains(t, err.Error(), "disabled")
	})

	t.Run("should respect hook timeout", func(t *testing.T) {
		bus, err := NewBus(Config{
			Logger: zerolog.Nop(),
			Hooks:  []Hook{{ID: "slow", Event: RateLimited, Script: "sleep 1", Timeout: 30 * time.Millisecond, Enabled: true}},
		})
		require.NoError(t, err)

		err = bus.Emit(context.Background(), Event{Type: RateLimited})
		require.Error(t, err)
		assert.True(t,
			strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "signal: killed"),
			"expected timeout-related error, got: %v", err,
		)
	})
}
