package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentflow/pkg/events"
)

func TestAuditSubscribe(t *testing.T) {
	buf := &bytes.Buffer{}
	audit := NewAuditLogger(buf)

	bus, err := events.NewBus(events.Config{Logger: zerolog.Nop()})
	require.NoError(t, err)
	audit.Subscribe(bus)

	ctx := context.Background()
	require.NoError(t, bus.Emit(ctx, events.Event{
		Type:           events.ToolCalled,
		Agent:          "weather",
		ConversationID: "conv-1",
		TurnID:         "3",
		Data:           map[string]any{"tool": "get_weather", "error": true},
	}))
	require.NoError(t, bus.Emit(ctx, events.Event{
		Type:  events.AgentFinished,
		Agent: "weather",
		Data:  map[string]any{"outcome": "completed"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "tool:called", first["event_type"])
	assert.Equal(t, "failure", first["status"])
	assert.Equal(t, "conv-1", first["conversation_id"])
	assert.Equal(t, "get_weather", first["metadata"].(map[string]any)["tool"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "success", second["status"])
}

func TestOpenAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	upper := func(w io.Writer) io.Writer {
		return writerFunc(func(p []byte) (int, error) {
			return w.Write(bytes.ToUpper(p))
		})
	}

	audit, err := OpenAuditLogger(path, upper)
	require.NoError(t, err)
	audit.Record(context.Background(), AuditEvent{Type: "handover:performed", Agent: "triage", Status: "info"})
	require.NoError(t, audit.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"AGENT":"TRIAGE"`)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
