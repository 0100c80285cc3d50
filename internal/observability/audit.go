package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/agentflow/pkg/events"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Type           string         `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	Agent          string         `json:"agent,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	TurnID         string         `json:"turn_id,omitempty"`
	Status         string         `json:"status"` // "success", "failure", "info"
	Metadata       map[string]any `json:"metadata,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
}

// AuditLogger writes lifecycle events as JSON lines.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// NewAuditLogger writes audit lines to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: zerolog.New(w)}
}

// OpenAuditLogger appends audit lines to the file at path. wrap, when set,
// decorates the file writer (e.g. with redaction).
func OpenAuditLogger(path string, wrap func(io.Writer) io.Writer) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	var w io.Writer = file
	if wrap != nil {
		w = wrap(file)
	}
	a := NewAuditLogger(w)
	a.closer = file
	return a, nil
}

// Record writes event and mirrors it as an event on the active span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+event.Type, trace.WithAttributes(
			attribute.String("audit.status", event.Status),
			attribute.String("audit.agent", event.Agent),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("event_type", event.Type).
		Time("timestamp", event.Timestamp).
		Str("agent", event.Agent).
		Str("conversation_id", event.ConversationID).
		Str("turn_id", event.TurnID).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if len(event.Metadata) > 0 {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Subscribe records every given event type published on bus. Without types
// every lifecycle event is recorded.
func (a *AuditLogger) Subscribe(bus *events.Bus, types ...events.Type) {
	if len(types) == 0 {
		types = []events.Type{
			events.AgentStarted,
			events.AgentFinished,
			events.ToolCalled,
			events.RetryRequested,
			events.HandoverPerformed,
			events.RateLimited,
			events.FlowOptionMatched,
		}
	}
	for _, t := range types {
		bus.On(t, a.handle)
	}
}

func (a *AuditLogger) handle(ctx context.Context, e events.Event) error {
	a.Record(ctx, AuditEvent{
		Type:           string(e.Type),
		Timestamp:      e.Time,
		Agent:          e.Agent,
		ConversationID: e.ConversationID,
		TurnID:         e.TurnID,
		Status:         auditStatus(e),
		Metadata:       e.Data,
	})
	return nil
}

func auditStatus(e events.Event) string {
	switch e.Type {
	case events.AgentFinished:
		if outcome, _ := e.Data["outcome"].(string); outcome == "failed" {
			return "failure"
		}
		return "success"
	case events.ToolCalled:
		if failed, _ := e.Data["error"].(bool); failed {
			return "failure"
		}
		return "success"
	case events.RateLimited:
		return "failure"
	default:
		return "info"
	}
}

// Close closes the audit file, if any.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
