package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ConversationIDKey is the context key for the conversation being executed
	ConversationIDKey ContextKey = "conversation_id"
	// TurnIDKey is the context key for the current turn
	TurnIDKey ContextKey = "turn_id"
	// AgentKey is the context key for the agent handling the turn
	AgentKey ContextKey = "agent"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID        string
	ConversationID string
	TurnID         string
	Agent          string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewConversationID generates an id for conversations created without one.
func NewConversationID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TurnIDKey, id)
}

func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string { return stringValue(ctx, ConversationIDKey) }

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string { return stringValue(ctx, TurnIDKey) }

// GetAgent retrieves the agent name from the context
func GetAgent(ctx context.Context) string { return stringValue(ctx, AgentKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:        GetTraceID(ctx),
		ConversationID: GetConversationID(ctx),
		TurnID:         GetTurnID(ctx),
		Agent:          GetAgent(ctx),
	}
}

// LoggerFromContext returns baseLogger enriched with the ids found in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.ConversationID != "" {
		lc = lc.Str("conversation_id", tc.ConversationID)
	}
	if tc.TurnID != "" {
		lc = lc.Str("turn_id", tc.TurnID)
	}
	if tc.Agent != "" {
		lc = lc.Str("agent", tc.Agent)
	}
	return lc.Logger()
}
