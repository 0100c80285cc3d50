package toolexecutor

import "context"

// ExecutionContext tells a tool handler which turn it serves.
type ExecutionContext struct {
	ConversationID string
	TurnID         string
	Agent          string
	UserID         string
}

type execContextKey struct{}

// ContextWithExecContext attaches the execution context to a context.Context for tool handlers.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext extracts the execution context from a context.Context.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(execContextKey{}).(*ExecutionContext)
	return execCtx
}
