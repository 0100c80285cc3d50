package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentflow/pkg/memory"
	"github.com/harun/agentflow/pkg/toolexecutor"
)

const memoryOwner = "notes"

// Options configures core tool registration.
type Options struct {
	// Store backs the remember, recall and forget tools. Without it they are
	// not registered.
	Store memory.Store
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// RegisterCoreTools registers the baseline tools every agent may enable.
func RegisterCoreTools(registry *toolexecutor.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tools := []toolexecutor.ToolDefinition{currentTimeTool(opts)}
	if opts.Store != nil {
		tools = append(tools, rememberTool(opts), recallTool(opts), forgetTool(opts))
	}

	for _, tool := range tools {
		if err := registry.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func currentTimeTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "current_time",
		Description: "Return the current date and time, optionally in an IANA time zone.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "timezone", Type: "string", Description: "IANA time zone such as Europe/Berlin", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			now := opts.Now()
			if tz, _ := params["timezone"].(string); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %s", tz)
				}
				now = now.In(loc)
			}
			return now.Format(time.RFC1123), nil
		},
	}
}

func rememberTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "remember",
		Description: "Store a note about the user for later conversations.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "key", Type: "string", Description: "Short name of the note", Required: true},
			{Name: "value", Type: "string", Description: "Content of the note", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			scope, err := userScope(ctx)
			if err != nil {
				return "", err
			}
			key := noteKey(scope, params["key"].(string))
			if err := opts.Store.Set(ctx, memoryOwner, key, "", []byte(params["value"].(string))); err != nil {
				return "", fmt.Errorf("failed to store note: %w", err)
			}
			return "stored", nil
		},
	}
}

func recallTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "recall",
		Description: "Read a note stored earlier with remember.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "key", Type: "string", Description: "Short name of the note", Required: true},
		},
		Sensitive: true,
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			scope, err := userScope(ctx)
			if err != nil {
				return "", err
			}
			value, ok, err := opts.Store.Get(ctx, memoryOwner, noteKey(scope, params["key"].(string)), "")
			if err != nil {
				return "", fmt.Errorf("failed to read note: %w", err)
			}
			if !ok {
				return "no note stored under this key", nil
			}
			return string(value), nil
		},
	}
}

func forgetTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "forget",
		Description: "Delete a note stored earlier with remember.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "key", Type: "string", Description: "Short name of the note", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			scope, err := userScope(ctx)
			if err != nil {
				return "", err
			}
			if err := opts.Store.Delete(ctx, memoryOwner, noteKey(scope, params["key"].(string)), ""); err != nil {
				return "", fmt.Errorf("failed to delete note: %w", err)
			}
			return "deleted", nil
		},
	}
}

// userScope keys notes by user, falling back to the conversation for
// anonymous turns.
func userScope(ctx context.Context) (string, error) {
	execCtx := toolexecutor.ExecContextFromContext(ctx)
	if execCtx == nil {
		return "", fmt.Errorf("execution context is required")
	}
	if execCtx.UserID != "" {
		return "user:" + execCtx.UserID, nil
	}
	if execCtx.ConversationID != "" {
		return "conversation:" + execCtx.ConversationID, nil
	}
	return "", fmt.Errorf("notes need a user or conversation")
}

func noteKey(scope, key string) string {
	return scope + "/" + strings.ToLower(strings.TrimSpace(key))
}
