package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/agentflow/pkg/conversation"
)

// Completer is the completion contract consumed by the engine.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Settings tune a single completion.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ToolSpec describes a callable tool to the model. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID           string
	Name         string
	Arguments    map[string]any
	RawArguments string
	// FailureReason is set when the raw arguments could not be parsed.
	FailureReason string
}

// ParseToolCall builds a ToolCall from raw JSON arguments. Invalid JSON does
// not fail; it is reported through FailureReason so the loop can answer the
// model with an error instead of aborting the turn.
func ParseToolCall(id, name, raw string) ToolCall {
	call := ToolCall{ID: id, Name: name, RawArguments: raw, Arguments: map[string]any{}}
	if strings.TrimSpace(raw) == "" {
		return call
	}
	if err := json.Unmarshal([]byte(raw), &call.Arguments); err != nil {
		call.Arguments = map[string]any{}
		call.FailureReason = fmt.Sprintf("invalid tool arguments: %v", err)
	}
	return call
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolExchange is one round of the tool loop: the assistant text and calls
// it requested, followed by their results.
type ToolExchange struct {
	Content string
	Calls   []ToolCall
	Results []ToolResult
}

// Request is the input of a completion.
type Request struct {
	SystemPrompt string
	Messages     []conversation.Message
	// Exchanges are tool rounds of the current turn, rendered after Messages.
	Exchanges []ToolExchange
	Tools     []ToolSpec
	Settings  Settings
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a completion result.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// WantsTools reports whether the model asked for tool calls.
func (r *Response) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}
