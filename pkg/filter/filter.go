package filter

import (
	"context"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/retry"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/harun/agentflow/pkg/usecase"
)

// Decision is the result of one filter. It is one of Continue, Drop, Retry,
// Handover or Respond.
type Decision interface {
	decision()
}

// Continue passes the (possibly rewritten) message to the next filter.
type Continue struct {
	Message conversation.Message
}

// Drop aborts the turn; the conversation is returned unchanged.
type Drop struct {
	Reason string
}

// Retry restarts the turn while fewer than Max retries happened. Details are
// merged into the retry signal seen by the next attempt.
type Retry struct {
	Reason  string
	Details map[string]string
	Max     int
}

// Handover ends the turn and delegates the conversation to Agent. With
// KeepOutput the current answer is committed before delegating.
type Handover struct {
	Agent      string
	Reason     string
	KeepOutput bool
}

// Respond ends the turn with Content as the assistant answer.
type Respond struct {
	Content string
	Reason  string
}

func (Continue) decision() {}
func (Drop) decision()     {}
func (Retry) decision()    {}
func (Handover) decision() {}
func (Respond) decision()  {}

// Pass keeps msg as is.
func Pass(msg conversation.Message) Decision {
	return Continue{Message: msg}
}

// BreakToAgent unwinds the turn and hands the conversation to name.
func BreakToAgent(name, reason string) Decision {
	return Handover{Agent: name, Reason: reason}
}

// Context is the turn state visible to filters.
type Context struct {
	Agent        string
	Conversation conversation.Conversation
	Conditions   usecase.Conditions
	Values       map[string]any
	// Retry is the signal that started this attempt, nil on the first one.
	Retry *retry.Signal
	// ToolCalls and SensitiveCalled are only set for output filters.
	ToolCalls       []toolexecutor.CallRecord
	SensitiveCalled bool

	commits []func(context.Context) error
}

// ConversationID returns the id of the conversation being filtered.
func (c *Context) ConversationID() string {
	return c.Conversation.ID
}

// TurnID returns the id of the turn being filtered.
func (c *Context) TurnID() string {
	return c.Conversation.CurrentTurnID
}

// OnCommit registers fn to run once the answer passed on by the filter is
// stored. Nothing runs for attempts that end in a retry, drop or failure.
func (c *Context) OnCommit(fn func(ctx context.Context) error) {
	c.commits = append(c.commits, fn)
}

// Commit runs the registered functions in order and stops at the first error.
func (c *Context) Commit(ctx context.Context) error {
	for _, fn := range c.commits {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// InputFilter inspects the latest user message before completion.
type InputFilter interface {
	Name() string
	FilterInput(ctx context.Context, fc *Context, msg conversation.Message) (Decision, error)
}

// OutputFilter inspects the assistant message before it is committed.
type OutputFilter interface {
	Name() string
	FilterOutput(ctx context.Context, fc *Context, msg conversation.AssistantMessage) (Decision, error)
}

// InputFunc adapts a function to InputFilter.
type InputFunc struct {
	ID string
	Fn func(ctx context.Context, fc *Context, msg conversation.Message) (Decision, error)
}

func (f InputFunc) Name() string { return f.ID }

func (f InputFunc) FilterInput(ctx context.Context, fc *Context, msg conversation.Message) (Decision, error) {
	return f.Fn(ctx, fc, msg)
}

// OutputFunc adapts a function to OutputFilter.
type OutputFunc struct {
	ID string
	Fn func(ctx context.Context, fc *Context, msg conversation.AssistantMessage) (Decision, error)
}

func (f OutputFunc) Name() string { return f.ID }

func (f OutputFunc) FilterOutput(ctx context.Context, fc *Context, msg conversation.AssistantMessage) (Decision, error) {
	return f.Fn(ctx, fc, msg)
}
