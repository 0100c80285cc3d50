package agent

import (
	"context"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/filter"
)

// Outcome is the result of one attempt of a turn: Completed,
// RetryRequested, HandoverRequested or Failed.
type Outcome interface {
	outcome()
}

// Completed ends the turn. Without a message (Dropped) the conversation is
// left unchanged.
type Completed struct {
	Message conversation.AssistantMessage
	Dropped bool
	// Commit runs once Message is stored.
	Commit func(ctx context.Context) error
}

// RetryRequested asks to restart the turn.
type RetryRequested struct {
	Retry filter.Retry
}

// HandoverRequested ends the turn and delegates the conversation. Message
// is committed first when set.
type HandoverRequested struct {
	Agent   string
	Reason  string
	Message *conversation.AssistantMessage
	Commit  func(ctx context.Context) error
}

// Failed ends the turn with an error.
type Failed struct {
	Err error
}

func (Completed) outcome()         {}
func (RetryRequested) outcome()    {}
func (HandoverRequested) outcome() {}
func (Failed) outcome()            {}

func outcomeName(o Outcome) string {
	switch o := o.(type) {
	case Completed:
		if o.Dropped {
			return "dropped"
		}
		return "completed"
	case RetryRequested:
		return "retry"
	case HandoverRequested:
		return "handover"
	case Failed:
		return "failed"
	}
	return "unknown"
}
