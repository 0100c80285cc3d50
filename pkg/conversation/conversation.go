package conversation

import (
	"slices"
)

// Participant identifies the human on the other side of a conversation.
type Participant struct {
	ID   string
	Name string
}

// Classification marks what should happen with a conversation after a turn.
// A nil Classification means idle.
type Classification interface {
	classification()
}

// Handover asks the caller to continue the conversation with another agent.
type Handover struct {
	Agent  string
	Reason string
}

func (Handover) classification() {}

// Conversation is an immutable snapshot of a chat. Every mutator returns a new
// value and never touches the receiver's transcript.
type Conversation struct {
	ID             string
	User           *Participant
	CurrentTurnID  string
	Transcript     []Message
	Classification Classification
	Anonymization  map[string]string
}

// New creates a conversation with the given initial transcript.
func New(id string, msgs ...Message) Conversation {
	return Conversation{ID: id, Transcript: slices.Clone(msgs)}
}

// Append returns a copy with msgs added to the end of the transcript. Messages
// without a turn id inherit the conversation's current turn.
func (c Conversation) Append(msgs ...Message) Conversation {
	out := c.clone()
	for _, m := range msgs {
		if m.Metadata().TurnID == "" && c.CurrentTurnID != "" {
			m = m.WithTurn(c.CurrentTurnID)
		}
		out.Transcript = append(out.Transcript, m)
	}
	return out
}

// WithTurn returns a copy bound to turnID.
func (c Conversation) WithTurn(turnID string) Conversation {
	out := c.clone()
	out.CurrentTurnID = turnID
	return out
}

// WithClassification returns a copy carrying cl. Passing nil resets it to idle.
func (c Conversation) WithClassification(cl Classification) Conversation {
	out := c.clone()
	out.Classification = cl
	return out
}

// HandoverTarget reports the agent named by a pending handover.
func (c Conversation) HandoverTarget() (string, bool) {
	h, ok := c.Classification.(Handover)
	if !ok {
		return "", false
	}
	return h.Agent, true
}

// Latest returns the last transcript entry.
func (c Conversation) Latest() (Message, bool) {
	if len(c.Transcript) == 0 {
		return nil, false
	}
	return c.Transcript[len(c.Transcript)-1], true
}

// LatestUserText returns the content of the most recent user message.
func (c Conversation) LatestUserText() string {
	for i := len(c.Transcript) - 1; i >= 0; i-- {
		if m, ok := c.Transcript[i].(UserMessage); ok {
			return m.Content
		}
	}
	return ""
}

func (c Conversation) clone() Conversation {
	out := c
	out.Transcript = slices.Clone(c.Transcript)
	if c.Anonymization != nil {
		out.Anonymization = make(map[string]string, len(c.Anonymization))
		for k, v := range c.Anonymization {
			out.Anonymization[k] = v
		}
	}
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	return out
}
