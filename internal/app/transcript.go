package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/memory"
)

const transcriptOwner = "conversations"

// storedMessage is one persisted transcript entry.
type storedMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	TurnID    string    `json:"turn_id,omitempty"`
	Sensitive bool      `json:"sensitive,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// storedConversation is the persisted state of one conversation. A pending
// handover survives between turns so the next turn starts at that agent.
type storedConversation struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	Messages       []storedMessage `json:"messages"`
	HandoverAgent  string          `json:"handover_agent,omitempty"`
	HandoverReason string          `json:"handover_reason,omitempty"`
}

// Transcripts persists conversations in a memory store, scoped to the
// conversation session so the janitor expires idle conversations.
type Transcripts struct {
	store memory.Store
	now   func() time.Time
}

// NewTranscripts creates a transcript store over store.
func NewTranscripts(store memory.Store) *Transcripts {
	return &Transcripts{store: store, now: time.Now}
}

// validateConversationID rejects ids that cannot be used as storage keys.
func validateConversationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("conversation id cannot contain path separators or null bytes")
	}
	return nil
}

// Load returns the stored conversation, or a new empty one.
func (t *Transcripts) Load(ctx context.Context, id string) (conversation.Conversation, error) {
	if err := validateConversationID(id); err != nil {
		return conversation.Conversation{}, err
	}

	stored, err := memory.GetJSON[storedConversation](ctx, t.store, transcriptOwner, "transcript", id)
	if errors.Is(err, memory.ErrNotFound) {
		return conversation.New(id), nil
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	msgs := make([]conversation.Message, 0, len(stored.Messages))
	for _, m := range stored.Messages {
		msg, err := decodeMessage(m)
		if err != nil {
			return conversation.Conversation{}, fmt.Errorf("conversation %s: %w", id, err)
		}
		msgs = append(msgs, msg)
	}

	conv := conversation.New(id, msgs...)
	if stored.UserID != "" {
		conv.User = &conversation.Participant{ID: stored.UserID}
	}
	if stored.HandoverAgent != "" {
		conv = conv.WithClassification(conversation.Handover{Agent: stored.HandoverAgent, Reason: stored.HandoverReason})
	}
	return conv, nil
}

// Save replaces the stored conversation with conv.
func (t *Transcripts) Save(ctx context.Context, conv conversation.Conversation) error {
	if err := validateConversationID(conv.ID); err != nil {
		return err
	}

	stored := storedConversation{ID: conv.ID, Messages: make([]storedMessage, 0, len(conv.Transcript))}
	if conv.User != nil {
		stored.UserID = conv.User.ID
	}
	if h, ok := conv.Classification.(conversation.Handover); ok {
		stored.HandoverAgent = h.Agent
		stored.HandoverReason = h.Reason
	}

	now := t.now()
	for _, m := range conv.Transcript {
		meta := m.Metadata()
		stored.Messages = append(stored.Messages, storedMessage{
			Role:      string(m.Role()),
			Content:   m.Text(),
			TurnID:    meta.TurnID,
			Sensitive: meta.Sensitive,
			Timestamp: now,
		})
	}

	if err := memory.SetJSON(ctx, t.store, transcriptOwner, "transcript", conv.ID, stored); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Reset forgets the conversation.
func (t *Transcripts) Reset(ctx context.Context, id string) error {
	if err := validateConversationID(id); err != nil {
		return err
	}
	return t.store.Delete(ctx, transcriptOwner, "transcript", id)
}

func decodeMessage(m storedMessage) (conversation.Message, error) {
	meta := conversation.Metadata{TurnID: m.TurnID, Sensitive: m.Sensitive, Format: conversation.FormatText}
	switch conversation.Role(m.Role) {
	case conversation.RoleUser:
		return conversation.UserMessage{Content: m.Content, Meta: meta}, nil
	case conversation.RoleAssistant:
		return conversation.AssistantMessage{Content: m.Content, Meta: meta}, nil
	case conversation.RoleSystem:
		return conversation.SystemMessage{Content: m.Content, Meta: meta}, nil
	case conversation.RoleDeveloper:
		return conversation.DeveloperMessage{Content: m.Content, Meta: meta}, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", m.Role)
	}
}
