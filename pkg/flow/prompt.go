package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/agentflow/pkg/memory"
	"github.com/harun/agentflow/pkg/usecase"
)

// PromptRequest describes the turn a use case section is built for.
type PromptRequest struct {
	ConversationID string
	// TurnID keeps flow evaluation stable across attempts of one turn.
	TurnID     string
	Input      string
	Conditions usecase.Conditions
}

// Prompt is the rendered use case section of a system prompt.
type Prompt struct {
	Text string
	// Response, when set, answers the turn without a completion.
	Response string
	// Active is the use case the previous answer was tagged with.
	Active string
}

// Render formats every enabled use case. The use case used in the previous
// turn goes through Process; all others have their option lines stripped.
// Use cases that reached their execution limit are left out.
func (e *Engine) Render(ctx context.Context, req PromptRequest) (Prompt, error) {
	used, err := e.UsedUseCases(ctx, req.ConversationID)
	if err != nil {
		return Prompt{}, err
	}
	counts := make(map[string]int, len(used))
	for _, id := range used {
		counts[id]++
	}

	var out Prompt
	if len(used) > 0 {
		out.Active = used[len(used)-1]
	}

	opts := usecase.FormatOptions{Conditions: req.Conditions, Input: req.Input, Used: counts}
	var b strings.Builder
	for _, u := range e.source.Set() {
		if u.SubUseCase || !u.Matches(req.Conditions, req.Input) {
			continue
		}
		if u.ExecutionLimit > 0 && counts[u.ID] >= u.ExecutionLimit {
			continue
		}

		if u.ID != out.Active {
			b.WriteString(Strip(usecase.Format(u, opts)))
			continue
		}

		res, err := e.Process(ctx, Request{
			ConversationID: req.ConversationID,
			TurnID:         req.TurnID,
			UseCase:        u,
			Input:          req.Input,
			Format:         opts,
		})
		if err != nil {
			return Prompt{}, err
		}
		b.WriteString(res.Content)
		if res.Response != "" {
			out.Response = res.Response
		}
	}
	out.Text = strings.TrimSpace(b.String())
	return out, nil
}

// UsedUseCases returns the use case ids recorded for a conversation, oldest
// first.
func (e *Engine) UsedUseCases(ctx context.Context, conversationID string) ([]string, error) {
	used, err := memory.GetJSON[[]string](ctx, e.store, memoryOwner, usedKey, conversationID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load used use cases: %w", err)
	}
	return used, nil
}

// RecordUsed appends ids to the conversation's used use case list.
func (e *Engine) RecordUsed(ctx context.Context, conversationID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	used, err := e.UsedUseCases(ctx, conversationID)
	if err != nil {
		return err
	}
	used = append(used, ids...)
	if err := memory.SetJSON(ctx, e.store, memoryOwner, usedKey, conversationID, used); err != nil {
		return fmt.Errorf("failed to store used use cases: %w", err)
	}
	return nil
}
