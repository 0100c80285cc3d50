package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentflow/internal/config"
	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/filter"
	"github.com/harun/agentflow/pkg/flow"
	"github.com/harun/agentflow/pkg/llm"
	"github.com/harun/agentflow/pkg/ratelimit"
)

// agentBuilder turns configured agents into definitions.
type agentBuilder struct {
	filters *filter.Registry
	// flow is nil when use cases are disabled.
	flow  *flow.Engine
	rates map[string]ratelimit.Rate
}

func newAgentBuilder(cfg *config.Config, filters *filter.Registry, engine *flow.Engine) *agentBuilder {
	rates := make(map[string]ratelimit.Rate, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		rates[rl.Name] = ratelimit.Rate{Limit: rl.Limit, Per: rl.Per}
	}
	return &agentBuilder{filters: filters, flow: engine, rates: rates}
}

// Build creates the definitions of every configured agent.
func (b *agentBuilder) Build(agents []config.AgentConfig) ([]agent.Definition, error) {
	defs := make([]agent.Definition, 0, len(agents))
	for _, ac := range agents {
		def, err := b.build(ac)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (b *agentBuilder) build(ac config.AgentConfig) (agent.Definition, error) {
	def := agent.Definition{
		Name:        ac.Name,
		Description: ac.Description,
		Settings: llm.Settings{
			Model:       ac.Model,
			Temperature: ac.Temperature,
			MaxTokens:   ac.MaxTokens,
		},
		SystemPrompt:  agent.StaticPrompt(ac.SystemPrompt),
		Tools:         ac.Tools,
		RetryMax:      ac.RetryMax,
		RetryFallback: ac.RetryFallback,
	}

	for _, fc := range ac.InputFilters {
		f, err := b.filters.Input(fc.Name, filter.Params(fc.Params))
		if err != nil {
			return agent.Definition{}, err
		}
		def.InputFilters = append(def.InputFilters, f)
	}

	if ac.UseCases {
		if b.flow == nil {
			return agent.Definition{}, fmt.Errorf("use cases are enabled for the agent but flow is disabled")
		}
		def.SystemPrompt = useCasePrompt(ac.SystemPrompt, b.flow)
		// The tracker runs first so later filters see answers without tags.
		def.OutputFilters = append(def.OutputFilters, flow.NewTracker(b.flow))
	}
	for _, fc := range ac.OutputFilters {
		f, err := b.filters.Output(fc.Name, filter.Params(fc.Params))
		if err != nil {
			return agent.Definition{}, err
		}
		def.OutputFilters = append(def.OutputFilters, f)
	}

	if ac.RateLimit != "" {
		rt, ok := b.rates[ac.RateLimit]
		if !ok {
			return agent.Definition{}, fmt.Errorf("unknown rate limit %s", ac.RateLimit)
		}
		def.RateLimit = &rt
	}

	if ac.FailMessage != "" {
		msg := ac.FailMessage
		def.OnFail = func(context.Context, *agent.FailedError) (conversation.AssistantMessage, bool) {
			return conversation.Assistant(msg), true
		}
	}
	return def, nil
}

// useCasePrompt appends the use cases matching the turn to base. A static
// use case response answers the turn without a completion.
func useCasePrompt(base string, engine *flow.Engine) agent.PromptFunc {
	return func(ctx context.Context, tc *agent.TurnContext) (agent.Prompt, error) {
		rendered, err := engine.Render(ctx, flow.PromptRequest{
			ConversationID: tc.Conversation.ID,
			TurnID:         tc.Conversation.CurrentTurnID,
			Input:          tc.Input,
			Conditions:     tc.Conditions,
		})
		if err != nil {
			return agent.Prompt{}, err
		}
		if rendered.Response != "" {
			return agent.Prompt{Response: rendered.Response}, nil
		}

		parts := []string{strings.TrimSpace(base)}
		if rendered.Text != "" {
			parts = append(parts, "## Use Cases\n\n"+rendered.Text, flow.TrackerInstruction)
		}
		return agent.Prompt{Text: strings.TrimSpace(strings.Join(parts, "\n\n"))}, nil
	}
}
