package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/filter"
	"github.com/harun/agentflow/pkg/llm"
	"github.com/harun/agentflow/pkg/ratelimit"
	"github.com/harun/agentflow/pkg/retry"
	"github.com/harun/agentflow/pkg/usecase"
)

// TurnContext is what prompt builders see for one attempt of a turn.
type TurnContext struct {
	Agent        string
	Conversation conversation.Conversation
	// Input is the latest user text after input filters.
	Input      string
	Conditions usecase.Conditions
	Values     map[string]any
	// Retry is nil on the first attempt.
	Retry *retry.Signal
}

// Prompt is a resolved system prompt. A non-empty Response answers the turn
// without calling the model.
type Prompt struct {
	Text     string
	Response string
}

// PromptFunc builds the system prompt of a turn.
type PromptFunc func(ctx context.Context, tc *TurnContext) (Prompt, error)

// StaticPrompt returns a PromptFunc always producing text.
func StaticPrompt(text string) PromptFunc {
	return func(context.Context, *TurnContext) (Prompt, error) {
		return Prompt{Text: text}, nil
	}
}

// FailHandler may turn a failed turn into an assistant answer. Returning
// false propagates the failure.
type FailHandler func(ctx context.Context, err *FailedError) (conversation.AssistantMessage, bool)

// Definition describes an agent.
type Definition struct {
	Name          string
	Description   string
	Settings      llm.Settings
	SystemPrompt  PromptFunc
	Tools         []string
	InputFilters  []filter.InputFilter
	OutputFilters []filter.OutputFilter
	// RetryMax caps retries requested without an explicit max.
	RetryMax int
	// RetryFallback answers the turn once retries are exhausted.
	RetryFallback string
	OnFail        FailHandler
	// RateLimit throttles completions per agent and model.
	RateLimit *ratelimit.Rate
}

// Validate checks the definition can run.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: agent name is required", ErrValidation)
	}
	if d.SystemPrompt == nil {
		return fmt.Errorf("%w: agent %s has no system prompt", ErrValidation, d.Name)
	}
	if d.RetryMax < 0 {
		return fmt.Errorf("%w: agent %s has negative retry max", ErrValidation, d.Name)
	}
	for i, f := range d.InputFilters {
		if f == nil {
			return fmt.Errorf("%w: agent %s input filter #%d is nil", ErrValidation, d.Name, i+1)
		}
	}
	for i, f := range d.OutputFilters {
		if f == nil {
			return fmt.Errorf("%w: agent %s output filter #%d is nil", ErrValidation, d.Name, i+1)
		}
	}
	return nil
}

// Registry holds agent definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates a registry from defs.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds def. Names are unique.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("%w: agent %s already registered", ErrValidation, def.Name)
	}
	r.defs[def.Name] = &def
	return nil
}

// Get returns the definition called name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names lists registered agents.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
