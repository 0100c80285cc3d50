package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProviderConfig selects and authenticates a completion backend.
type ProviderConfig struct {
	Name    string
	Type    string
	APIKey  string
	BaseURL string
	// Models routed to this provider. A trailing "*" matches a prefix.
	Models []string
}

// NewProvider creates a completer for cfg.Type.
func NewProvider(cfg ProviderConfig) (Completer, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAICompleter(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicCompleter(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

type route struct {
	pattern   string
	completer Completer
}

// Router dispatches completions to a completer chosen by model name.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	fallback Completer
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register routes the given model patterns to c. With no patterns c becomes
// the default completer.
func (r *Router) Register(c Completer, patterns ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(patterns) == 0 {
		r.fallback = c
		return
	}
	for _, p := range patterns {
		r.routes = append(r.routes, route{pattern: p, completer: c})
	}
}

// Resolve finds the completer for model.
func (r *Router) Resolve(model string) (Completer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if matchModel(rt.pattern, model) {
			return rt.completer, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no provider for model %q", model)
}

// Complete implements Completer.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	c, err := r.Resolve(req.Settings.Model)
	if err != nil {
		return nil, err
	}
	return c.Complete(ctx, req)
}

func matchModel(pattern, model string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(model, prefix)
	}
	return pattern == model
}
