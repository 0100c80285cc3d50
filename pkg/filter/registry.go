package filter

import (
	"fmt"
	"sort"
	"sync"
)

// Params configures a filter built by a factory.
type Params map[string]any

// String returns the string parameter key or def.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer parameter key or def.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Strings returns the list parameter key.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// InputFactory builds an input filter from params.
type InputFactory func(params Params) (InputFilter, error)

// OutputFactory builds an output filter from params.
type OutputFactory func(params Params) (OutputFilter, error)

// Registry maps filter names used in agent definitions to factories.
type Registry struct {
	mu      sync.RWMutex
	inputs  map[string]InputFactory
	outputs map[string]OutputFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		inputs:  make(map[string]InputFactory),
		outputs: make(map[string]OutputFactory),
	}
}

// RegisterInput adds an input filter factory.
func (r *Registry) RegisterInput(name string, f InputFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inputs[name]; exists {
		return fmt.Errorf("input filter %s already registered", name)
	}
	r.inputs[name] = f
	return nil
}

// RegisterOutput adds an output filter factory.
func (r *Registry) RegisterOutput(name string, f OutputFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.outputs[name]; exists {
		return fmt.Errorf("output filter %s already registered", name)
	}
	r.outputs[name] = f
	return nil
}

// Input builds the named input filter.
func (r *Registry) Input(name string, params Params) (InputFilter, error) {
	r.mu.RLock()
	f, ok := r.inputs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown input filter: %s", name)
	}
	return f(params)
}

// Output builds the named output filter.
func (r *Registry) Output(name string, params Params) (OutputFilter, error) {
	r.mu.RLock()
	f, ok := r.outputs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown output filter: %s", name)
	}
	return f(params)
}

// Names lists registered input and output filter names.
func (r *Registry) Names() (inputs, outputs []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.inputs {
		inputs = append(inputs, n)
	}
	for n := range r.outputs {
		outputs = append(outputs, n)
	}
	sort.Strings(inputs)
	sort.Strings(outputs)
	return inputs, outputs
}
