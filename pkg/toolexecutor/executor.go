package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/pkg/llm"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const maxOutputSize = 10 * 1024

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolHandler runs a tool with validated arguments.
type ToolHandler func(ctx context.Context, params map[string]any) (string, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	// Sensitive marks tools whose output must be treated as confidential.
	Sensitive bool        `json:"sensitive"`
	Handler   ToolHandler `json:"-"`
}

// Registry holds every tool known to the engine.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	params  map[string]map[string]any
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		params:  make(map[string]map[string]any),
	}
}

// RegisterTool validates def, compiles its parameter schema and stores it.
func (r *Registry) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := parameterSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema
	r.params[def.Name] = schemaMap

	log.Debug().Str("tool", def.Name).Bool("sensitive", def.Sensitive).Msg("Tool registered")
	return nil
}

// GetTool returns a tool definition by name
func (r *Registry) GetTool(name string) *ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// ListTools returns all registered tool names in sorted order.
func (r *Registry) ListTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Toolset resolves the named tools. An unknown name is a setup error.
func (r *Registry) Toolset(names ...string) (*Toolset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts := &Toolset{registry: r, defs: make(map[string]*ToolDefinition, len(names))}
	var missing []string
	for _, name := range names {
		def, ok := r.tools[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if _, dup := ts.defs[name]; dup {
			continue
		}
		ts.defs[name] = def
		ts.order = append(ts.order, name)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown tools: %s", strings.Join(missing, ", "))
	}
	return ts, nil
}

// execute runs def with call's arguments and converts every failure into an
// error result.
func (r *Registry) execute(ctx context.Context, def *ToolDefinition, call llm.ToolCall) llm.ToolResult {
	start := time.Now()
	result := llm.ToolResult{CallID: call.ID, Name: call.Name}

	if call.FailureReason != "" {
		result.IsError = true
		result.Content = "ERROR: " + call.FailureReason
		observability.RecordToolExecution(call.Name, time.Since(start), false)
		return result
	}

	r.mu.RLock()
	schema := r.schemas[def.Name]
	r.mu.RUnlock()

	if err := validateParameters(schema, call.Arguments); err != nil {
		log.Warn().Str("tool", def.Name).Err(err).Msg("Parameter validation failed")
		result.IsError = true
		result.Content = fmt.Sprintf("ERROR: parameter validation failed: %v", err)
		observability.RecordToolExecution(call.Name, time.Since(start), false)
		return result
	}

	output, err := runHandler(ctx, def, call.Arguments)
	duration := time.Since(start)
	observability.RecordToolExecution(def.Name, duration, err == nil)

	if err != nil {
		log.Warn().Str("tool", def.Name).Dur("duration", duration).Err(err).Msg("Tool execution failed")
		result.IsError = true
		result.Content = "ERROR: " + err.Error()
		return result
	}

	log.Debug().Str("tool", def.Name).Dur("duration", duration).Msg("Tool execution completed")
	result.Content = truncateOutput(output)
	return result
}

func runHandler(ctx context.Context, def *ToolDefinition, params map[string]any) (output string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", def.Name, rec)
		}
	}()
	return def.Handler(ctx, params)
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}
	return nil
}

func parameterSchema(def ToolDefinition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		p := map[string]any{"type": param.Type}
		if param.Description != "" {
			p["description"] = param.Description
		}
		if param.Default != nil {
			p["default"] = param.Default
		}
		properties[param.Name] = p
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func truncateOutput(output string) string {
	if len(output) <= maxOutputSize {
		return output
	}
	log.Warn().Int("original", len(output)).Int("truncated", maxOutputSize).Msg("Tool output truncated")
	return output[:maxOutputSize] + "\n... [output truncated]"
}

// Toolset is the subset of registered tools callable during one turn.
type Toolset struct {
	registry *Registry
	defs     map[string]*ToolDefinition
	order    []string
}

// Len reports how many tools the set holds.
func (ts *Toolset) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.order)
}

// Specs describes the set to the model.
func (ts *Toolset) Specs() []llm.ToolSpec {
	if ts == nil {
		return nil
	}
	specs := make([]llm.ToolSpec, 0, len(ts.order))
	ts.registry.mu.RLock()
	defer ts.registry.mu.RUnlock()
	for _, name := range ts.order {
		def := ts.defs[name]
		specs = append(specs, llm.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  ts.registry.params[name],
		})
	}
	return specs
}

// Execute runs call against the set. Calls to tools outside the set are
// answered with an error result.
func (ts *Toolset) Execute(ctx context.Context, call llm.ToolCall) (llm.ToolResult, bool) {
	var def *ToolDefinition
	if ts != nil {
		def = ts.defs[call.Name]
	}
	if def == nil {
		log.Warn().Str("tool", call.Name).Msg("Tool not found")
		observability.RecordToolExecution(call.Name, 0, false)
		return llm.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("ERROR: unknown tool %q", call.Name),
			IsError: true,
		}, false
	}
	return ts.registry.execute(ctx, def, call), def.Sensitive
}
