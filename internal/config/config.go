package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main agentflow configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing and metrics
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Turn execution limits
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Flow state and session storage
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Use-case library
	Flow FlowConfig `json:"flow" mapstructure:"flow"`

	// Named limiters shared by agents and filters
	RateLimits []RateLimitConfig `json:"rate_limits" mapstructure:"rate_limits"`

	// Completion backends
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Agents
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// AgentCatalog is an optional YAML file whose agents are merged into Agents.
	AgentCatalog string `json:"agent_catalog" mapstructure:"agent_catalog"`

	// Lifecycle event hooks
	Hooks []HookConfig `json:"hooks" mapstructure:"hooks"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	// Audit writes lifecycle events to a separate JSON lines file.
	Audit     bool   `json:"audit" mapstructure:"audit"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TelemetryConfig holds tracing and metrics settings
type TelemetryConfig struct {
	Tracing     bool    `json:"tracing" mapstructure:"tracing"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
}

// EngineConfig bounds a single top-level execution
type EngineConfig struct {
	EntryAgent        string        `json:"entry_agent" mapstructure:"entry_agent"`
	ToolCallLimit     int           `json:"tool_call_limit" mapstructure:"tool_call_limit"`
	HandoverLimit     int           `json:"handover_limit" mapstructure:"handover_limit"`
	RetryLimit        int           `json:"retry_limit" mapstructure:"retry_limit"`
	CompletionTimeout time.Duration `json:"completion_timeout" mapstructure:"completion_timeout"`
	RateLimitTimeout  time.Duration `json:"rate_limit_timeout" mapstructure:"rate_limit_timeout"`
}

// MemoryConfig selects the memory store
type MemoryConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // memory, sqlite
	Path   string `json:"path" mapstructure:"path"`
	// ShortTermTTL is the age after which session-scoped entries are purged.
	ShortTermTTL    time.Duration `json:"short_term_ttl" mapstructure:"short_term_ttl"`
	JanitorSchedule string        `json:"janitor_schedule" mapstructure:"janitor_schedule"`
}

// FlowConfig holds use-case library settings
type FlowConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	UseCaseDir        string `json:"use_case_dir" mapstructure:"use_case_dir"`
	Watch             bool   `json:"watch" mapstructure:"watch"`
	ClassifierModel   string `json:"classifier_model" mapstructure:"classifier_model"`
	RepeatInstruction string `json:"repeat_instruction" mapstructure:"repeat_instruction"`
}

// RateLimitConfig describes a named limiter
type RateLimitConfig struct {
	Name  string        `json:"name" mapstructure:"name" yaml:"name"`
	Limit int           `json:"limit" mapstructure:"limit" yaml:"limit"`
	Per   time.Duration `json:"per" mapstructure:"per" yaml:"per"`
}

// ProviderConfig holds a completion backend profile
type ProviderConfig struct {
	ID       string   `json:"id" mapstructure:"id"`
	Provider string   `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string   `json:"api_key" mapstructure:"api_key"`
	BaseURL  string   `json:"base_url" mapstructure:"base_url"`
	Models   []string `json:"models" mapstructure:"models"`
}

// AgentConfig represents an agent definition
type AgentConfig struct {
	Name          string         `json:"name" mapstructure:"name" yaml:"name"`
	Description   string         `json:"description" mapstructure:"description" yaml:"description"`
	Model         string         `json:"model" mapstructure:"model" yaml:"model"`
	Temperature   float64        `json:"temperature" mapstructure:"temperature" yaml:"temperature"`
	MaxTokens     int            `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	SystemPrompt  string         `json:"system_prompt" mapstructure:"system_prompt" yaml:"system_prompt"`
	UseCases      bool           `json:"use_cases" mapstructure:"use_cases" yaml:"use_cases"`
	Tools         []string       `json:"tools" mapstructure:"tools" yaml:"tools"`
	InputFilters  []FilterConfig `json:"input_filters" mapstructure:"input_filters" yaml:"input_filters"`
	OutputFilters []FilterConfig `json:"output_filters" mapstructure:"output_filters" yaml:"output_filters"`
	RetryMax      int            `json:"retry_max" mapstructure:"retry_max" yaml:"retry_max"`
	RetryFallback string         `json:"retry_fallback" mapstructure:"retry_fallback" yaml:"retry_fallback"`
	FailMessage   string         `json:"fail_message" mapstructure:"fail_message" yaml:"fail_message"`
	// RateLimit names an entry of Config.RateLimits.
	RateLimit string `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
}

// FilterConfig instantiates a registered filter
type FilterConfig struct {
	Name   string         `json:"name" mapstructure:"name" yaml:"name"`
	Params map[string]any `json:"params" mapstructure:"params" yaml:"params"`
}

// HookConfig runs a script on a lifecycle event
type HookConfig struct {
	ID      string        `json:"id" mapstructure:"id"`
	Event   string        `json:"event" mapstructure:"event"`
	Script  string        `json:"script" mapstructure:"script"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "agentflow",
			SampleRatio: 1,
		},
		Engine: EngineConfig{
			EntryAgent:        "default",
			ToolCallLimit:     60,
			HandoverLimit:     20,
			RetryLimit:        3,
			CompletionTimeout: 2 * time.Minute,
			RateLimitTimeout:  30 * time.Second,
		},
		Memory: MemoryConfig{
			Driver:          "memory",
			ShortTermTTL:    24 * time.Hour,
			JanitorSchedule: "@hourly",
		},
		Flow: FlowConfig{
			Watch: true,
		},
		Agents: []AgentConfig{
			{
				Name:         "default",
				Description:  "General assistant",
				Model:        "claude-sonnet-4",
				Temperature:  0.7,
				MaxTokens:    4096,
				SystemPrompt: "You are a helpful assistant.",
			},
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// RateLimit returns the named limiter configuration.
func (c *Config) RateLimit(name string) (RateLimitConfig, bool) {
	for _, rl := range c.RateLimits {
		if rl.Name == name {
			return rl, true
		}
	}
	return RateLimitConfig{}, false
}

// Agent returns the named agent configuration.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured: at least one provider is required")
	}
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: ID is required", i)
		}
		if p.Provider != "anthropic" && p.Provider != "openai" {
			return fmt.Errorf("provider %s: invalid provider %q (must be: anthropic, openai)", p.ID, p.Provider)
		}
		if p.APIKey == "" {
			return fmt.Errorf("provider %s: api_key is required", p.ID)
		}
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agent %s: defined more than once", a.Name)
		}
		seen[a.Name] = true
		if a.Model == "" {
			return fmt.Errorf("agent %s: model is required", a.Name)
		}
		if a.RateLimit != "" {
			if _, ok := c.RateLimit(a.RateLimit); !ok {
				return fmt.Errorf("agent %s: unknown rate limit %s", a.Name, a.RateLimit)
			}
		}
	}
	if !seen[c.Engine.EntryAgent] {
		return fmt.Errorf("entry agent %q is not configured", c.Engine.EntryAgent)
	}

	if c.Engine.ToolCallLimit <= 0 {
		return fmt.Errorf("engine.tool_call_limit must be positive")
	}
	if c.Engine.HandoverLimit <= 0 {
		return fmt.Errorf("engine.handover_limit must be positive")
	}
	if c.Engine.RetryLimit < 0 {
		return fmt.Errorf("engine.retry_limit must be >= 0")
	}

	switch c.Memory.Driver {
	case "memory":
	case "sqlite":
		if c.Memory.Path == "" {
			return fmt.Errorf("memory.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid memory driver: %s", c.Memory.Driver)
	}

	if c.Flow.Enabled && c.Flow.UseCaseDir == "" {
		return fmt.Errorf("flow.use_case_dir is required when flow is enabled")
	}

	for i, rl := range c.RateLimits {
		if rl.Name == "" {
			return fmt.Errorf("rate limit %d: name is required", i)
		}
		if rl.Per <= 0 {
			return fmt.Errorf("rate limit %s: per must be positive", rl.Name)
		}
	}

	return nil
}
