package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{ID: "main", Provider: "anthropic", APIKey: "sk-ant-test123", Models: []string{"claude-*"}},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60, cfg.Engine.ToolCallLimit)
	assert.Equal(t, 20, cfg.Engine.HandoverLimit)
	assert.Equal(t, 3, cfg.Engine.RetryLimit)
	assert.Equal(t, 2*time.Minute, cfg.Engine.CompletionTimeout)
	assert.Equal(t, "memory", cfg.Memory.Driver)
	assert.Equal(t, "@hourly", cfg.Memory.JanitorSchedule)
	assert.Len(t, cfg.Agents, 1)
	assert.Equal(t, "default", cfg.Agents[0].Name)
	assert.Equal(t, cfg.Engine.EntryAgent, cfg.Agents[0].Name)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "should require a provider",
			mutate:  func(cfg *Config) { cfg.Providers = nil },
			wantErr: "no providers",
		},
		{
			name:    "should reject unknown provider types",
			mutate:  func(cfg *Config) { cfg.Providers[0].Provider = "gemini" },
			wantErr: "invalid provider",
		},
		{
			name:    "should require agents",
			mutate:  func(cfg *Config) { cfg.Agents = nil },
			wantErr: "at least one agent",
		},
		{
			name: "should reject duplicate agents",
			mutate: func(cfg *Config) {
				cfg.Agents = append(cfg.Agents, cfg.Agents[0])
			},
			wantErr: "more than once",
		},
		{
			name:    "should require the entry agent",
			mutate:  func(cfg *Config) { cfg.Engine.EntryAgent = "triage" },
			wantErr: "entry agent",
		},
		{
			name:    "should reject unknown rate limits",
			mutate:  func(cfg *Config) { cfg.Agents[0].RateLimit = "slow" },
			wantErr: "unknown rate limit",
		},
		{
			name:    "should require a sqlite path",
			mutate:  func(cfg *Config) { cfg.Memory.Driver = "sqlite" },
			wantErr: "memory.path",
		},
		{
			name:    "should require a use case dir",
			mutate:  func(cfg *Config) { cfg.Flow.Enabled = true },
			wantErr: "use_case_dir",
		},
		{
			name:    "should require positive handover limits",
			mutate:  func(cfg *Config) { cfg.Engine.HandoverLimit = 0 },
			wantErr: "handover_limit",
		},
		{
			name: "should require positive rate periods",
			mutate: func(cfg *Config) {
				cfg.RateLimits = []RateLimitConfig{{Name: "slow", Limit: 1}}
			},
			wantErr: "per must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigLookups(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimits = []RateLimitConfig{{Name: "slow", Limit: 1, Per: time.Second}}

	rl, ok := cfg.RateLimit("slow")
	assert.True(t, ok)
	assert.Equal(t, time.Second, rl.Per)

	_, ok = cfg.Agent("default")
	assert.True(t, ok)
	_, ok = cfg.Agent("missing")
	assert.False(t, ok)

	assert.Contains(t, cfg.String(), `"tool_call_limit": 60`)
}
