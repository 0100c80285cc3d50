package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("should return defaults when the file is missing", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.yaml")).Load()
		require.NoError(t, err)
		assert.Equal(t, 60, cfg.Engine.ToolCallLimit)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("should load yaml with durations and derived paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "agentflow.yaml")
		t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-from-env")

		content := `
data_dir: ` + tmpDir + `
engine:
  entry_agent: support
  handover_limit: 5
  completion_timeout: 45s
memory:
  driver: sqlite
logging:
  audit: true
providers:
  - id: main
    provider: anthropic
    api_key: ${TEST_ANTHROPIC_KEY}
    models: ["claude-*"]
rate_limits:
  - name: slow
    limit: 2
    per: 1s
agents:
  - name: support
    model: claude-sonnet-4
    rate_limit: slow
    input_filters:
      - name: route
        params:
          routes: ["invoice => billing"]
`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, 5, cfg.Engine.HandoverLimit)
		assert.Equal(t, 60, cfg.Engine.ToolCallLimit)
		assert.Equal(t, 45*time.Second, cfg.Engine.CompletionTimeout)
		assert.Equal(t, filepath.Join(tmpDir, "memory.db"), cfg.Memory.Path)
		assert.Equal(t, filepath.Join(tmpDir, "audit.log"), cfg.Logging.AuditFile)
		assert.Equal(t, "sk-ant-from-env", cfg.Providers[0].APIKey)
		require.Len(t, cfg.RateLimits, 1)
		assert.Equal(t, time.Second, cfg.RateLimits[0].Per)
		require.Len(t, cfg.Agents, 1)
		require.Len(t, cfg.Agents[0].InputFilters, 1)
		assert.Equal(t, "route", cfg.Agents[0].InputFilters[0].Name)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("should merge the agent catalog", func(t *testing.T) {
		tmpDir := t.TempDir()
		catalog := `
agents:
  - name: default
    model: gpt-4o
  - name: billing
    model: claude-sonnet-4
    output_filters:
      - name: next_agent
        params:
          agent: survey
`
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "agents.yaml"), []byte(catalog), 0644))
		configPath := filepath.Join(tmpDir, "agentflow.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"agent_catalog": "agents.yaml", "data_dir": "`+tmpDir+`"}`), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		require.Len(t, cfg.Agents, 2)
		assert.Equal(t, "gpt-4o", cfg.Agents[0].Model)
		assert.Equal(t, "billing", cfg.Agents[1].Name)
		assert.Equal(t, "survey", cfg.Agents[1].OutputFilters[0].Params["agent"])
	})

	t.Run("should fail on malformed files", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "agentflow.yaml")
	loader := NewLoader(configPath)

	cfg := validConfig()
	cfg.Engine.HandoverLimit = 7
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Engine.HandoverLimit)
	assert.Equal(t, "main", loaded.Providers[0].ID)
}

func TestLoadAgentCatalog(t *testing.T) {
	t.Run("should reject unnamed agents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agents:\n  - model: gpt-4o\n"), 0644))

		_, err := LoadAgentCatalog(path)
		assert.ErrorContains(t, err, "has no name")
	})

	t.Run("should fail on missing files", func(t *testing.T) {
		_, err := LoadAgentCatalog(filepath.Join(t.TempDir(), "none.yaml"))
		assert.Error(t, err)
	})
}

func TestMergeAgents(t *testing.T) {
	base := []AgentConfig{{Name: "a", Model: "m1"}, {Name: "b", Model: "m1"}}
	merged := MergeAgents(base, []AgentConfig{{Name: "b", Model: "m2"}, {Name: "c", Model: "m3"}})

	require.Len(t, merged, 3)
	assert.Equal(t, "m2", merged[1].Model)
	assert.Equal(t, "c", merged[2].Name)
	assert.Equal(t, "m1", base[1].Model)
}
