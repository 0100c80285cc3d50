package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "AGENTFLOW"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the configuration file (JSON or YAML by extension), applies
// AGENTFLOW_* environment overrides and fills derived defaults. A missing
// file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType(configType(configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := l.applyDefaults(cfg, filepath.Dir(configPath)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) applyDefaults(cfg *Config, baseDir string) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".agentflow")
	}

	if cfg.Logging.Audit && cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}
	if cfg.Memory.Driver == "sqlite" && cfg.Memory.Path == "" {
		cfg.Memory.Path = filepath.Join(cfg.DataDir, "memory.db")
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
	}

	if cfg.AgentCatalog != "" {
		path := cfg.AgentCatalog
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		agents, err := LoadAgentCatalog(path)
		if err != nil {
			return err
		}
		cfg.Agents = MergeAgents(cfg.Agents, agents)
	}
	return nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// Save writes cfg to the config path, creating its directory.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	settings, err := toSettings(cfg)
	if err != nil {
		return err
	}
	for key, value := range settings {
		v.Set(key, value)
	}

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// toSettings flattens cfg into viper settings keyed by the json tags, so
// YAML and JSON files use the same key names.
func toSettings(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var settings map[string]any
	if err := dec.Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return normalizeNumbers(settings).(map[string]any), nil
}

func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, item := range v {
			v[k] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	default:
		return v
	}
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentflow", "agentflow.yaml")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

type agentCatalog struct {
	Agents []AgentConfig `yaml:"agents"`
}

// LoadAgentCatalog reads agent definitions from a YAML file with a top-level
// "agents" list.
func LoadAgentCatalog(path string) ([]AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent catalog: %w", err)
	}

	var catalog agentCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse agent catalog %s: %w", path, err)
	}
	for i, a := range catalog.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return nil, fmt.Errorf("agent catalog %s: agent %d has no name", path, i)
		}
	}
	return catalog.Agents, nil
}

// MergeAgents returns base with extra applied: agents of the same name are
// replaced, new ones appended in order.
func MergeAgents(base, extra []AgentConfig) []AgentConfig {
	out := make([]AgentConfig, len(base), len(base)+len(extra))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.Name] = i
	}
	for _, a := range extra {
		if i, ok := index[a.Name]; ok {
			out[i] = a
			continue
		}
		index[a.Name] = len(out)
		out = append(out, a)
	}
	return out
}
