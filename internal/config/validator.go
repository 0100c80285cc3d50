package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// knownEvents mirrors the lifecycle event names hooks can subscribe to.
var knownEvents = []string{
	"agent:started",
	"agent:finished",
	"tool:called",
	"retry:requested",
	"handover:performed",
	"rate:limited",
	"flow:option_matched",
}

// Validator reports configuration problems that do not stop startup.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateHookEvent validates a hook's event name
func (v *Validator) ValidateHookEvent(event string) error {
	for _, known := range knownEvents {
		if event == known {
			return nil
		}
	}
	return fmt.Errorf("unknown hook event: %s (must be one of: %s)", event, strings.Join(knownEvents, ", "))
}

// ValidateSchedule validates a janitor cron expression
func (v *Validator) ValidateSchedule(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateSampleRatio validates the trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, p := range cfg.Providers {
		if p.Provider != "" {
			if err := v.ValidateAPIKey(p.APIKey, p.Provider); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
	}

	for i, agent := range cfg.Agents {
		if agent.Temperature != 0 {
			if err := v.ValidateTemperature(agent.Temperature); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.Name, err))
			}
		}
		if agent.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(agent.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.Name, err))
			}
		}
		if agent.RetryMax < 0 {
			errors = append(errors, fmt.Errorf("agent %d (%s): retry_max must be >= 0", i, agent.Name))
		}
	}

	for i, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		if err := v.ValidateHookEvent(hook.Event); err != nil {
			errors = append(errors, fmt.Errorf("hook %d: %w", i, err))
		}
		if strings.TrimSpace(hook.Script) == "" {
			errors = append(errors, fmt.Errorf("hook %d: script is required", i))
		}
	}

	if cfg.Memory.JanitorSchedule != "" {
		if err := v.ValidateSchedule(cfg.Memory.JanitorSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateSampleRatio(cfg.Telemetry.SampleRatio); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
