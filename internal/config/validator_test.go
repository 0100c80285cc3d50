package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-test123", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("invalid-key", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-test123", "openai"))
	assert.Error(t, v.ValidateAPIKey("invalid-key", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "anthropic"))
}

func TestValidateRanges(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(1.5))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.Error(t, v.ValidateTemperature(2.1))

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(300000))

	assert.NoError(t, v.ValidateSampleRatio(0.25))
	assert.Error(t, v.ValidateSampleRatio(1.5))
}

func TestValidateNames(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))

	assert.NoError(t, v.ValidateHookEvent("handover:performed"))
	assert.Error(t, v.ValidateHookEvent("turn:done"))

	assert.NoError(t, v.ValidateSchedule("@hourly"))
	assert.NoError(t, v.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("every hour"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("should accept defaults with a provider", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(validConfig()))
	})

	t.Run("should collect every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[0].APIKey = "bad"
		cfg.Agents[0].Temperature = 3
		cfg.Agents[0].RetryMax = -1
		cfg.Hooks = []HookConfig{{Event: "nope", Enabled: true}}
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 6)
	})
}
