package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(content string) Completer {
	return CompleterFunc(func(context.Context, Request) (*Response, error) {
		return &Response{Content: content}, nil
	})
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	r.Register(fixed("openai"), "gpt-*", "o1")
	r.Register(fixed("anthropic"), "claude-*")

	cases := map[string]string{
		"gpt-4o":          "openai",
		"o1":              "openai",
		"claude-sonnet-4": "anthropic",
	}
	for model, want := range cases {
		resp, err := r.Complete(context.Background(), Request{Settings: Settings{Model: model}})
		require.NoError(t, err, model)
		assert.Equal(t, want, resp.Content, model)
	}

	t.Run("should fail without a matching route", func(t *testing.T) {
		_, err := r.Complete(context.Background(), Request{Settings: Settings{Model: "mistral"}})
		assert.Error(t, err)
	})

	t.Run("should use the default completer", func(t *testing.T) {
		r.Register(fixed("default"))
		resp, err := r.Complete(context.Background(), Request{Settings: Settings{Model: "mistral"}})
		require.NoError(t, err)
		assert.Equal(t, "default", resp.Content)
	})
}

func TestNewProvider(t *testing.T) {
	c, err := NewProvider(ProviderConfig{Type: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompleter{}, c)

	c, err = NewProvider(ProviderConfig{Type: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicCompleter{}, c)

	_, err = NewProvider(ProviderConfig{Type: "gemini"})
	assert.Error(t, err)
}

func TestParseToolCall(t *testing.T) {
	t.Run("should parse JSON arguments", func(t *testing.T) {
		call := ParseToolCall("c1", "get_weather", `{"city":"Berlin"}`)
		assert.Equal(t, "Berlin", call.Arguments["city"])
		assert.Empty(t, call.FailureReason)
	})

	t.Run("should report invalid JSON instead of failing", func(t *testing.T) {
		call := ParseToolCall("c1", "get_weather", `{"city":`)
		assert.NotEmpty(t, call.FailureReason)
		assert.Empty(t, call.Arguments)
		assert.Equal(t, `{"city":`, call.RawArguments)
	})

	t.Run("should accept empty arguments", func(t *testing.T) {
		call := ParseToolCall("c1", "now", "")
		assert.Empty(t, call.FailureReason)
		assert.NotNil(t, call.Arguments)
	})
}
