package toolexecutor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/harun/agentflow/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCompleter is a mock implementation of llm.Completer
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}

func toolRequest(name string) *llm.Response {
	return &llm.Response{ToolCalls: []llm.ToolCall{llm.ParseToolCall("call-"+name, name, `{"city":"Berlin"}`)}}
}

func setupToolset(t *testing.T, calls *atomic.Int32) *Toolset {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTool(ToolDefinition{
		Name:        "get_weather",
		Description: "Current weather for a city",
		Parameters:  []ToolParameter{{Name: "city", Type: "string", Description: "City", Required: true}},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			calls.Add(1)
			return "sunny", nil
		},
	}))
	ts, err := reg.Toolset("get_weather")
	require.NoError(t, err)
	return ts
}

func TestLoop_Run(t *testing.T) {
	t.Run("should feed tool results back until the model answers", func(t *testing.T) {
		var calls atomic.Int32
		ts := setupToolset(t, &calls)

		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool { return len(r.Exchanges) == 0 })).
			Return(toolRequest("get_weather"), nil).Once()
		completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
			return len(r.Exchanges) == 1 && r.Exchanges[0].Results[0].Content == "sunny"
		})).Return(&llm.Response{Content: "It's sunny"}, nil).Once()

		var observed []CallRecord
		loop := NewLoop(completer, zerolog.Nop()).OnCall(func(_ context.Context, rec CallRecord) {
			observed = append(observed, rec)
		})

		res, err := loop.Run(context.Background(), llm.Request{}, ts, NewBudget(5))
		require.NoError(t, err)
		assert.Equal(t, "It's sunny", res.Response.Content)
		require.Len(t, res.Calls, 1)
		assert.Equal(t, "get_weather", res.Calls[0].Call.Name)
		assert.False(t, res.SensitiveCalled)
		assert.Len(t, observed, 1)
		assert.Equal(t, int32(1), calls.Load())
		completer.AssertExpectations(t)
	})

	t.Run("should stop before exceeding the call ceiling", func(t *testing.T) {
		var calls atomic.Int32
		ts := setupToolset(t, &calls)

		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(toolRequest("get_weather"), nil)

		budget := NewBudget(3)
		res, err := NewLoop(completer, zerolog.Nop()).Run(context.Background(), llm.Request{}, ts, budget)

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCallLimitExceeded))
		assert.Equal(t, int32(3), calls.Load())
		assert.Len(t, res.Calls, 3)
		assert.Equal(t, 3, budget.Used())
	})

	t.Run("should share one budget across runs", func(t *testing.T) {
		var calls atomic.Int32
		ts := setupToolset(t, &calls)

		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool { return len(r.Exchanges) == 0 })).
			Return(toolRequest("get_weather"), nil)
		completer.On("Complete", mock.Anything, mock.Anything).Return(&llm.Response{Content: "done"}, nil)

		budget := NewBudget(1)
		loop := NewLoop(completer, zerolog.Nop())

		_, err := loop.Run(context.Background(), llm.Request{}, ts, budget)
		require.NoError(t, err)

		_, err = loop.Run(context.Background(), llm.Request{}, ts, budget)
		assert.ErrorIs(t, err, ErrCallLimitExceeded)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("should answer unknown tools with an error result", func(t *testing.T) {
		var calls atomic.Int32
		ts := setupToolset(t, &calls)

		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool { return len(r.Exchanges) == 0 })).
			Return(toolRequest("delete_account"), nil).Once()
		completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
			return len(r.Exchanges) == 1 && r.Exchanges[0].Results[0].IsError
		})).Return(&llm.Response{Content: "sorry"}, nil).Once()

		res, err := NewLoop(completer, zerolog.Nop()).Run(context.Background(), llm.Request{}, ts, nil)
		require.NoError(t, err)
		assert.Equal(t, "sorry", res.Response.Content)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("should return completion errors", func(t *testing.T) {
		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("quota"))

		_, err := NewLoop(completer, zerolog.Nop()).Run(context.Background(), llm.Request{}, nil, nil)
		assert.EqualError(t, err, "quota")
	})

	t.Run("should pass tool specs to the model", func(t *testing.T) {
		var calls atomic.Int32
		ts := setupToolset(t, &calls)

		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
			return len(r.Tools) == 1 && r.Tools[0].Name == "get_weather"
		})).Return(&llm.Response{Content: "ok"}, nil).Once()

		_, err := NewLoop(completer, zerolog.Nop()).Run(context.Background(), llm.Request{}, ts, nil)
		require.NoError(t, err)
		completer.AssertExpectations(t)
	})
}
