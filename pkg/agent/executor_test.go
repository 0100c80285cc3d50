package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/events"
	"github.com/harun/agentflow/pkg/filter"
	"github.com/harun/agentflow/pkg/llm"
	"github.com/harun/agentflow/pkg/retry"
	"github.com/harun/agentflow/pkg/toolexecutor"
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

func answer(content string) *llm.Response {
	return &llm.Response{Content: content}
}

func setupExecutor(t *testing.T, completer llm.Completer, tools *toolexecutor.Registry) *Executor {
	exec, err := NewExecutor(Config{
		Completer:     completer,
		Tools:         tools,
		ToolCallLimit: 5,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return exec
}

func weatherTools(t *testing.T, calls *atomic.Int32, sensitive bool) *toolexecutor.Registry {
	reg := toolexecutor.NewRegistry()
	require.NoError(t, reg.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "get_weather",
		Description: "Current weather",
		Sensitive:   sensitive,
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			calls.Add(1)
			return "sunny", nil
		},
	}))
	return reg
}

func TestExecuteWeatherScenario(t *testing.T) {
	var calls atomic.Int32
	completer := &MockCompleter{}
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool { return len(r.Exchanges) == 0 })).
		Return(&llm.Response{ToolCalls: []llm.ToolCall{llm.ParseToolCall("c1", "get_weather", `{}`)}}, nil).Once()
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool { return len(r.Exchanges) == 1 })).
		Return(answer("It's sunny"), nil).Once()

	bus, err := events.NewBus(events.Config{Logger: zerolog.Nop()})
	require.NoError(t, err)
	var toolEvents []events.Event
	bus.On(events.ToolCalled, func(_ context.Context, e events.Event) error {
		toolEvents = append(toolEvents, e)
		return nil
	})

	exec, err := NewExecutor(Config{
		Completer: completer,
		Tools:     weatherTools(t, &calls, false),
		Events:    bus,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	def := &Definition{Name: "weather", SystemPrompt: StaticPrompt("You report weather."), Tools: []string{"get_weather"}}
	conv := conversation.New("conv-1", conversation.User("What's the weather?"))

	out, err := exec.Execute(context.Background(), def, conv, ExecContext{})
	require.NoError(t, err)
	require.Len(t, out.Transcript, len(conv.Transcript)+1)
	last, _ := out.Latest()
	assert.Equal(t, "It's sunny", last.Text())
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, toolEvents, 1)
	assert.Equal(t, "get_weather", toolEvents[0].Data["tool"])
	assert.Len(t, conv.Transcript, 1)
	completer.AssertExpectations(t)
}

func TestExecuteRetries(t *testing.T) {
	retryAlways := filter.OutputFunc{ID: "always", Fn: func(context.Context, *filter.Context, conversation.AssistantMessage) (filter.Decision, error) {
		return filter.Retry{Reason: "bad", Max: 2, Details: map[string]string{"hint": "shorter"}}, nil
	}}

	t.Run("should stop after max restarts without an extra completion", func(t *testing.T) {
		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(answer("long answer"), nil)
		exec := setupExecutor(t, completer, nil)

		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), OutputFilters: []filter.OutputFilter{retryAlways}}
		conv := conversation.New("c", conversation.User("hi"))

		out, err := exec.Execute(context.Background(), def, conv, ExecContext{})
		require.Error(t, err)
		var fe *FailedError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "a", fe.Agent)
		assert.ErrorIs(t, err, retry.ErrRetryExhausted)
		assert.Equal(t, conv.Transcript, out.Transcript)
		completer.AssertNumberOfCalls(t, "Complete", 3)
	})

	t.Run("should answer with the fallback once exhausted", func(t *testing.T) {
		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(answer("long answer"), nil)
		exec := setupExecutor(t, completer, nil)

		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), OutputFilters: []filter.OutputFilter{retryAlways}, RetryFallback: "Sorry, try later."}
		out, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})
		require.NoError(t, err)
		last, _ := out.Latest()
		assert.Equal(t, "Sorry, try later.", last.Text())
		completer.AssertNumberOfCalls(t, "Complete", 3)
	})

	t.Run("should carry merged details into the next attempt", func(t *testing.T) {
		var seen []*retry.Signal
		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(answer("first"), nil).Once()
		completer.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
			last := r.Messages[len(r.Messages)-1]
			_, isDev := last.(conversation.DeveloperMessage)
			return isDev && strings.Contains(last.Text(), "hint: shorter")
		})).Return(answer("second"), nil).Once()
		exec := setupExecutor(t, completer, nil)

		once := filter.OutputFunc{ID: "once", Fn: func(_ context.Context, fc *filter.Context, msg conversation.AssistantMessage) (filter.Decision, error) {
			if fc.Retry == nil {
				return filter.Retry{Reason: "too long", Details: map[string]string{"hint": "shorter"}}, nil
			}
			return filter.Pass(msg), nil
		}}
		def := &Definition{
			Name: "a",
			SystemPrompt: func(_ context.Context, tc *TurnContext) (Prompt, error) {
				seen = append(seen, tc.Retry)
				return Prompt{Text: "p"}, nil
			},
			OutputFilters: []filter.OutputFilter{once},
		}

		out, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})
		require.NoError(t, err)
		last, _ := out.Latest()
		assert.Equal(t, "second", last.Text())
		require.Len(t, seen, 2)
		assert.Nil(t, seen[0])
		assert.Equal(t, "shorter", seen[1].Detail("hint"))
		assert.Equal(t, 1, seen[1].Attempt)
		assert.Len(t, out.Transcript, 2)
	})
}

func TestExecuteCommitsOnlyStoredAnswers(t *testing.T) {
	var committed []string
	recorder := filter.OutputFunc{ID: "recorder", Fn: func(_ context.Context, fc *filter.Context, msg conversation.AssistantMessage) (filter.Decision, error) {
		text := msg.Text()
		fc.OnCommit(func(context.Context) error {
			committed = append(committed, text)
			return nil
		})
		return filter.Pass(msg), nil
	}}
	rejectRude := filter.OutputFunc{ID: "reject_rude", Fn: func(_ context.Context, _ *filter.Context, msg conversation.AssistantMessage) (filter.Decision, error) {
		if strings.Contains(msg.Text(), "damn") {
			return filter.Retry{Reason: "compliance", Max: 1}, nil
		}
		return filter.Pass(msg), nil
	}}
	def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), OutputFilters: []filter.OutputFilter{recorder, rejectRude}}

	t.Run("should run commits of the accepted attempt once", func(t *testing.T) {
		committed = nil
		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(answer("damn hi"), nil).Once()
		completer.On("Complete", mock.Anything, mock.Anything).Return(answer("hi"), nil).Once()
		exec := setupExecutor(t, completer, nil)

		out, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hello")), ExecContext{})
		require.NoError(t, err)
		last, _ := out.Latest()
		assert.Equal(t, "hi", last.Text())
		assert.Equal(t, []string{"hi"}, committed)
	})

	t.Run("should not commit rejected answers replaced by the fallback", func(t *testing.T) {
		committed = nil
		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(answer("damn it"), nil)
		exec := setupExecutor(t, completer, nil)
		withFallback := *def
		withFallback.RetryFallback = "Sorry."

		out, err := exec.Execute(context.Background(), &withFallback, conversation.New("c", conversation.User("hello")), ExecContext{})
		require.NoError(t, err)
		last, _ := out.Latest()
		assert.Equal(t, "Sorry.", last.Text())
		assert.Empty(t, committed)
	})

	t.Run("should fail the turn when a commit fails", func(t *testing.T) {
		completer := &MockCompleter{}
		completer.On("Complete", mock.Anything, mock.Anything).Return(answer("hi"), nil)
		exec := setupExecutor(t, completer, nil)
		broken := filter.OutputFunc{ID: "broken", Fn: func(_ context.Context, fc *filter.Context, msg conversation.AssistantMessage) (filter.Decision, error) {
			fc.OnCommit(func(context.Context) error { return errors.New("store down") })
			return filter.Pass(msg), nil
		}}
		conv := conversation.New("c", conversation.User("hello"))

		out, err := exec.Execute(context.Background(), &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), OutputFilters: []filter.OutputFilter{broken}}, conv, ExecContext{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store down")
		assert.Equal(t, conv.Transcript, out.Transcript)
	})
}

func TestExecuteToolCeiling(t *testing.T) {
	var calls atomic.Int32
	completer := &MockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything).
		Return(&llm.Response{ToolCalls: []llm.ToolCall{llm.ParseToolCall("c", "get_weather", `{}`)}}, nil)
	exec := setupExecutor(t, completer, weatherTools(t, &calls, false))

	def := &Definition{Name: "loopy", SystemPrompt: StaticPrompt("p"), Tools: []string{"get_weather"}}
	_, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})

	require.Error(t, err)
	assert.ErrorIs(t, err, toolexecutor.ErrCallLimitExceeded)
	assert.Equal(t, int32(5), calls.Load())
}

func TestExecuteFilters(t *testing.T) {
	completer := &MockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything).Return(answer("model answer"), nil)

	t.Run("should return the conversation unchanged on drop", func(t *testing.T) {
		exec := setupExecutor(t, completer, nil)
		drop := filter.InputFunc{ID: "drop", Fn: func(context.Context, *filter.Context, conversation.Message) (filter.Decision, error) {
			return filter.Drop{Reason: "empty"}, nil
		}}
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), InputFilters: []filter.InputFilter{drop}}
		conv := conversation.New("c", conversation.User("  "))

		out, err := exec.Execute(context.Background(), def, conv, ExecContext{})
		require.NoError(t, err)
		assert.Equal(t, conv, out)
	})

	t.Run("should send rewrites to the model but store the original", func(t *testing.T) {
		rewriting := &MockCompleter{}
		rewriting.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
			return r.Messages[len(r.Messages)-1].Text() == "HELLO"
		})).Return(answer("hi"), nil).Once()
		exec := setupExecutor(t, rewriting, nil)

		up := filter.InputFunc{ID: "upper", Fn: func(_ context.Context, _ *filter.Context, msg conversation.Message) (filter.Decision, error) {
			return filter.Continue{Message: msg.WithText(strings.ToUpper(msg.Text()))}, nil
		}}
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), InputFilters: []filter.InputFilter{up}}

		out, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hello")), ExecContext{})
		require.NoError(t, err)
		assert.Equal(t, "hello", out.Transcript[0].Text())
		assert.Equal(t, "hi", out.Transcript[1].Text())
		rewriting.AssertExpectations(t)
	})

	t.Run("should set the handover classification", func(t *testing.T) {
		exec := setupExecutor(t, completer, nil)
		next, err := filter.NewNextAgent("survey", "")
		require.NoError(t, err)
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), OutputFilters: []filter.OutputFilter{next}}

		out, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("bye")), ExecContext{})
		require.NoError(t, err)
		target, ok := out.HandoverTarget()
		assert.True(t, ok)
		assert.Equal(t, "survey", target)
		last, _ := out.Latest()
		assert.Equal(t, "model answer", last.Text())
	})

	t.Run("should abort without commit on input filter errors", func(t *testing.T) {
		exec := setupExecutor(t, completer, nil)
		broken := filter.InputFunc{ID: "broken", Fn: func(context.Context, *filter.Context, conversation.Message) (filter.Decision, error) {
			return nil, errors.New("store offline")
		}}
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), InputFilters: []filter.InputFilter{broken}}
		conv := conversation.New("c", conversation.User("hi"))

		out, err := exec.Execute(context.Background(), def, conv, ExecContext{})
		require.Error(t, err)
		assert.ErrorContains(t, err, "store offline")
		assert.Equal(t, conv, out)
	})

	t.Run("should answer prompt shortcuts without the model", func(t *testing.T) {
		silent := &MockCompleter{}
		exec := setupExecutor(t, silent, nil)
		def := &Definition{Name: "a", SystemPrompt: func(context.Context, *TurnContext) (Prompt, error) {
			return Prompt{Response: "Static answer"}, nil
		}}

		out, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})
		require.NoError(t, err)
		last, _ := out.Latest()
		assert.Equal(t, "Static answer", last.Text())
		silent.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})
}

func TestExecuteFailures(t *testing.T) {
	failing := &MockCompleter{}
	failing.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("503"))

	t.Run("should wrap completion errors", func(t *testing.T) {
		exec := setupExecutor(t, failing, nil)
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p")}

		_, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})
		assert.ErrorIs(t, err, ErrCompletion)
	})

	t.Run("should log the failed turn", func(t *testing.T) {
		var buf strings.Builder
		exec, err := NewExecutor(Config{Completer: failing, Logger: zerolog.New(&buf)})
		require.NoError(t, err)
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p")}

		_, err = exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})
		require.Error(t, err)
		assert.Contains(t, buf.String(), "Agent turn failed")
		assert.Contains(t, buf.String(), `"level":"error"`)
	})

	t.Run("should let OnFail answer", func(t *testing.T) {
		exec := setupExecutor(t, failing, nil)
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), OnFail: func(_ context.Context, err *FailedError) (conversation.AssistantMessage, bool) {
			return conversation.Assistant("We are having trouble, please retry."), errors.Is(err, ErrCompletion)
		}}

		out, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})
		require.NoError(t, err)
		last, _ := out.Latest()
		assert.Equal(t, "We are having trouble, please retry.", last.Text())
	})

	t.Run("should reject unknown tools as validation errors", func(t *testing.T) {
		exec := setupExecutor(t, failing, nil)
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p"), Tools: []string{"nope"}}

		_, err := exec.Execute(context.Background(), def, conversation.New("c", conversation.User("hi")), ExecContext{})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("should reject empty conversations", func(t *testing.T) {
		exec := setupExecutor(t, failing, nil)
		def := &Definition{Name: "a", SystemPrompt: StaticPrompt("p")}

		_, err := exec.Execute(context.Background(), def, conversation.New("c"), ExecContext{})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(Definition{Name: "b", SystemPrompt: StaticPrompt("p")}, Definition{Name: "a", SystemPrompt: StaticPrompt("p")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, ok := reg.Get("a")
	assert.True(t, ok)
	assert.ErrorIs(t, reg.Register(Definition{Name: "a", SystemPrompt: StaticPrompt("p")}), ErrValidation)
	assert.ErrorIs(t, reg.Register(Definition{Name: "c"}), ErrValidation)
}
