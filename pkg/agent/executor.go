package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/events"
	"github.com/harun/agentflow/pkg/filter"
	"github.com/harun/agentflow/pkg/llm"
	"github.com/harun/agentflow/pkg/ratelimit"
	"github.com/harun/agentflow/pkg/retry"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/harun/agentflow/pkg/usecase"
)

// DefaultRetryMax caps retries when neither the filter nor the agent sets one.
const DefaultRetryMax = 3

// Config holds executor dependencies.
type Config struct {
	Completer llm.Completer
	Tools     *toolexecutor.Registry
	// Limiters is required for agents with a RateLimit.
	Limiters      *ratelimit.Registry
	Events        *events.Bus
	ToolCallLimit int
	RetryMax      int
	Logger        zerolog.Logger
}

// ExecContext carries per-turn values from the caller.
type ExecContext struct {
	UserID     string
	Conditions usecase.Conditions
	Values     map[string]any
	// Budget is shared by every attempt of the turn; nil creates one.
	Budget *toolexecutor.Budget
}

// Executor runs single turns of an agent.
type Executor struct {
	completer llm.Completer
	tools     *toolexecutor.Registry
	limiters  *ratelimit.Registry
	events    *events.Bus
	callLimit int
	retryMax  int
	logger    zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) (*Executor, error) {
	observability.EnsureRegistered()

	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	tools := cfg.Tools
	if tools == nil {
		tools = toolexecutor.NewRegistry()
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = DefaultRetryMax
	}

	return &Executor{
		completer: cfg.Completer,
		tools:     tools,
		limiters:  cfg.Limiters,
		events:    cfg.Events,
		callLimit: cfg.ToolCallLimit,
		retryMax:  retryMax,
		logger:    cfg.Logger,
	}, nil
}

// Execute runs one turn of def on conv. The returned conversation only ever
// gains messages. On failure the input conversation is returned with a
// *FailedError, unless def.OnFail answers instead.
func (e *Executor) Execute(ctx context.Context, def *Definition, conv conversation.Conversation, ec ExecContext) (result conversation.Conversation, err error) {
	if def == nil {
		return conv, &FailedError{Err: fmt.Errorf("%w: nil agent definition", ErrValidation)}
	}

	ctx = tracing.WithAgent(ctx, def.Name)
	ctx = tracing.WithConversationID(ctx, conv.ID)
	if conv.CurrentTurnID != "" {
		ctx = tracing.WithTurnID(ctx, conv.CurrentTurnID)
	}
	ctx, span := tracing.StartSpan(ctx, "agent.execute",
		attribute.String("agent", def.Name),
		attribute.String("conversation_id", conv.ID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	ctx = toolexecutor.ContextWithExecContext(ctx, &toolexecutor.ExecutionContext{
		ConversationID: conv.ID,
		TurnID:         conv.CurrentTurnID,
		Agent:          def.Name,
		UserID:         ec.UserID,
	})

	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := time.Now()
	e.emit(ctx, events.AgentStarted, def, conv, nil)

	if ec.Budget == nil {
		ec.Budget = toolexecutor.NewBudget(e.callLimit)
	}
	controller := retry.NewController()

	var final Outcome
	for {
		outcome := e.attempt(ctx, def, conv, ec, controller)

		r, ok := outcome.(RetryRequested)
		if !ok {
			final = outcome
			break
		}

		limit := r.Retry.Max
		if limit <= 0 {
			limit = def.RetryMax
		}
		if limit <= 0 {
			limit = e.retryMax
		}

		verdict := controller.Request(limit, r.Retry.Reason, r.Retry.Details)
		observability.RecordRetry(def.Name, !verdict.Retry)
		if verdict.Retry {
			logger.Info().
				Str("reason", verdict.Signal.Reason).
				Int("attempt", verdict.Signal.Attempt).
				Int("max", limit).
				Msg("Retrying turn")
			e.emit(ctx, events.RetryRequested, def, conv, map[string]any{
				"reason":  verdict.Signal.Reason,
				"attempt": verdict.Signal.Attempt,
			})
			controller.Advance(verdict.Signal)
			continue
		}

		if def.RetryFallback != "" {
			logger.Warn().Str("reason", r.Retry.Reason).Msg("Retries exhausted, answering with fallback")
			final = Completed{Message: conversation.Assistant(def.RetryFallback)}
		} else {
			final = Failed{Err: fmt.Errorf("%w after %d attempts: %s", retry.ErrRetryExhausted, controller.Attempts()+1, r.Retry.Reason)}
		}
		break
	}

	observability.RecordTurn(def.Name, time.Since(start), outcomeName(final))
	defer e.emit(ctx, events.AgentFinished, def, conv, map[string]any{"outcome": outcomeName(final)})

	switch o := final.(type) {
	case Completed:
		if o.Dropped {
			return conv, nil
		}
		if err := commit(ctx, o.Commit); err != nil {
			return e.fail(ctx, def, conv, err)
		}
		return conv.Append(o.Message), nil
	case HandoverRequested:
		next := conv
		if o.Message != nil {
			if err := commit(ctx, o.Commit); err != nil {
				return e.fail(ctx, def, conv, err)
			}
			next = next.Append(*o.Message)
		}
		return next.WithClassification(conversation.Handover{Agent: o.Agent, Reason: o.Reason}), nil
	case Failed:
		return e.fail(ctx, def, conv, o.Err)
	default:
		return e.fail(ctx, def, conv, fmt.Errorf("unexpected outcome %T", final))
	}
}

func (e *Executor) fail(ctx context.Context, def *Definition, conv conversation.Conversation, cause error) (conversation.Conversation, error) {
	fe := &FailedError{Agent: def.Name, Err: cause}
	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Error().Err(cause).Msg("Agent turn failed")

	if def.OnFail != nil {
		if msg, ok := def.OnFail(ctx, fe); ok {
			return conv.Append(msg), nil
		}
	}
	return conv, fe
}

func commit(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("failed to commit answer: %w", err)
	}
	return nil
}

// attempt runs input filters, prompt, completion and output filters once.
func (e *Executor) attempt(ctx context.Context, def *Definition, conv conversation.Conversation, ec ExecContext, controller *retry.Controller) Outcome {
	latest, ok := conv.Latest()
	if !ok {
		return Failed{Err: fmt.Errorf("%w: conversation has no messages", ErrValidation)}
	}

	signal := controller.Current()
	fc := &filter.Context{
		Agent:        def.Name,
		Conversation: conv,
		Conditions:   ec.Conditions,
		Values:       ec.Values,
		Retry:        signal,
	}
	pipeline := filter.NewPipeline(def.InputFilters, def.OutputFilters, e.logger)

	decision, err := pipeline.RunInput(ctx, fc, latest)
	if err != nil {
		return Failed{Err: err}
	}
	input := latest
	switch d := decision.(type) {
	case filter.Continue:
		input = d.Message
	default:
		return fromDecision(d, nil)
	}

	tc := &TurnContext{
		Agent:        def.Name,
		Conversation: conv,
		Input:        input.Text(),
		Conditions:   ec.Conditions,
		Values:       ec.Values,
		Retry:        signal,
	}
	prompt, err := def.SystemPrompt(ctx, tc)
	if err != nil {
		return Failed{Err: fmt.Errorf("%w: system prompt: %w", ErrValidation, err)}
	}

	var (
		answer conversation.AssistantMessage
		calls  []toolexecutor.CallRecord
	)
	if prompt.Response != "" {
		answer = conversation.Assistant(prompt.Response)
	} else {
		tools, err := e.tools.Toolset(def.Tools...)
		if err != nil {
			return Failed{Err: fmt.Errorf("%w: %w", ErrValidation, err)}
		}

		if err := e.throttle(ctx, def, conv); err != nil {
			return Failed{Err: err}
		}

		req := llm.Request{
			SystemPrompt: prompt.Text,
			Messages:     promptTranscript(conv, input, signal),
			Settings:     def.Settings,
		}
		loop := toolexecutor.NewLoop(e.completer, e.logger).OnCall(func(ctx context.Context, rec toolexecutor.CallRecord) {
			e.emit(ctx, events.ToolCalled, def, conv, map[string]any{
				"tool":      rec.Call.Name,
				"error":     rec.Result.IsError,
				"sensitive": rec.Sensitive,
			})
		})

		res, err := loop.Run(ctx, req, tools, ec.Budget)
		if err != nil {
			if errors.Is(err, toolexecutor.ErrCallLimitExceeded) {
				return Failed{Err: err}
			}
			return Failed{Err: fmt.Errorf("%w: %w", ErrCompletion, err)}
		}
		calls = res.Calls
		answer = conversation.Assistant(res.Response.Content).WithSensitive(res.SensitiveCalled)
		fc.SensitiveCalled = res.SensitiveCalled
	}
	fc.ToolCalls = calls

	decision, err = pipeline.RunOutput(ctx, fc, answer)
	if err != nil {
		return Failed{Err: err}
	}
	if d, ok := decision.(filter.Continue); ok {
		msg, ok := d.Message.(conversation.AssistantMessage)
		if !ok {
			return Failed{Err: fmt.Errorf("%w: output filters returned a %s message", ErrValidation, d.Message.Role())}
		}
		return Completed{Message: msg, Commit: fc.Commit}
	}
	out := fromDecision(decision, &answer)
	if h, ok := out.(HandoverRequested); ok && h.Message != nil {
		h.Commit = fc.Commit
		out = h
	}
	return out
}

// fromDecision maps a terminal filter decision to an outcome. answer is the
// assistant message under output filtering, nil for input filters.
func fromDecision(d filter.Decision, answer *conversation.AssistantMessage) Outcome {
	switch d := d.(type) {
	case filter.Drop:
		return Completed{Dropped: true}
	case filter.Retry:
		return RetryRequested{Retry: d}
	case filter.Handover:
		h := HandoverRequested{Agent: d.Agent, Reason: d.Reason}
		if d.KeepOutput && answer != nil {
			h.Message = answer
		}
		return h
	case filter.Respond:
		return Completed{Message: conversation.Assistant(d.Content)}
	default:
		return Failed{Err: fmt.Errorf("%w: unexpected filter decision %T", ErrValidation, d)}
	}
}

func (e *Executor) throttle(ctx context.Context, def *Definition, conv conversation.Conversation) error {
	if def.RateLimit == nil {
		return nil
	}
	if e.limiters == nil {
		return fmt.Errorf("%w: agent %s is rate limited but no limiter registry is configured", ErrValidation, def.Name)
	}

	name := ratelimit.AgentLimiterName(def.Name, def.Settings.Model)
	return e.limiters.Acquire(ctx, name, *def.RateLimit, ratelimit.Options{
		Fallback: func(ctx context.Context) {
			e.emit(ctx, events.RateLimited, def, conv, map[string]any{"limiter": name})
		},
	})
}

// promptTranscript is the transcript sent to the model: the filtered input
// replaces the latest message and the retry signal is appended as guidance.
// The stored transcript is never touched.
func promptTranscript(conv conversation.Conversation, input conversation.Message, signal *retry.Signal) []conversation.Message {
	msgs := make([]conversation.Message, 0, len(conv.Transcript)+1)
	msgs = append(msgs, conv.Transcript...)
	if len(msgs) > 0 {
		msgs[len(msgs)-1] = input
	}
	if signal != nil {
		msgs = append(msgs, conversation.Developer(retryGuidance(signal)))
	}
	return msgs
}

func retryGuidance(s *retry.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous answer was rejected (%s, attempt %d). Answer again and avoid the same problem.", s.Reason, s.Attempt)
	if len(s.Details) > 0 {
		keys := make([]string, 0, len(s.Details))
		for k := range s.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nDetails:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, s.Details[k])
		}
	}
	return b.String()
}

func (e *Executor) emit(ctx context.Context, t events.Type, def *Definition, conv conversation.Conversation, data map[string]any) {
	_ = e.events.Emit(ctx, events.Event{
		Type:           t,
		Agent:          def.Name,
		ConversationID: conv.ID,
		TurnID:         conv.CurrentTurnID,
		Data:           data,
	})
}
