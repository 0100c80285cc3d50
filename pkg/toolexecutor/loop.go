package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/llm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultCallLimit is the per-turn tool call ceiling used when none is configured.
const DefaultCallLimit = 60

// ErrCallLimitExceeded is returned when a turn asks for more tool calls than its budget allows.
var ErrCallLimitExceeded = errors.New("tool call limit exceeded")

// Budget counts tool calls across a whole turn, retries included.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewBudget creates a budget of limit calls; non-positive limits use DefaultCallLimit.
func NewBudget(limit int) *Budget {
	if limit <= 0 {
		limit = DefaultCallLimit
	}
	return &Budget{limit: limit}
}

// Take reserves one call. It returns false once the limit is reached.
func (b *Budget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Used reports the calls taken so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit reports the configured ceiling.
func (b *Budget) Limit() int { return b.limit }

// CallRecord describes one executed tool call.
type CallRecord struct {
	Call      llm.ToolCall
	Result    llm.ToolResult
	Sensitive bool
	Duration  time.Duration
}

// LoopResult is the outcome of a completion including every tool round.
type LoopResult struct {
	Response        *llm.Response
	Calls           []CallRecord
	SensitiveCalled bool
}

// Loop alternates completions and tool calls until the model answers without
// requesting tools.
type Loop struct {
	completer llm.Completer
	logger    zerolog.Logger
	onCall    func(ctx context.Context, rec CallRecord)
}

// NewLoop creates a loop issuing completions through completer.
func NewLoop(completer llm.Completer, logger zerolog.Logger) *Loop {
	return &Loop{completer: completer, logger: logger}
}

// OnCall registers a callback invoked after every tool call.
func (l *Loop) OnCall(fn func(ctx context.Context, rec CallRecord)) *Loop {
	l.onCall = fn
	return l
}

// Run completes req, executing requested tools from tools and feeding their
// results back. Completion errors are returned as is. When budget runs out the
// calls made so far are returned together with ErrCallLimitExceeded.
func (l *Loop) Run(ctx context.Context, req llm.Request, tools *Toolset, budget *Budget) (*LoopResult, error) {
	if budget == nil {
		budget = NewBudget(DefaultCallLimit)
	}
	req.Tools = tools.Specs()
	result := &LoopResult{}

	resp, err := l.complete(ctx, req)
	if err != nil {
		return result, err
	}

	for resp.WantsTools() {
		exchange := llm.ToolExchange{Content: resp.Content, Calls: resp.ToolCalls}

		for _, call := range resp.ToolCalls {
			if !budget.Take() {
				l.logger.Warn().
					Int("limit", budget.Limit()).
					Str("tool", call.Name).
					Msg("Tool call limit exceeded")
				return result, fmt.Errorf("%w: limit %d", ErrCallLimitExceeded, budget.Limit())
			}

			rec := l.call(ctx, tools, call)
			result.Calls = append(result.Calls, rec)
			result.SensitiveCalled = result.SensitiveCalled || rec.Sensitive
			exchange.Results = append(exchange.Results, rec.Result)

			if l.onCall != nil {
				l.onCall(ctx, rec)
			}
		}

		req.Exchanges = append(req.Exchanges, exchange)
		resp, err = l.complete(ctx, req)
		if err != nil {
			return result, err
		}
	}

	result.Response = resp
	return result, nil
}

func (l *Loop) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.complete",
		attribute.String("llm.model", req.Settings.Model),
		attribute.Int("llm.tool_rounds", len(req.Exchanges)),
	)
	resp, err := l.completer.Complete(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("completion returned no response")
	}
	tracing.EndSpan(span, err)
	return resp, err
}

func (l *Loop) call(ctx context.Context, tools *Toolset, call llm.ToolCall) CallRecord {
	ctx, span := tracing.StartSpan(ctx, "tool.call", attribute.String("tool.name", call.Name))
	defer span.End()

	start := time.Now()
	res, sensitive := tools.Execute(ctx, call)
	span.SetAttributes(attribute.Bool("tool.error", res.IsError))

	return CallRecord{
		Call:      call,
		Result:    res,
		Sensitive: sensitive,
		Duration:  time.Since(start),
	}
}
