package handover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/events"
	"github.com/harun/agentflow/pkg/toolexecutor"
)

// DefaultLimit is the hop budget of one top-level execution.
const DefaultLimit = 20

// ErrHandoverLimitExceeded is returned when a handover is pending but the hop
// budget is spent.
var ErrHandoverLimitExceeded = errors.New("handover limit exceeded")

// Executor runs one turn of an agent.
type Executor interface {
	Execute(ctx context.Context, def *agent.Definition, conv conversation.Conversation, ec agent.ExecContext) (conversation.Conversation, error)
}

// Config holds coordinator dependencies.
type Config struct {
	Agents   *agent.Registry
	Executor Executor
	// Entry is the agent that answers conversations without a pending handover.
	Entry string
	Limit int
	// ToolCallLimit bounds tool calls across every hop of an execution.
	ToolCallLimit int
	Events        *events.Bus
	Logger        zerolog.Logger
}

// Hop records one delegation.
type Hop struct {
	ID     string
	From   string
	To     string
	Reason string
	At     time.Time
}

// Run is the result of a bounded execution.
type Run struct {
	Conversation conversation.Conversation
	// Agent answered last.
	Agent string
	Hops  []Hop
}

// Coordinator runs agents and follows handovers between them.
type Coordinator struct {
	agents   *agent.Registry
	executor Executor
	entry    string
	limit    int
	calls    int
	events   *events.Bus
	logger   zerolog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Coordinator{
		agents:   cfg.Agents,
		executor: cfg.Executor,
		entry:    cfg.Entry,
		limit:    limit,
		calls:    cfg.ToolCallLimit,
		events:   cfg.Events,
		logger:   cfg.Logger.With().Str("component", "handover").Logger(),
	}, nil
}

// Execute answers the latest message of conv. A conversation already
// classified as a handover starts at the named agent, otherwise at the entry
// agent. A pending handover to an agent that is still unknown falls back to
// the entry agent.
func (c *Coordinator) Execute(ctx context.Context, conv conversation.Conversation, ec agent.ExecContext) (conversation.Conversation, error) {
	start := c.entry
	if target, ok := conv.HandoverTarget(); ok {
		if _, known := c.agents.Get(target); known {
			start = target
		} else {
			c.logger.Warn().Str("agent", target).Msg("Pending handover names an unknown agent, starting at entry agent")
		}
		conv = conv.WithClassification(nil)
	}
	run, err := c.Run(ctx, start, conv, ec)
	if err != nil {
		return conv, err
	}
	return run.Conversation, nil
}

// Run executes name on conv and follows every handover the turn requests.
// The hop budget is taken from ctx when an outer execution already holds one.
func (c *Coordinator) Run(ctx context.Context, name string, conv conversation.Conversation, ec agent.ExecContext) (run *Run, err error) {
	ctx, span := tracing.StartSpan(ctx, "handover.run",
		attribute.String("agent", name),
		attribute.String("conversation_id", conv.ID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	budget, ok := budgetFromContext(ctx)
	if !ok {
		budget = newBudget(c.limit)
		ctx = withBudget(ctx, budget)
	}
	if ec.Budget == nil {
		ec.Budget = toolexecutor.NewBudget(c.calls)
	}

	def, ok := c.agents.Get(name)
	if !ok {
		return nil, &agent.FailedError{Agent: name, Err: fmt.Errorf("%w: unknown agent %s", agent.ErrValidation, name)}
	}

	run = &Run{Conversation: conv, Agent: name}
	for {
		next, err := c.executor.Execute(ctx, def, run.Conversation, ec)
		if err != nil {
			return nil, err
		}
		run.Conversation = next

		target, pending := next.HandoverTarget()
		if !pending {
			return run, nil
		}

		to, ok := c.agents.Get(target)
		if !ok {
			// The caller sees the classification and decides.
			c.logger.Warn().
				Str("from", def.Name).
				Str("to", target).
				Msg("Handover to unknown agent, returning classified conversation")
			return run, nil
		}

		if !budget.take() {
			c.logger.Error().
				Str("from", def.Name).
				Str("to", target).
				Int("limit", budget.limit).
				Msg("Handover limit exceeded")
			return nil, &agent.FailedError{
				Agent: def.Name,
				Err:   fmt.Errorf("%w: limit %d", ErrHandoverLimitExceeded, budget.limit),
			}
		}

		hop, err := c.hop(def.Name, next)
		if err != nil {
			return nil, &agent.FailedError{Agent: def.Name, Err: err}
		}
		run.Hops = append(run.Hops, hop)
		c.record(ctx, hop, next, budget.remaining())

		run.Conversation = next.WithClassification(nil)
		run.Agent = to.Name
		def = to
	}
}

func (c *Coordinator) hop(from string, conv conversation.Conversation) (Hop, error) {
	id, err := gonanoid.New()
	if err != nil {
		return Hop{}, fmt.Errorf("failed to generate hop ID: %w", err)
	}
	h, _ := conv.Classification.(conversation.Handover)
	return Hop{
		ID:     id,
		From:   from,
		To:     h.Agent,
		Reason: h.Reason,
		At:     time.Now(),
	}, nil
}

func (c *Coordinator) record(ctx context.Context, hop Hop, conv conversation.Conversation, remaining int) {
	observability.RecordHandover(hop.From, hop.To)

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Info().
		Str("hop_id", hop.ID).
		Str("from", hop.From).
		Str("to", hop.To).
		Str("reason", hop.Reason).
		Int("remaining", remaining).
		Msg("Handover performed")

	_ = c.events.Emit(ctx, events.Event{
		Type:           events.HandoverPerformed,
		Agent:          hop.From,
		ConversationID: conv.ID,
		TurnID:         conv.CurrentTurnID,
		Data: map[string]any{
			"hop_id": hop.ID,
			"from":   hop.From,
			"to":     hop.To,
			"reason": hop.Reason,
		},
	})
}

// budget is the hop budget shared by one top-level execution.
type budget struct {
	mu    sync.Mutex
	limit int
	left  int
}

func newBudget(limit int) *budget {
	return &budget{limit: limit, left: limit}
}

func (b *budget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}

func (b *budget) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.left
}

type budgetKey struct{}

func withBudget(ctx context.Context, b *budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

func budgetFromContext(ctx context.Context) (*budget, bool) {
	b, ok := ctx.Value(budgetKey{}).(*budget)
	return b, ok && b != nil
}

// Remaining reports the hop budget left in ctx, or false outside an execution.
func Remaining(ctx context.Context) (int, bool) {
	b, ok := budgetFromContext(ctx)
	if !ok {
		return 0, false
	}
	return b.remaining(), true
}
