package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/events"
	"github.com/harun/agentflow/pkg/memory"
	"github.com/harun/agentflow/pkg/usecase"
)

// DefaultRepeatInstruction is shown when the user's answer matches no option.
const DefaultRepeatInstruction = "The user's answer did not match any of the expected options. " +
	"Politely ask the user to repeat or clarify the answer to your last question."

const (
	memoryOwner = "flow"
	stepKey     = "step:"
	turnKey     = "turn:"
	usedKey     = "used_use_cases"
)

// Source provides the current use cases. *usecase.Library implements it.
type Source interface {
	Set() usecase.Set
}

// StaticSource serves a fixed set.
type StaticSource usecase.Set

func (s StaticSource) Set() usecase.Set { return usecase.Set(s) }

// State is NotStarted or InFlow.
type State interface {
	state()
}

// NotStarted means no step is stored for the use case.
type NotStarted struct{}

// InFlow points at the current step of a use case.
type InFlow struct {
	UseCaseID string
	StepID    string
}

func (NotStarted) state() {}
func (InFlow) state()     {}

// Progress is the persisted flow position of one use case.
type Progress struct {
	UseCaseID string   `json:"use_case_id"`
	Steps     []string `json:"steps"`
}

// Current returns the current step id.
func (p Progress) Current() string {
	if len(p.Steps) == 0 {
		return p.UseCaseID
	}
	return p.Steps[len(p.Steps)-1]
}

// decision is the evaluation of a use case made in one turn. Later attempts
// of the same turn start from Steps and reuse the matched option.
type decision struct {
	TurnID    string   `json:"turn_id"`
	Steps     []string `json:"steps"`
	Evaluated bool     `json:"evaluated"`
	Matched   bool     `json:"matched"`
	Option    Option   `json:"option"`
}

// Config configures an Engine.
type Config struct {
	Store      memory.Store
	Source     Source
	Classifier Classifier
	// RepeatInstruction replaces DefaultRepeatInstruction.
	RepeatInstruction string
	Events            *events.Bus
	Logger            zerolog.Logger
}

// Engine keeps conversations on the branch of a use case chosen by the
// user's previous answers. Steps are stored per (conversation, use case).
type Engine struct {
	store      memory.Store
	source     Source
	classifier Classifier
	repeat     string
	events     *events.Bus
	logger     zerolog.Logger
}

// NewEngine creates an engine. Store and Source are required.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("flow engine requires a memory store")
	}
	if cfg.Source == nil {
		return nil, errors.New("flow engine requires a use case source")
	}
	repeat := cfg.RepeatInstruction
	if repeat == "" {
		repeat = DefaultRepeatInstruction
	}
	return &Engine{
		store:      cfg.Store,
		source:     cfg.Source,
		classifier: cfg.Classifier,
		repeat:     repeat,
		events:     cfg.Events,
		logger:     cfg.Logger.With().Str("component", "flow").Logger(),
	}, nil
}

// Request is one flow evaluation for the use case active in the previous turn.
type Request struct {
	ConversationID string
	// TurnID makes evaluation idempotent across attempts of a turn. Empty
	// evaluates every call.
	TurnID  string
	UseCase usecase.UseCase
	// Input is the latest user message.
	Input  string
	Format usecase.FormatOptions
}

// Result is the prompt section to show for the use case.
type Result struct {
	Content string
	// Response, when set, answers the turn verbatim.
	Response string
	Matched  *Option
	State    State
}

// State returns the stored flow state of useCaseID in a conversation.
func (e *Engine) State(ctx context.Context, conversationID, useCaseID string) (State, error) {
	p, err := e.load(ctx, conversationID, useCaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return NotStarted{}, nil
	}
	return InFlow{UseCaseID: useCaseID, StepID: p.Current()}, nil
}

// Process evaluates the user's answer against the options of the current
// step of req.UseCase. Repeated calls for the same turn replay the first
// evaluation instead of advancing again.
func (e *Engine) Process(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "flow.process",
		attribute.String("use_case", req.UseCase.ID),
		attribute.String("conversation_id", req.ConversationID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	content := usecase.Format(req.UseCase, req.Format)
	if !HasOptions(content) {
		return Result{Content: content, State: NotStarted{}}, nil
	}

	stored, err := e.load(ctx, req.ConversationID, req.UseCase.ID)
	if err != nil {
		return Result{}, err
	}
	progress := Progress{UseCaseID: req.UseCase.ID}
	if stored != nil {
		progress = *stored
	}

	turn, err := e.loadDecision(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if turn != nil {
		progress.Steps = turn.Steps
	} else if req.TurnID != "" {
		turn = &decision{TurnID: req.TurnID, Steps: append([]string(nil), progress.Steps...)}
		if err := e.saveDecision(ctx, req, *turn); err != nil {
			return Result{}, err
		}
	}

	stepID := progress.Current()
	step := req.UseCase
	if stepID != req.UseCase.ID {
		found, ok := e.source.Set().Find(stepID)
		if !ok {
			e.logger.Warn().Str("use_case", req.UseCase.ID).Str("step", stepID).Msg("Flow step no longer exists, restarting flow")
			if err := e.clear(ctx, req.ConversationID, req.UseCase.ID); err != nil {
				return Result{}, err
			}
			return Result{Content: Strip(content), State: NotStarted{}}, nil
		}
		step = found
	}

	current := Extract(usecase.Format(withSolution(req.UseCase, step.Solution), req.Format))
	if len(current.Options) == 0 {
		if err := e.clear(ctx, req.ConversationID, req.UseCase.ID); err != nil {
			return Result{}, err
		}
		return Result{Content: Strip(content), State: NotStarted{}}, nil
	}

	var (
		option  Option
		matched bool
	)
	if turn != nil && turn.Evaluated {
		option, matched = turn.Option, turn.Matched
	} else {
		option, matched = e.match(ctx, req.Input, current.Options)
		observability.RecordFlowMatch(req.UseCase.ID, matched)
		if turn != nil {
			turn.Evaluated, turn.Matched, turn.Option = true, matched, option
			if err := e.saveDecision(ctx, req, *turn); err != nil {
				return Result{}, err
			}
		}
		if matched {
			e.emitMatch(ctx, req, stepID, option)
		}
	}
	if !matched {
		e.logger.Debug().Str("use_case", req.UseCase.ID).Str("step", stepID).Msg("No flow option matched")
		return Result{
			Content: e.section(req.UseCase, req.Format, e.repeat),
			State:   InFlow{UseCaseID: req.UseCase.ID, StepID: stepID},
		}, nil
	}
	if option.Command == ResetCommand {
		if err := e.clear(ctx, req.ConversationID, req.UseCase.ID); err != nil {
			return Result{}, err
		}
		return Result{Content: Strip(content), Matched: &option, State: NotStarted{}}, nil
	}

	ref, hasRef := option.Reference()
	if !hasRef {
		return Result{
			Content: e.section(req.UseCase, req.Format, option.Command),
			Matched: &option,
			State:   InFlow{UseCaseID: req.UseCase.ID, StepID: stepID},
		}, nil
	}

	target, ok := e.source.Set().Find(ref)
	if !ok {
		e.logger.Warn().Str("use_case", req.UseCase.ID).Str("reference", ref).Msg("Flow option references unknown use case")
		return Result{
			Content: e.section(req.UseCase, req.Format, option.Command),
			Matched: &option,
			State:   InFlow{UseCaseID: req.UseCase.ID, StepID: stepID},
		}, nil
	}

	progress.Steps = append(progress.Steps, target.ID)
	if err := memory.SetJSON(ctx, e.store, memoryOwner, stepKey+req.UseCase.ID, req.ConversationID, progress); err != nil {
		return Result{}, fmt.Errorf("failed to store flow step: %w", err)
	}

	res = Result{
		Content: Strip(usecase.Format(withSolution(req.UseCase, target.Solution), req.Format)),
		Matched: &option,
		State:   InFlow{UseCaseID: req.UseCase.ID, StepID: target.ID},
	}
	if text, ok := quoted(usecase.FormatConditionals(target.Solution, req.Format.Conditions, req.Input)); ok {
		res.Response = text
	}
	return res, nil
}

// match tries an exact label, then the classifier, then a catch-all option.
func (e *Engine) match(ctx context.Context, input string, options []Option) (Option, bool) {
	input = strings.TrimSpace(input)
	for _, o := range options {
		if o.Label != "" && strings.EqualFold(o.Label, input) {
			return o, true
		}
	}

	if e.classifier != nil && input != "" {
		if ls := labels(options); len(ls) > 0 {
			answer, err := e.classifier.Classify(ctx, input, ls)
			if err != nil {
				e.logger.Warn().Err(err).Msg("Flow classifier failed, treating answer as unmatched")
			} else if answer != "" && answer != NoMatch {
				if o, ok := labelFor(answer, options); ok {
					return o, true
				}
			}
		}
	}

	for _, o := range options {
		if o.IsCatchAll() {
			return o, true
		}
	}
	return Option{}, false
}

// labelFor maps a classifier answer to an option: an equal label wins over a
// label merely containing the answer.
func labelFor(answer string, options []Option) (Option, bool) {
	for _, o := range options {
		if o.Label != "" && strings.EqualFold(o.Label, answer) {
			return o, true
		}
	}
	lower := strings.ToLower(answer)
	for _, o := range options {
		if o.Label != "" && strings.Contains(strings.ToLower(o.Label), lower) {
			return o, true
		}
	}
	return Option{}, false
}

func (e *Engine) section(u usecase.UseCase, opts usecase.FormatOptions, text string) string {
	return usecase.Format(withSolution(u, []usecase.Conditional{{Text: text}}), opts)
}

func (e *Engine) load(ctx context.Context, conversationID, useCaseID string) (*Progress, error) {
	p, err := memory.GetJSON[Progress](ctx, e.store, memoryOwner, stepKey+useCaseID, conversationID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow step: %w", err)
	}
	return &p, nil
}

// loadDecision returns the decision stored for req's turn, nil when there is
// none or it belongs to an earlier turn.
func (e *Engine) loadDecision(ctx context.Context, req Request) (*decision, error) {
	if req.TurnID == "" {
		return nil, nil
	}
	d, err := memory.GetJSON[decision](ctx, e.store, memoryOwner, turnKey+req.UseCase.ID, req.ConversationID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow decision: %w", err)
	}
	if d.TurnID != req.TurnID {
		return nil, nil
	}
	return &d, nil
}

func (e *Engine) saveDecision(ctx context.Context, req Request, d decision) error {
	if err := memory.SetJSON(ctx, e.store, memoryOwner, turnKey+req.UseCase.ID, req.ConversationID, d); err != nil {
		return fmt.Errorf("failed to store flow decision: %w", err)
	}
	return nil
}

func (e *Engine) clear(ctx context.Context, conversationID, useCaseID string) error {
	if err := e.store.Delete(ctx, memoryOwner, stepKey+useCaseID, conversationID); err != nil {
		return fmt.Errorf("failed to clear flow step: %w", err)
	}
	return nil
}

func (e *Engine) emitMatch(ctx context.Context, req Request, stepID string, o Option) {
	_ = e.events.Emit(ctx, events.Event{
		Type:           events.FlowOptionMatched,
		ConversationID: req.ConversationID,
		Data: map[string]any{
			"use_case": req.UseCase.ID,
			"step":     stepID,
			"label":    o.Label,
			"command":  o.Command,
		},
	})
}

func withSolution(u usecase.UseCase, lines []usecase.Conditional) usecase.UseCase {
	u.Solution = lines
	u.Alternative = nil
	u.Fallback = nil
	return u
}

func quoted(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1], true
	}
	return "", false
}
