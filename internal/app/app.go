package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/agentflow/internal/config"
	"github.com/harun/agentflow/internal/logger"
	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/coretools"
	"github.com/harun/agentflow/pkg/events"
	"github.com/harun/agentflow/pkg/filter"
	"github.com/harun/agentflow/pkg/flow"
	"github.com/harun/agentflow/pkg/handover"
	"github.com/harun/agentflow/pkg/llm"
	"github.com/harun/agentflow/pkg/memory"
	"github.com/harun/agentflow/pkg/ratelimit"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/harun/agentflow/pkg/usecase"
)

// Options replace parts of the wiring built from the config.
type Options struct {
	// Completer replaces the provider router.
	Completer llm.Completer
	// Logger replaces the logger built from the logging config.
	Logger *zerolog.Logger
	// Tools are registered next to the core tools.
	Tools []toolexecutor.ToolDefinition
}

// TurnRequest is one user message for a conversation.
type TurnRequest struct {
	// RequestID makes resent requests idempotent when set.
	RequestID string
	// ConversationID is generated when empty.
	ConversationID string
	UserID         string
	Text           string
	Conditions     []string
	Values         map[string]any
}

// Reply is the outcome of a turn.
type Reply struct {
	ConversationID string
	TurnID         string
	// Messages are the assistant messages the turn added.
	Messages  []string
	Sensitive bool
	// PendingAgent names an agent the conversation was handed to but that
	// is not registered.
	PendingAgent string
}

// Text joins the reply messages.
func (r Reply) Text() string {
	return strings.Join(r.Messages, "\n\n")
}

// Status summarizes a running app.
type Status struct {
	Agents              []string
	UseCases            int
	ActiveConversations int
	Uptime              time.Duration
}

// App wires the engine from a config.
type App struct {
	cfg    *config.Config
	log    *logger.Logger
	logger zerolog.Logger

	store   memory.Store
	janitor *memory.Janitor
	library *usecase.Library
	watcher *usecase.Watcher
	bus     *events.Bus
	audit   *observability.AuditLogger

	agents      *agent.Registry
	coordinator *handover.Coordinator
	transcripts *Transcripts
	lanes       *lanes
	dedup       *dedupCache

	metrics *http.Server
	tracing bool

	startTime time.Time
	mu        sync.Mutex
	running   bool
}

// New builds every component in dependency order.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	a := &App{cfg: cfg, lanes: newLanes(), dedup: newDedupCache(0)}
	if err := a.initLogger(opts); err != nil {
		return nil, err
	}
	if err := a.init(opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initLogger(opts Options) error {
	if opts.Logger != nil {
		a.logger = *opts.Logger
		return nil
	}
	log, err := logger.New(logger.Config{
		Level:     a.cfg.Logging.Level,
		File:      a.cfg.Logging.File,
		Console:   a.cfg.Logging.Console,
		Pretty:    a.cfg.Logging.Pretty,
		Redaction: a.cfg.Logging.Redaction,
		MaxSize:   a.cfg.Logging.MaxSize,
		MaxAge:    a.cfg.Logging.MaxAge,
		Compress:  a.cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.log = log
	a.logger = log.Zerolog()
	return nil
}

func (a *App) init(opts Options) error {
	cfg := a.cfg
	observability.EnsureRegistered()

	if cfg.Telemetry.Tracing {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			a.tracing = true
		}
	}

	completer, err := a.completer(opts)
	if err != nil {
		return err
	}

	if err := a.initMemory(); err != nil {
		return err
	}
	a.transcripts = NewTranscripts(a.store)

	if err := a.initEvents(); err != nil {
		return err
	}

	limiters := ratelimit.NewRegistry(cfg.Engine.RateLimitTimeout, a.component("ratelimit"))

	tools := toolexecutor.NewRegistry()
	if err := coretools.RegisterCoreTools(tools, coretools.Options{Store: a.store}); err != nil {
		return err
	}
	for _, def := range opts.Tools {
		if err := tools.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}

	filters := filter.NewRegistry()
	if err := filter.RegisterBuiltins(filters, limiters); err != nil {
		return fmt.Errorf("failed to register filters: %w", err)
	}

	engine, err := a.initFlow(completer)
	if err != nil {
		return err
	}

	defs, err := newAgentBuilder(cfg, filters, engine).Build(cfg.Agents)
	if err != nil {
		return err
	}
	a.agents, err = agent.NewRegistry(defs...)
	if err != nil {
		return err
	}

	executor, err := agent.NewExecutor(agent.Config{
		Completer:     completer,
		Tools:         tools,
		Limiters:      limiters,
		Events:        a.bus,
		ToolCallLimit: cfg.Engine.ToolCallLimit,
		RetryMax:      cfg.Engine.RetryLimit,
		Logger:        a.component("agent"),
	})
	if err != nil {
		return err
	}

	a.coordinator, err = handover.NewCoordinator(handover.Config{
		Agents:        a.agents,
		Executor:      executor,
		Entry:         cfg.Engine.EntryAgent,
		Limit:         cfg.Engine.HandoverLimit,
		ToolCallLimit: cfg.Engine.ToolCallLimit,
		Events:        a.bus,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	a.logger.Info().
		Strs("agents", a.agents.Names()).
		Str("entry", cfg.Engine.EntryAgent).
		Str("memory", cfg.Memory.Driver).
		Bool("flow", engine != nil).
		Msg("Engine initialized")
	return nil
}

func (a *App) component(name string) zerolog.Logger {
	return a.logger.With().Str("component", name).Logger()
}

// completer routes models to the configured providers and bounds each call
// by the completion timeout.
func (a *App) completer(opts Options) (llm.Completer, error) {
	c := opts.Completer
	if c == nil {
		if len(a.cfg.Providers) == 0 {
			return nil, errors.New("no providers configured")
		}
		router := llm.NewRouter()
		for _, p := range a.cfg.Providers {
			provider, err := llm.NewProvider(llm.ProviderConfig{
				Name:    p.ID,
				Type:    p.Provider,
				APIKey:  p.APIKey,
				BaseURL: p.BaseURL,
				Models:  p.Models,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", p.ID, err)
			}
			router.Register(provider, p.Models...)
		}
		c = router
	}

	timeout := a.cfg.Engine.CompletionTimeout
	if timeout <= 0 {
		return c, nil
	}
	return llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.Complete(ctx, req)
	}), nil
}

func (a *App) initMemory() error {
	cfg := a.cfg.Memory
	switch cfg.Driver {
	case "sqlite":
		store, err := memory.NewSQLiteStore(memory.SQLiteConfig{Path: cfg.Path, Logger: a.component("memory")})
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		a.store = store
	case "", "memory":
		a.store = memory.NewInMemoryStore()
	default:
		return fmt.Errorf("unknown memory driver %s", cfg.Driver)
	}

	purger, ok := a.store.(memory.Purger)
	if !ok || cfg.ShortTermTTL <= 0 || cfg.JanitorSchedule == "" {
		return nil
	}
	janitor, err := memory.NewJanitor(purger, cfg.JanitorSchedule, cfg.ShortTermTTL, a.component("janitor"))
	if err != nil {
		return err
	}
	a.janitor = janitor
	return nil
}

func (a *App) initEvents() error {
	hooks := make([]events.Hook, 0, len(a.cfg.Hooks))
	for _, h := range a.cfg.Hooks {
		hooks = append(hooks, events.Hook{
			ID:      h.ID,
			Event:   events.Type(h.Event),
			Script:  h.Script,
			Timeout: h.Timeout,
			Enabled: h.Enabled,
		})
	}

	bus, err := events.NewBus(events.Config{Hooks: hooks, Logger: a.logger})
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	a.bus = bus

	if !a.cfg.Logging.Audit {
		return nil
	}
	var wrap func(io.Writer) io.Writer
	if a.cfg.Logging.Redaction {
		redactor := logger.NewRedactor()
		if a.log != nil {
			redactor = a.log.Redactor()
		}
		wrap = redactor.Wrap
	}
	audit, err := observability.OpenAuditLogger(a.cfg.Logging.AuditFile, wrap)
	if err != nil {
		return err
	}
	audit.Subscribe(bus)
	a.audit = audit
	return nil
}

func (a *App) initFlow(completer llm.Completer) (*flow.Engine, error) {
	cfg := a.cfg.Flow
	if !cfg.Enabled {
		return nil, nil
	}

	library, err := usecase.NewLibrary(cfg.UseCaseDir, a.component("usecase"))
	if err != nil {
		return nil, fmt.Errorf("failed to load use cases: %w", err)
	}
	a.library = library

	// Option answers are classified with the entry agent's model unless a
	// dedicated model is configured.
	var classifier flow.Classifier
	model := cfg.ClassifierModel
	if model == "" {
		if entry, ok := a.cfg.Agent(a.cfg.Engine.EntryAgent); ok {
			model = entry.Model
		}
	}
	if model != "" {
		classifier = flow.NewLLMClassifier(completer, llm.Settings{Model: model})
	}
	return flow.NewEngine(flow.Config{
		Store:             a.store,
		Source:            library,
		Classifier:        classifier,
		RepeatInstruction: cfg.RepeatInstruction,
		Events:            a.bus,
		Logger:            a.logger,
	})
}

// Start runs the background services: memory janitor, use case watcher and
// metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("app is already running")
	}

	if a.janitor != nil {
		a.janitor.Start()
	}
	if a.library != nil && a.cfg.Flow.Watch {
		watcher, err := usecase.Watch(a.library, a.component("usecase"))
		if err != nil {
			a.logger.Warn().Err(err).Str("dir", a.library.Dir()).Msg("Use case watcher unavailable")
		} else {
			a.watcher = watcher
		}
	}
	if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Str("addr", srv.Addr).Msg("Metrics server failed")
			}
		}(a.metrics)
		a.logger.Info().Str("addr", addr).Msg("Metrics server started")
	}

	a.startTime = time.Now()
	a.running = true
	return nil
}

// Handle runs one turn. Turns of the same conversation run one at a time and
// a repeated request id returns the earlier reply.
func (a *App) Handle(ctx context.Context, req TurnRequest) (Reply, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Reply{}, fmt.Errorf("%w: message text is required", agent.ErrValidation)
	}
	lane := req.ConversationID
	if lane == "" {
		req.ConversationID = tracing.NewConversationID()
		lane = req.ConversationID
		if req.RequestID != "" {
			// Retries of a request without a conversation share a lane.
			lane = "request:" + req.RequestID
		}
	}

	var reply Reply
	err := a.lanes.Do(ctx, lane, func(ctx context.Context) error {
		if req.RequestID != "" {
			if cached, ok := a.dedup.Get(req.RequestID); ok {
				reply = cached
				return nil
			}
		}
		var err error
		reply, err = a.turn(ctx, req)
		if err != nil {
			return err
		}
		if req.RequestID != "" {
			a.dedup.Set(req.RequestID, reply)
		}
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (a *App) turn(ctx context.Context, req TurnRequest) (Reply, error) {
	ctx = tracing.WithConversationID(ctx, req.ConversationID)

	conv, err := a.transcripts.Load(ctx, req.ConversationID)
	if err != nil {
		return Reply{}, err
	}
	session, err := a.store.NextTurn(ctx, req.ConversationID)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to start turn: %w", err)
	}
	turnID := strconv.Itoa(session.Turns)
	ctx = tracing.WithTurnID(ctx, turnID)

	if req.UserID != "" && conv.User == nil {
		conv.User = &conversation.Participant{ID: req.UserID}
	}
	input := conv.WithTurn(turnID).Append(conversation.User(req.Text))

	result, err := a.coordinator.Execute(ctx, input, agent.ExecContext{
		UserID:     req.UserID,
		Conditions: usecase.NewConditions(req.Conditions...),
		Values:     req.Values,
	})
	if err != nil {
		return Reply{}, err
	}
	if err := a.transcripts.Save(ctx, result); err != nil {
		return Reply{}, err
	}

	reply := Reply{ConversationID: req.ConversationID, TurnID: turnID}
	for _, m := range result.Transcript[len(input.Transcript):] {
		if msg, ok := m.(conversation.AssistantMessage); ok {
			reply.Messages = append(reply.Messages, msg.Content)
			reply.Sensitive = reply.Sensitive || msg.Meta.Sensitive
		}
	}
	if target, ok := result.HandoverTarget(); ok {
		reply.PendingAgent = target
	}
	return reply, nil
}

// Reset forgets a conversation's transcript.
func (a *App) Reset(ctx context.Context, conversationID string) error {
	return a.lanes.Do(ctx, conversationID, func(ctx context.Context) error {
		return a.transcripts.Reset(ctx, conversationID)
	})
}

// UseCases returns the loaded use cases, nil when flow is disabled.
func (a *App) UseCases() usecase.Set {
	if a.library == nil {
		return nil
	}
	return a.library.Set()
}

// Status reports what the app serves.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		Agents:              a.agents.Names(),
		UseCases:            len(a.UseCases()),
		ActiveConversations: a.lanes.Active(),
	}
	if a.running {
		s.Uptime = time.Since(a.startTime)
	}
	return s
}

// Close stops background services and releases the store and log sinks.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.metrics.Shutdown(ctx))
		cancel()
		a.metrics = nil
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
		a.watcher = nil
	}
	if a.janitor != nil && a.running {
		a.janitor.Stop()
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
		a.audit = nil
	}
	if closer, ok := a.store.(io.Closer); ok {
		errs = append(errs, closer.Close())
		a.store = nil
	}
	if a.tracing {
		errs = append(errs, tracing.ShutdownOpenTelemetry(context.Background()))
		a.tracing = false
	}
	a.running = false
	if a.log != nil {
		errs = append(errs, a.log.Close())
		a.log = nil
	}
	return errors.Join(errs...)
}
