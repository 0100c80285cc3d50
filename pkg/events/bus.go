package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type names a lifecycle event.
type Type string

const (
	AgentStarted      Type = "agent:started"
	AgentFinished     Type = "agent:finished"
	ToolCalled        Type = "tool:called"
	RetryRequested    Type = "retry:requested"
	HandoverPerformed Type = "handover:performed"
	RateLimited       Type = "rate:limited"
	FlowOptionMatched Type = "flow:option_matched"
)

// Event is emitted for observability; no engine behavior depends on it.
type Event struct {
	Type           Type
	Time           time.Time
	Agent          string
	ConversationID string
	TurnID         string
	Data           map[string]any
}

// Handler receives events.
type Handler func(ctx context.Context, e Event) error

// Hook runs a shell script when an event fires. Event data is exposed as
// AGENTFLOW_EVENT_<KEY> environment variables.
type Hook struct {
	ID      string
	Event   Type
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Bus.
type Config struct {
	Hooks  []Hook
	Logger zerolog.Logger
}

// Bus fans events out to in-process handlers and shell hooks.
type Bus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
	hooks    map[Type][]Hook
}

// NewBus creates a bus.
func NewBus(cfg Config) (*Bus, error) {
	b := &Bus{
		logger:   cfg.Logger.With().Str("component", "events").Logger(),
		handlers: make(map[Type][]Handler),
		hooks:    make(map[Type][]Hook),
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		event := Type(strings.TrimSpace(string(hook.Event)))
		if event == "" {
			return nil, fmt.Errorf("hook event is required")
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		b.hooks[event] = append(b.hooks[event], hook)
	}

	return b, nil
}

// On registers a handler for t.
func (b *Bus) On(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Emit delivers e to every handler and hook for its type. Failures are
// logged and returned joined. A nil bus drops events.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	if b == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	hooks := append([]Hook(nil), b.hooks[e.Type]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	for _, hook := range hooks {
		if err := b.runHook(ctx, e, hook); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		b.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("Event delivery failed")
	}
	return err
}

func (b *Bus) runHook(ctx context.Context, e Event, hook Hook) error {
	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = string(e.Type)
	}

	runCtx := ctx
	cancel := func() {}
	if hook.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, hook.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = hookEnvironment(e)

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	if outputText != "" {
		b.logger.Debug().
			Str("event", string(e.Type)).
			Str("hook_id", hookID).
			Str("output", outputText).
			Msg("Hook executed")
	}
	return nil
}

func hookEnvironment(e Event) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		"AGENTFLOW_EVENT="+string(e.Type),
		"AGENTFLOW_EVENT_AGENT="+e.Agent,
		"AGENTFLOW_EVENT_CONVERSATION_ID="+e.ConversationID,
		"AGENTFLOW_EVENT_TURN_ID="+e.TurnID,
	)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, "AGENTFLOW_EVENT_"+envKey(key)+"="+fmt.Sprintf("%v", e.Data[key]))
	}
	return env
}

func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
