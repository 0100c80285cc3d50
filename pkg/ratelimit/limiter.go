package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentflow/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds how long Acquire waits for a permit.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when no permit became available before the timeout.
var ErrTimeout = errors.New("rate limit timeout")

// Rate allows Limit permits per Per. A zero Limit means one permit.
type Rate struct {
	Limit int
	Per   time.Duration
}

// Every returns a rate of one permit per interval.
func Every(interval time.Duration) Rate {
	return Rate{Limit: 1, Per: interval}
}

func (r Rate) normalized() Rate {
	if r.Limit <= 0 {
		r.Limit = 1
	}
	return r
}

func (r Rate) String() string {
	r = r.normalized()
	return fmt.Sprintf("%d/%s", r.Limit, r.Per)
}

// Options tune a single Acquire call.
type Options struct {
	// Timeout overrides the registry default. Zero or negative values fall
	// over to the fallback as soon as no permit is free.
	Timeout *time.Duration
	// Fallback runs when the timeout elapses.
	Fallback func(ctx context.Context)
}

// Registry hands out named limiters. Limiters with different names never
// share state. Asking for a known name with a new rate retunes its limiter.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*entry
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewRegistry creates a registry using timeout as default wait bound.
func NewRegistry(timeout time.Duration, logger zerolog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		limiters: make(map[string]*entry),
		timeout:  timeout,
		logger:   logger,
	}
}

type entry struct {
	lim  *rate.Limiter
	rate Rate
}

func (r *Registry) limiter(name string, rt Rate) *rate.Limiter {
	rt = rt.normalized()
	every := rate.Inf
	if rt.Per > 0 {
		every = rate.Every(rt.Per / time.Duration(rt.Limit))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.limiters[name]; ok {
		if e.rate != rt {
			r.logger.Debug().Str("limiter", name).Str("from", e.rate.String()).Str("to", rt.String()).Msg("Rate limit changed")
			e.lim.SetLimit(every)
			e.lim.SetBurst(rt.Limit)
			e.rate = rt
		}
		return e.lim
	}
	lim := rate.NewLimiter(every, rt.Limit)
	r.limiters[name] = &entry{lim: lim, rate: rt}
	return lim
}

// Acquire takes a permit from the limiter called name. A free permit is taken
// immediately; otherwise the caller waits up to the timeout. On timeout the
// fallback runs and ErrTimeout is returned. Cancelling ctx abandons the wait
// and returns the context error without running the fallback.
func (r *Registry) Acquire(ctx context.Context, name string, rt Rate, opts Options) error {
	lim := r.limiter(name, rt)
	start := time.Now()

	if lim.Allow() {
		observability.RecordRateLimit(name, 0, true)
		return nil
	}

	timeout := r.timeout
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}
	if timeout < 0 {
		timeout = 0
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := lim.Wait(waitCtx)
	waited := time.Since(start)
	if err == nil {
		observability.RecordRateLimit(name, waited, true)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	observability.RecordRateLimit(name, waited, false)
	r.logger.Warn().
		Str("limiter", name).
		Str("rate", rt.String()).
		Dur("timeout", timeout).
		Msg("Rate limit timeout")

	if opts.Fallback != nil {
		opts.Fallback(ctx)
	}
	return fmt.Errorf("%w: %s", ErrTimeout, name)
}

// Do runs fn once a permit for name was acquired.
func (r *Registry) Do(ctx context.Context, name string, rt Rate, opts Options, fn func(ctx context.Context) error) error {
	if err := r.Acquire(ctx, name, rt, opts); err != nil {
		return err
	}
	return fn(ctx)
}

// AgentLimiterName is the limiter name used for an agent, optionally scoped to a model.
func AgentLimiterName(agent, model string) string {
	if model == "" {
		return "agent/" + agent
	}
	return "agent/" + agent + "/" + model
}
