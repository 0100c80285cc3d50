package filter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/ratelimit"
)

// RateLimit holds the turn until the named limiter grants a permit. When the
// wait times out the turn is answered with a busy message.
type RateLimit struct {
	limiters *ratelimit.Registry
	name     string
	rate     ratelimit.Rate
	timeout  *time.Duration
	message  string
}

// NewRateLimit creates a rate limit input filter. A nil timeout uses the
// registry default.
func NewRateLimit(limiters *ratelimit.Registry, name string, rt ratelimit.Rate, timeout *time.Duration, message string) *RateLimit {
	if message == "" {
		message = "We are receiving a lot of requests right now. Please try again in a moment."
	}
	return &RateLimit{limiters: limiters, name: name, rate: rt, timeout: timeout, message: message}
}

func (r *RateLimit) Name() string { return "rate_limit" }

func (r *RateLimit) FilterInput(ctx context.Context, fc *Context, msg conversation.Message) (Decision, error) {
	name := r.name
	if name == "" {
		name = ratelimit.AgentLimiterName(fc.Agent, "")
	}
	err := r.limiters.Acquire(ctx, name, r.rate, ratelimit.Options{Timeout: r.timeout})
	switch {
	case err == nil:
		return Pass(msg), nil
	case errors.Is(err, ratelimit.ErrTimeout):
		return Respond{Content: r.message, Reason: "rate limited"}, nil
	default:
		return nil, err
	}
}

// Route hands the conversation to another agent when the user message
// matches one of its patterns. Routes are checked in order.
type Route struct {
	routes []route
}

type route struct {
	pattern *regexp.Regexp
	agent   string
}

// NewRoute builds a router from pattern/agent pairs.
func NewRoute(pairs [][2]string) (*Route, error) {
	r := &Route{}
	for _, p := range pairs {
		re, err := regexp.Compile("(?i)" + p[0])
		if err != nil {
			return nil, fmt.Errorf("invalid route pattern %s: %w", p[0], err)
		}
		r.routes = append(r.routes, route{pattern: re, agent: p[1]})
	}
	return r, nil
}

func (r *Route) Name() string { return "route" }

func (r *Route) FilterInput(_ context.Context, fc *Context, msg conversation.Message) (Decision, error) {
	for _, rt := range r.routes {
		if rt.agent != fc.Agent && rt.pattern.MatchString(msg.Text()) {
			return BreakToAgent(rt.agent, "matched "+rt.pattern.String()), nil
		}
	}
	return Pass(msg), nil
}

// NextAgent commits the answer and then hands the conversation to agent.
// With a pattern, only answers matching it trigger the handover.
type NextAgent struct {
	agent   string
	pattern *regexp.Regexp
}

// NewNextAgent creates a NextAgent output filter.
func NewNextAgent(agent, pattern string) (*NextAgent, error) {
	if agent == "" {
		return nil, fmt.Errorf("next agent filter requires an agent")
	}
	n := &NextAgent{agent: agent}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid next agent pattern %s: %w", pattern, err)
		}
		n.pattern = re
	}
	return n, nil
}

func (n *NextAgent) Name() string { return "next_agent" }

func (n *NextAgent) FilterOutput(_ context.Context, _ *Context, msg conversation.AssistantMessage) (Decision, error) {
	if n.pattern != nil && !n.pattern.MatchString(msg.Content) {
		return Pass(msg), nil
	}
	return Handover{Agent: n.agent, Reason: "next agent", KeepOutput: true}, nil
}

// Compliance requests a bounded retry when an answer matches a forbidden
// pattern. Answers built on sensitive tool output are not checked since the
// tool text dominates them.
type Compliance struct {
	patterns []*regexp.Regexp
	max      int
	hint     string
}

// NewCompliance creates a Compliance output filter.
func NewCompliance(patterns []string, max int, hint string) (*Compliance, error) {
	c := &Compliance{max: max, hint: hint}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid compliance pattern %s: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	if c.hint == "" {
		c.hint = "Your previous answer broke the response guidelines. Answer again without it."
	}
	return c, nil
}

func (c *Compliance) Name() string { return "compliance" }

func (c *Compliance) FilterOutput(_ context.Context, fc *Context, msg conversation.AssistantMessage) (Decision, error) {
	if fc.SensitiveCalled {
		return Pass(msg), nil
	}
	for _, re := range c.patterns {
		if found := re.FindString(msg.Content); found != "" {
			return Retry{
				Reason: "compliance",
				Max:    c.max,
				Details: map[string]string{
					"compliance_hint":      c.hint,
					"compliance_violation": found,
				},
			}, nil
		}
	}
	return Pass(msg), nil
}

// RegisterBuiltins adds the built-in filters to r.
func RegisterBuiltins(r *Registry, limiters *ratelimit.Registry) error {
	var errs []error

	errs = append(errs, r.RegisterInput("moderation", func(p Params) (InputFilter, error) {
		return NewModeration(p.Strings("keywords"), p.Strings("patterns"), p.String("response", ""))
	}))
	errs = append(errs, r.RegisterOutput("moderation", func(p Params) (OutputFilter, error) {
		return NewModeration(p.Strings("keywords"), p.Strings("patterns"), p.String("response", ""))
	}))
	errs = append(errs, r.RegisterInput("rate_limit", func(p Params) (InputFilter, error) {
		if limiters == nil {
			return nil, fmt.Errorf("rate_limit filter requires a limiter registry")
		}
		interval, err := time.ParseDuration(p.String("interval", "1s"))
		if err != nil {
			return nil, fmt.Errorf("invalid rate_limit interval: %w", err)
		}
		var timeout *time.Duration
		if raw := p.String("timeout", ""); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid rate_limit timeout: %w", err)
			}
			timeout = &d
		}
		rt := ratelimit.Rate{Limit: p.Int("limit", 1), Per: interval}
		return NewRateLimit(limiters, p.String("name", ""), rt, timeout, p.String("message", "")), nil
	}))
	errs = append(errs, r.RegisterInput("route", func(p Params) (InputFilter, error) {
		var pairs [][2]string
		for _, raw := range p.Strings("routes") {
			pattern, agent, ok := cutLast(raw, "=>")
			if !ok {
				return nil, fmt.Errorf("route %q must look like 'pattern => agent'", raw)
			}
			pairs = append(pairs, [2]string{pattern, agent})
		}
		return NewRoute(pairs)
	}))
	errs = append(errs, r.RegisterOutput("next_agent", func(p Params) (OutputFilter, error) {
		return NewNextAgent(p.String("agent", ""), p.String("pattern", ""))
	}))
	errs = append(errs, r.RegisterOutput("compliance", func(p Params) (OutputFilter, error) {
		return NewCompliance(p.Strings("patterns"), p.Int("max", 2), p.String("hint", ""))
	}))

	return errors.Join(errs...)
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	before = strings.TrimSpace(s[:i])
	after = strings.TrimSpace(s[i+len(sep):])
	return before, after, before != "" && after != ""
}
