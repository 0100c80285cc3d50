package retry

import (
	"errors"
	"maps"
)

// DefaultMax is the retry cap applied when a caller asks for a non-positive max.
const DefaultMax = 100

// ErrRetryExhausted is returned once a turn asked for more retries than allowed.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// Signal describes why a turn is being restarted. Attempt counts restarts
// performed so far in the current execution.
type Signal struct {
	Reason  string
	Attempt int
	Details map[string]string
}

// Detail returns a detail value carried across attempts.
func (s *Signal) Detail(key string) string {
	if s == nil {
		return ""
	}
	return s.Details[key]
}

// Verdict is the controller's answer to a retry request.
type Verdict struct {
	// Retry is true when the turn should restart carrying Signal.
	Retry  bool
	Signal Signal
}

// Controller tracks retry requests for a single bounded execution. It is not
// shared across executions and is not safe for concurrent use.
type Controller struct {
	current *Signal
}

// NewController returns a controller with no retries recorded.
func NewController() *Controller {
	return &Controller{}
}

// Current returns the signal of the attempt in progress, or nil on the first attempt.
func (c *Controller) Current() *Signal {
	if c.current == nil {
		return nil
	}
	s := *c.current
	s.Details = maps.Clone(c.current.Details)
	return &s
}

// Attempts reports how many restarts have been granted.
func (c *Controller) Attempts() int {
	if c.current == nil {
		return 0
	}
	return c.current.Attempt
}

// Request asks for a restart. It is granted while fewer than max restarts
// happened; details are merged onto the previous attempt's details with the
// new values winning. Request does not change state; call Advance with the
// granted signal once the restart actually happens.
func (c *Controller) Request(max int, reason string, details map[string]string) Verdict {
	if max <= 0 {
		max = DefaultMax
	}
	attempts := c.Attempts()
	if attempts >= max {
		return Verdict{Retry: false, Signal: Signal{Reason: reason, Attempt: attempts, Details: c.merged(details)}}
	}
	return Verdict{
		Retry: true,
		Signal: Signal{
			Reason:  reason,
			Attempt: attempts + 1,
			Details: c.merged(details),
		},
	}
}

// Advance records a granted signal as the current attempt.
func (c *Controller) Advance(s Signal) {
	s.Details = maps.Clone(s.Details)
	c.current = &s
}

func (c *Controller) merged(details map[string]string) map[string]string {
	out := make(map[string]string)
	if c.current != nil {
		maps.Copy(out, c.current.Details)
	}
	maps.Copy(out, details)
	return out
}
