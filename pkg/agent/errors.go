package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed agent, filter or prompt setup.
	ErrValidation = errors.New("agent validation failed")
	// ErrCompletion wraps failures of the completion call.
	ErrCompletion = errors.New("completion failed")
)

// FailedError is the terminal error of a turn. The cause stays matchable
// with errors.Is.
type FailedError struct {
	Agent string
	Err   error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("agent %s failed: %v", e.Agent, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}
