// ABOUTME: Error values for the agent runtime.
// ABOUTME: HandlerError wraps failures raised inside user handlers.

package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped indicates an operation on an agent that has stopped.
	ErrStopped = errors.New("agent stopped")
	// ErrAlreadyRunning indicates Start on a running agent.
	ErrAlreadyRunning = errors.New("agent already running")
	// ErrHandlerPanic marks a HandlerError recovered from a panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError reports a failure inside a handler. It is logged, never
// returned to the producer of the frame.
type HandlerError struct {
	Agent   string
	Handler string
	FrameID string // empty for timer firings
	Err     error
}

func (e *HandlerError) Error() string {
	if e.FrameID == "" {
		return fmt.Sprintf("agent %s: handler %s: %v", e.Agent, e.Handler, e.Err)
	}
	return fmt.Sprintf("agent %s: handler %s on frame %s: %v", e.Agent, e.Handler, e.FrameID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
