package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingThreadID rejects a turn without a thread id.
	ErrMissingThreadID = errors.New("agent: thread id is required")

	// ErrTurnInProgress rejects new input for a thread whose previous
	// turn has not reached Done. Resume it instead.
	ErrTurnInProgress = errors.New("agent: thread has a turn in progress")

	// ErrIterationLimit stops a turn that keeps calling tools. The
	// state is saved; Resume continues it.
	ErrIterationLimit = errors.New("agent: iteration limit reached")

	// ErrNoPendingDecision rejects an out-of-band decision for a
	// thread that is not waiting at the approval gate.
	ErrNoPendingDecision = errors.New("agent: thread is not awaiting approval")
)

// InferenceError reports a failed model call. Nothing from the failed
// call is committed to the thread.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference with model %s failed: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// StageTimeout reports a stage, or a single tool call within the
// execution stage, that exceeded its deadline.
type StageTimeout struct {
	Stage   Stage
	Tool    string // set for tool call timeouts
	Timeout time.Duration
}

func (e *StageTimeout) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Timeout)
	}
	return fmt.Sprintf("%s stage timed out after %s", e.Stage, e.Timeout)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *StageTimeout) Unwrap() error {
	return context.DeadlineExceeded
}
