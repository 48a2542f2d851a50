// Package approval implements the human approval gate that sits between
// a model's tool proposals and their execution.
package approval

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nugget/hodie/internal/conversation"
	"github.com/nugget/hodie/internal/llm"
)

var (
	// ErrDecisionTimeout means no decision arrived in time. The gate
	// treats it as a rejection.
	ErrDecisionTimeout = errors.New("approval: decision timed out")

	// ErrDecisionPending means the decision will arrive out of band.
	// The turn suspends with the state unchanged.
	ErrDecisionPending = errors.New("approval: decision pending")

	// ErrInputClosed means the decision source ended before answering.
	ErrInputClosed = errors.New("approval: input closed")
)

// Decision is the outcome for one batch of tool calls.
type Decision struct {
	Approved bool
	Reason   string // recorded in the audit trail
}

// Decider obtains a decision for a batch of proposed tool calls. It may
// block until a human answers.
type Decider interface {
	Decide(ctx context.Context, calls []llm.ToolCall) (Decision, error)
}

// DeciderFunc adapts a function to [Decider].
type DeciderFunc func(ctx context.Context, calls []llm.ToolCall) (Decision, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, calls []llm.ToolCall) (Decision, error) {
	return f(ctx, calls)
}

// AutoApprove grants every batch. For trusted environments only.
type AutoApprove struct{}

// Decide implements [Decider].
func (AutoApprove) Decide(context.Context, []llm.ToolCall) (Decision, error) {
	return Decision{Approved: true, Reason: "auto"}, nil
}

// Deferred never decides in-process. Decisions are delivered later
// through the agent's Decide entry point.
type Deferred struct{}

// Decide implements [Decider].
func (Deferred) Decide(context.Context, []llm.ToolCall) (Decision, error) {
	return Decision{}, ErrDecisionPending
}

// Static returns a fixed decision. It carries an out-of-band answer
// into the gate.
type Static Decision

// Decide implements [Decider].
func (s Static) Decide(context.Context, []llm.ToolCall) (Decision, error) {
	return Decision(s), nil
}

// Gate applies a Decider to a conversation state.
type Gate struct {
	decider Decider
	logger  *slog.Logger
}

// NewGate creates a gate around d.
func NewGate(d Decider, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{decider: d, logger: logger.With("component", "approval")}
}

// Run decides the pending calls of the latest assistant message and
// records the outcome on s. Messages are never touched.
//
// With no pending calls the state is marked Granted without consulting
// the decider. A timeout is recorded as a denial. ErrDecisionPending
// and other decider errors are returned with s unchanged, so a later
// Run asks again.
func (g *Gate) Run(ctx context.Context, s *conversation.State) error {
	pending := s.PendingCalls()
	if len(pending) == 0 {
		s.Approved = conversation.Granted
		return nil
	}

	d, err := g.decider.Decide(ctx, pending)
	switch {
	case errors.Is(err, ErrDecisionTimeout):
		g.logger.Warn("approval timed out, rejecting tool calls",
			"thread_id", s.ThreadID,
			"calls", len(pending),
		)
		s.Record(false, "timeout")
		return nil
	case err != nil:
		return err
	}

	s.Record(d.Approved, d.Reason)
	g.logger.Info("tool calls decided",
		"thread_id", s.ThreadID,
		"approved", d.Approved,
		"reason", d.Reason,
		"calls", len(pending),
	)
	return nil
}
