// Package agent drives conversation turns through a small state
// machine: inference, approval, tool execution, and back to inference
// until the model answers without tools. The thread is checkpointed
// after every stage, so an interrupted turn resumes at the last
// completed stage.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/hodie/internal/approval"
	"github.com/nugget/hodie/internal/checkpoint"
	"github.com/nugget/hodie/internal/conversation"
	"github.com/nugget/hodie/internal/llm"
	"github.com/nugget/hodie/internal/metrics"
	"github.com/nugget/hodie/internal/tools"
)

// Config wires an Engine. Client, Registry, Gate and Store are
// required.
type Config struct {
	Client        llm.Client
	Model         string
	Counter       llm.TokenCounter // default llm.EstimateCounter
	ContextBudget int              // tokens; <= 0 disables trimming
	SystemPrompt  string           // seeds new threads

	Registry *tools.Registry
	Gate     *approval.Gate
	Store    checkpoint.Store
	Metrics  *metrics.Metrics // optional
	Logger   *slog.Logger

	MaxIterations    int // inference calls per turn; <= 0 is unlimited
	InferenceTimeout time.Duration
	ToolTimeout      time.Duration
	ParallelTools    int // concurrent calls per batch; <= 1 is sequential
}

// Engine runs turns for any number of threads. Distinct threads may
// run concurrently; a thread runs at most one turn at a time.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	busy map[string]bool
}

// TurnResult summarizes a turn.
type TurnResult struct {
	ThreadID string
	// Reply is the content of the latest assistant message.
	Reply string
	// Pending lists the calls awaiting an out-of-band decision when
	// the turn was suspended at the approval gate.
	Pending    []llm.ToolCall
	Suspended  bool
	Iterations int // inference calls made by this invocation
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Client == nil:
		return nil, errors.New("agent: model client is required")
	case cfg.Registry == nil:
		return nil, errors.New("agent: tool registry is required")
	case cfg.Gate == nil:
		return nil, errors.New("agent: approval gate is required")
	case cfg.Store == nil:
		return nil, errors.New("agent: checkpoint store is required")
	}
	if cfg.Counter == nil {
		cfg.Counter = llm.EstimateCounter{}
	}
	if cfg.ParallelTools < 1 {
		cfg.ParallelTools = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "agent"),
		busy:   make(map[string]bool),
	}, nil
}

// Run appends input as a new user message on threadID and drives the
// turn to completion or suspension. A missing thread is created. A
// thread whose previous turn has not finished returns
// ErrTurnInProgress; call Resume first.
func (e *Engine) Run(ctx context.Context, threadID, input string) (*TurnResult, error) {
	if threadID == "" {
		return nil, ErrMissingThreadID
	}
	if err := e.acquire(threadID); err != nil {
		return nil, err
	}
	defer e.release(threadID)

	s, err := e.cfg.Store.Load(ctx, threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		s = conversation.New(threadID, e.cfg.SystemPrompt)
		e.logger.Info("new thread", "thread_id", threadID)
	case err != nil:
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	if stage := Next(s); stage != StageDone {
		e.logger.Warn("input refused, turn in progress", "thread_id", threadID, "stage", stage.String())
		return nil, ErrTurnInProgress
	}

	s.Append(llm.Human(input))
	if err := e.save(ctx, s, "input"); err != nil {
		return nil, err
	}
	return e.drive(ctx, s)
}

// Resume continues threadID from its latest checkpoint. A thread that
// is already Done returns its last reply without calling the model.
func (e *Engine) Resume(ctx context.Context, threadID string) (*TurnResult, error) {
	if threadID == "" {
		return nil, ErrMissingThreadID
	}
	if err := e.acquire(threadID); err != nil {
		return nil, err
	}
	defer e.release(threadID)

	s, err := e.cfg.Store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	e.logger.Info("resuming thread", "thread_id", threadID, "stage", Next(s).String())
	return e.drive(ctx, s)
}

// Decide delivers an out-of-band decision for a thread waiting at the
// approval gate, then continues the turn.
func (e *Engine) Decide(ctx context.Context, threadID string, approved bool) (*TurnResult, error) {
	if threadID == "" {
		return nil, ErrMissingThreadID
	}
	if err := e.acquire(threadID); err != nil {
		return nil, err
	}
	defer e.release(threadID)

	s, err := e.cfg.Store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if Next(s) != StageApprove {
		return nil, ErrNoPendingDecision
	}

	gate := approval.NewGate(approval.Static{Approved: approved, Reason: "user"}, e.cfg.Logger)
	if err := e.approve(ctx, gate, s); err != nil {
		return nil, err
	}
	if err := e.save(ctx, s, StageApprove.String()); err != nil {
		return nil, err
	}
	return e.drive(ctx, s)
}

// Pending returns the calls threadID is waiting on a decision for, or
// nil when it is not at the approval gate.
func (e *Engine) Pending(ctx context.Context, threadID string) ([]llm.ToolCall, error) {
	s, err := e.cfg.Store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if Next(s) != StageApprove {
		return nil, nil
	}
	return s.PendingCalls(), nil
}

// drive runs stages until Done, a suspension, or an error. Each stage
// either commits its effect and checkpoints, or leaves s unchanged.
func (e *Engine) drive(ctx context.Context, s *conversation.State) (*TurnResult, error) {
	res := &TurnResult{ThreadID: s.ThreadID}

	for {
		stage := Next(s)

		var err error
		switch stage {
		case StageDone:
			_, last := s.LastAssistant()
			res.Reply = last.Content
			return res, nil

		case StageInfer:
			if e.cfg.MaxIterations > 0 && res.Iterations >= e.cfg.MaxIterations {
				e.logger.Warn("iteration limit reached",
					"thread_id", s.ThreadID,
					"max_iterations", e.cfg.MaxIterations,
				)
				return res, ErrIterationLimit
			}
			res.Iterations++
			err = e.infer(ctx, s)

		case StageApprove:
			err = e.approve(ctx, e.cfg.Gate, s)
			if errors.Is(err, approval.ErrDecisionPending) {
				e.cfg.Metrics.RecordStage(stage.String(), nil)
				res.Pending = s.PendingCalls()
				res.Suspended = true
				e.logger.Info("turn suspended awaiting decision",
					"thread_id", s.ThreadID,
					"calls", len(res.Pending),
				)
				return res, nil
			}

		case StageExecute:
			err = e.execute(ctx, s)
		}

		e.cfg.Metrics.RecordStage(stage.String(), err)
		if err != nil {
			e.logger.Error("stage failed",
				"thread_id", s.ThreadID,
				"stage", stage.String(),
				"error", err,
			)
			return res, fmt.Errorf("%s stage: %w", stage, err)
		}
		if err := e.save(ctx, s, stage.String()); err != nil {
			return res, err
		}
	}
}

func (e *Engine) approve(ctx context.Context, gate *approval.Gate, s *conversation.State) error {
	err := gate.Run(ctx, s)
	switch {
	case errors.Is(err, approval.ErrDecisionPending):
		e.cfg.Metrics.RecordApproval("pending")
	case err == nil:
		e.cfg.Metrics.RecordApproval(s.Approved.String())
	}
	return err
}

func (e *Engine) save(ctx context.Context, s *conversation.State, stage string) error {
	if err := e.cfg.Store.Save(ctx, s.ThreadID, stage, s); err != nil {
		return fmt.Errorf("checkpoint thread %s: %w", s.ThreadID, err)
	}
	e.logger.Info("stage checkpointed",
		"thread_id", s.ThreadID,
		"stage", stage,
		"messages", len(s.Messages),
	)
	return nil
}

func (e *Engine) acquire(threadID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[threadID] {
		return ErrTurnInProgress
	}
	e.busy[threadID] = true
	return nil
}

func (e *Engine) release(threadID string) {
	e.mu.Lock()
	delete(e.busy, threadID)
	e.mu.Unlock()
}
