package agent

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/hodie/internal/conversation"
	"github.com/nugget/hodie/internal/llm"
)

// execute runs every pending call of the latest assistant message and
// appends one result per call, in proposal order. Tool failures become
// error results. Cancellation of ctx aborts the batch and appends
// nothing.
func (e *Engine) execute(ctx context.Context, s *conversation.State) error {
	calls := s.PendingCalls()
	results := make([]llm.Message, len(calls))

	var g errgroup.Group
	g.SetLimit(e.cfg.ParallelTools)
	for i, tc := range calls {
		g.Go(func() error {
			msg, err := e.call(ctx, s.ThreadID, tc)
			if err != nil {
				return err
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.Append(results...)
	return nil
}

type callOutcome struct {
	out string
	err error
}

// call runs one tool under the per-call timeout. The only error it
// returns is cancellation of ctx; everything else is folded into the
// result message.
func (e *Engine) call(ctx context.Context, threadID string, tc llm.ToolCall) (llm.Message, error) {
	name := tc.Function.Name
	callCtx := ctx
	if e.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.ToolTimeout)
		defer cancel()
	}

	e.logger.Info("tool exec",
		"thread_id", threadID,
		"tool", name,
		"call_id", tc.ID,
	)

	start := time.Now()
	done := make(chan callOutcome, 1)
	go func() {
		out, err := e.cfg.Registry.Execute(callCtx, name, tc.Function.Arguments)
		done <- callOutcome{out: out, err: err}
	}()

	var res callOutcome
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	if ctx.Err() != nil {
		return llm.Message{}, ctx.Err()
	}
	if res.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res.err = &StageTimeout{Stage: StageExecute, Tool: name, Timeout: e.cfg.ToolTimeout}
	}

	elapsed := time.Since(start)
	e.cfg.Metrics.RecordToolCall(name, elapsed, res.err)

	if res.err != nil {
		e.logger.Error("tool exec failed",
			"thread_id", threadID,
			"tool", name,
			"call_id", tc.ID,
			"error", res.err,
		)
		return llm.ToolError(tc.ID, "Error: "+res.err.Error()), nil
	}

	e.logger.Debug("tool exec done",
		"thread_id", threadID,
		"tool", name,
		"result_len", len(res.out),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return llm.ToolResult(tc.ID, res.out), nil
}
