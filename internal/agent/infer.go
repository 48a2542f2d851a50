package agent

import (
	"context"
	"errors"
	"time"

	"github.com/nugget/hodie/internal/conversation"
	"github.com/nugget/hodie/internal/llm"
)

// rejectionNotice follows a denied batch in the request. It lives only
// in the request and is never stored.
const rejectionNotice = "The requested tool calls were denied by the user and were not run. " +
	"Do not request tools again for this message. Answer in text, " +
	"explaining what you would have done."

// infer runs one model exchange and commits exactly one assistant
// message. On failure s is left untouched.
func (e *Engine) infer(ctx context.Context, s *conversation.State) error {
	rejected := s.Approved == conversation.Denied

	// The notice counts against the context budget.
	budget := e.cfg.ContextBudget
	var notice []llm.Message
	if rejected {
		notice = []llm.Message{llm.Human(rejectionNotice)}
		if budget > 0 {
			budget = max(budget-e.cfg.Counter.CountTokens(notice), 1)
		}
	}

	view, err := conversation.EffectiveView(s, budget, e.cfg.Counter)
	if err != nil {
		return err
	}

	req := &llm.ChatRequest{
		Model:      e.cfg.Model,
		Messages:   append(view, notice...),
		Tools:      e.cfg.Registry.Specs(),
		ToolChoice: llm.ToolChoiceAuto,
	}
	if rejected {
		req.ToolChoice = llm.ToolChoiceNone
	}

	callCtx := ctx
	if e.cfg.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.InferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.cfg.Client.Chat(callCtx, req)
	e.cfg.Metrics.RecordInference(time.Since(start))
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return &StageTimeout{Stage: StageInfer, Timeout: e.cfg.InferenceTimeout}
		}
		return &InferenceError{Model: e.cfg.Model, Err: err}
	}

	reply := resp.Message
	reply.Role = llm.RoleAssistant
	if rejected && len(reply.ToolCalls) > 0 {
		e.logger.Warn("model requested tools after rejection, dropping calls",
			"thread_id", s.ThreadID,
			"calls", len(reply.ToolCalls),
		)
		reply.ToolCalls = nil
	}

	e.logger.Debug("inference complete",
		"thread_id", s.ThreadID,
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(reply.ToolCalls),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	s.Append(reply)
	s.Approved = conversation.Unset
	return nil
}
