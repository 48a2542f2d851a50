package agent

import (
	"github.com/nugget/hodie/internal/conversation"
	"github.com/nugget/hodie/internal/llm"
)

// Stage is a node of the turn state machine.
type Stage int

const (
	StageDone Stage = iota
	StageInfer
	StageApprove
	StageExecute
)

func (s Stage) String() string {
	switch s {
	case StageInfer:
		return "infer"
	case StageApprove:
		return "approve"
	case StageExecute:
		return "execute"
	default:
		return "done"
	}
}

// Edge is the outcome of routing after the approval gate.
type Edge int

const (
	ToInference Edge = iota
	ToTools
)

func (e Edge) String() string {
	if e == ToTools {
		return "to_tools"
	}
	return "to_inference"
}

// Route picks the edge out of the approval gate: tools only when the
// calls were granted and some are still unanswered. It reads state
// only and is safe to call any number of times.
func Route(s *conversation.State) Edge {
	if s.Approved == conversation.Granted && len(s.PendingCalls()) > 0 {
		return ToTools
	}
	return ToInference
}

// Next returns the stage to run for s. It depends only on persisted
// fields, so a reloaded state continues exactly where it stopped: an
// undecided batch goes back to the gate, a decided one is routed, and
// new user input or fresh tool results go to the model.
func Next(s *conversation.State) Stage {
	last, ok := s.Last()
	if !ok {
		return StageDone
	}

	switch last.Role {
	case llm.RoleUser:
		return StageInfer
	case llm.RoleTool:
		if len(s.PendingCalls()) > 0 && s.Approved == conversation.Granted {
			return StageExecute
		}
		return StageInfer
	case llm.RoleAssistant:
		if len(s.PendingCalls()) == 0 {
			return StageDone
		}
		if s.Approved == conversation.Unset {
			return StageApprove
		}
		if Route(s) == ToTools {
			return StageExecute
		}
		return StageInfer
	default:
		return StageDone
	}
}
