package conversation

import (
	"fmt"

	"github.com/nugget/hodie/internal/llm"
)

// DeniedResult is the tool result text the model sees for a call the
// user rejected.
const DeniedResult = "tool execution was denied by the user"

// UnmatchedToolCallError reports a broken call/result pairing: a tool
// call with no result before the next inference, or a tool result that
// answers no call.
type UnmatchedToolCallError struct {
	CallID string
	Tool   string // empty for an orphan result
	Index  int    // message index
}

func (e *UnmatchedToolCallError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("tool result %s at message %d matches no tool call", e.CallID, e.Index)
	}
	return fmt.Sprintf("tool call %s (%s) at message %d has no result", e.CallID, e.Tool, e.Index)
}

// CheckPairing verifies that every tool call has exactly one result in
// the tool messages that immediately follow its assistant message, and
// that no tool message answers an unknown call.
func CheckPairing(messages []llm.Message) error {
	for i := 0; i < len(messages); i++ {
		m := messages[i]
		if m.Role == llm.RoleTool {
			return &UnmatchedToolCallError{CallID: m.ToolCallID, Index: i}
		}
		if !m.HasToolCalls() {
			continue
		}

		want := make(map[string]bool, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			want[tc.ID] = true
		}
		j := i + 1
		for ; j < len(messages) && messages[j].Role == llm.RoleTool; j++ {
			id := messages[j].ToolCallID
			if !want[id] {
				return &UnmatchedToolCallError{CallID: id, Index: j}
			}
			delete(want, id)
		}
		for _, tc := range m.ToolCalls {
			if want[tc.ID] {
				return &UnmatchedToolCallError{CallID: tc.ID, Tool: tc.Function.Name, Index: i}
			}
		}
		i = j - 1
	}
	return nil
}

// EffectiveView returns the history to send to the model: a copy of the
// persisted messages where calls the user denied are answered with a
// synthetic DeniedResult, checked for pairing, then trimmed to budget.
// The state is not modified.
func EffectiveView(s *State, budget int, counter llm.TokenCounter) ([]llm.Message, error) {
	denied := make(map[string]bool)
	for _, d := range s.Decisions {
		if d.Approved {
			continue
		}
		for _, id := range d.Calls {
			denied[id] = true
		}
	}

	view := make([]llm.Message, 0, len(s.Messages))
	for i := 0; i < len(s.Messages); i++ {
		m := s.Messages[i]
		view = append(view, m)
		if !m.HasToolCalls() {
			continue
		}

		answered := make(map[string]bool, len(m.ToolCalls))
		for i+1 < len(s.Messages) && s.Messages[i+1].Role == llm.RoleTool {
			i++
			view = append(view, s.Messages[i])
			answered[s.Messages[i].ToolCallID] = true
		}
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] && denied[tc.ID] {
				view = append(view, llm.ToolError(tc.ID, DeniedResult))
			}
		}
	}

	if err := CheckPairing(view); err != nil {
		return nil, err
	}
	return Trim(view, budget, counter), nil
}

// Trim bounds messages to budget tokens. The leading system message is
// always kept; the rest is grouped into blocks (an assistant message
// with its tool results is one block, any other message is its own
// block) and whole blocks are dropped from the oldest end until the
// total fits or one block remains. The view never starts with an
// assistant or tool block when a later block can lead instead.
// A budget <= 0 disables trimming. The input slice is not modified.
func Trim(messages []llm.Message, budget int, counter llm.TokenCounter) []llm.Message {
	if len(messages) == 0 {
		return nil
	}
	if budget <= 0 || counter.CountTokens(messages) <= budget {
		return append([]llm.Message(nil), messages...)
	}

	var head []llm.Message
	rest := messages
	if messages[0].Role == llm.RoleSystem {
		head, rest = messages[:1], messages[1:]
	}

	blocks := splitBlocks(rest)
	costs := make([]int, len(blocks))
	total := counter.CountTokens(head)
	for i, b := range blocks {
		costs[i] = counter.CountTokens(b)
		total += costs[i]
	}

	start := 0
	for start < len(blocks)-1 && total > budget {
		total -= costs[start]
		start++
	}
	for start < len(blocks)-1 && blocks[start][0].Role != llm.RoleUser {
		start++
	}

	out := append([]llm.Message(nil), head...)
	for _, b := range blocks[start:] {
		out = append(out, b...)
	}
	return out
}

func splitBlocks(messages []llm.Message) [][]llm.Message {
	var blocks [][]llm.Message
	for i := 0; i < len(messages); i++ {
		j := i + 1
		if messages[i].HasToolCalls() {
			for j < len(messages) && messages[j].Role == llm.RoleTool {
				j++
			}
		}
		blocks = append(blocks, messages[i:j])
		i = j - 1
	}
	return blocks
}
