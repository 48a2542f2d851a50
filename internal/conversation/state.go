// Package conversation holds the persisted state of one thread and the
// pure functions that inspect it: pending calls, result pairing and the
// trimmed view sent to the model.
package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nugget/hodie/internal/llm"
)

// Approval is the gate's decision on the latest batch of tool calls.
// The zero value is Unset, which routes the next step to the gate.
type Approval int8

const (
	Unset Approval = iota
	Granted
	Denied
)

func (a Approval) String() string {
	switch a {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unset"
	}
}

// MarshalJSON encodes Unset as null, Granted as true, Denied as false.
func (a Approval) MarshalJSON() ([]byte, error) {
	switch a {
	case Granted:
		return []byte("true"), nil
	case Denied:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements [json.Unmarshaler].
func (a *Approval) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "null":
		*a = Unset
	case "true":
		*a = Granted
	case "false":
		*a = Denied
	default:
		return fmt.Errorf("invalid approval value %s", b)
	}
	return nil
}

// Decision records one approval outcome. Decisions are append-only and
// outlive the ephemeral Approved flag.
type Decision struct {
	// AssistantIndex is the index in Messages of the assistant message
	// whose calls were decided.
	AssistantIndex int       `json:"assistant_index"`
	Calls          []string  `json:"calls"` // call IDs
	Approved       bool      `json:"approved"`
	Reason         string    `json:"reason,omitempty"` // e.g. "user", "auto", "timeout"
	At             time.Time `json:"at"`
}

// State is the unit of persisted, mutated state for one thread.
type State struct {
	ThreadID  string        `json:"thread_id"`
	Messages  []llm.Message `json:"messages"`
	Approved  Approval      `json:"approved"`
	Decisions []Decision    `json:"decisions,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// New returns an empty state for threadID, seeded with systemPrompt
// when it is non-empty.
func New(threadID, systemPrompt string) *State {
	now := time.Now().UTC()
	s := &State{ThreadID: threadID, CreatedAt: now, UpdatedAt: now}
	if systemPrompt != "" {
		s.Messages = append(s.Messages, llm.System(systemPrompt))
	}
	return s
}

// Append adds messages and bumps UpdatedAt.
func (s *State) Append(msgs ...llm.Message) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now().UTC()
}

// Record sets Approved and appends the matching audit entry for the
// latest assistant message.
func (s *State) Record(approved bool, reason string) {
	idx, msg := s.LastAssistant()
	ids := make([]string, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		ids = append(ids, tc.ID)
	}

	s.Approved = Denied
	if approved {
		s.Approved = Granted
	}
	s.Decisions = append(s.Decisions, Decision{
		AssistantIndex: idx,
		Calls:          ids,
		Approved:       approved,
		Reason:         reason,
		At:             time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// Last returns the final message, or false for an empty history.
func (s *State) Last() (llm.Message, bool) {
	if len(s.Messages) == 0 {
		return llm.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastAssistant returns the index and value of the latest assistant
// message, or -1 when there is none.
func (s *State) LastAssistant() (int, llm.Message) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleAssistant {
			return i, s.Messages[i]
		}
	}
	return -1, llm.Message{}
}

// PendingCalls returns the calls of the latest assistant message that
// have no matching tool result yet, in proposal order.
func (s *State) PendingCalls() []llm.ToolCall {
	idx, msg := s.LastAssistant()
	if idx < 0 || len(msg.ToolCalls) == 0 {
		return nil
	}

	resolved := make(map[string]bool)
	for _, m := range s.Messages[idx+1:] {
		if m.Role == llm.RoleTool {
			resolved[m.ToolCallID] = true
		}
	}

	var pending []llm.ToolCall
	for _, tc := range msg.ToolCalls {
		if !resolved[tc.ID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

// Clone returns a deep copy through JSON, so the copy shares no maps
// or slices with s.
func (s *State) Clone() (*State, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	return &out, nil
}
