// Package llm provides the message model shared by the agent and the
// language model clients that speak it.
package llm

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	// IsError marks a tool response that carries error text instead of
	// a successful result.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"` // Provider-assigned ID, used for result correlation
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// System returns a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Human returns a user message.
func Human(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant message, optionally proposing calls.
func Assistant(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult returns a successful tool response for callID.
func ToolResult(callID, output string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: output}
}

// ToolError returns a failed tool response for callID.
func ToolError(callID, errText string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: errText, IsError: true}
}

// NewToolCall builds a call with a fresh ID.
func NewToolCall(name string, args map[string]any) ToolCall {
	return ToolCall{
		ID:       NewCallID(),
		Function: FunctionCall{Name: name, Arguments: args},
	}
}

// NewCallID returns an ID for providers that do not assign one.
func NewCallID() string {
	return "call_" + uuid.NewString()
}

// HasToolCalls reports whether m is an assistant message proposing calls.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// ToolChoice controls whether the model may call tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls for this exchange.
	ToolChoiceNone ToolChoice = "none"
)

// ChatRequest is a provider-neutral completion request.
type ChatRequest struct {
	Model      string
	Messages   []Message
	Tools      []ToolSpec
	ToolChoice ToolChoice
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// StopReason is the provider's finish reason, when reported.
	StopReason string
}

// ensureCallIDs assigns IDs to calls the provider left blank.
func ensureCallIDs(calls []ToolCall) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = NewCallID()
		}
	}
}
