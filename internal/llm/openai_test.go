package llm

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/hodie/internal/config"
)

func TestConvertToOpenAI(t *testing.T) {
	msgs, err := convertToOpenAI([]Message{
		System("sys"),
		Human("run it"),
		Assistant("", ToolCall{ID: "call_1", Function: FunctionCall{Name: "execute_command", Arguments: map[string]any{"command": "uptime"}}}),
		ToolResult("call_1", "up 3 days"),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, msgs[2].ToolCalls[0].Type)
	assert.JSONEq(t, `{"command":"uptime"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
}

func TestConvertFromOpenAI_BadArguments(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Model: "gpt-test",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{
					{Function: openai.FunctionCall{Name: "read_file", Arguments: `{"path":`}},
				},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}

	got, err := convertFromOpenAI(resp)
	require.NoError(t, err)
	require.Len(t, got.Message.ToolCalls, 1)
	call := got.Message.ToolCalls[0]
	assert.Regexp(t, `^call_`, call.ID)
	assert.Equal(t, `{"path":`, call.Function.Arguments["_raw"])
	assert.Equal(t, "tool_calls", got.StopReason)
}

func TestOpenAIClient_Chat(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-test",
			"created": 1700000000,
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "list_directory", "arguments": "{\"path\":\"/tmp\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(config.ModelConfig{Name: "gpt-test", APIKey: "k", BaseURL: srv.URL, Temperature: 0.1, MaxTokens: 256}, nil)

	resp, err := c.Chat(t.Context(), &ChatRequest{
		Model:      "gpt-test",
		Messages:   []Message{System("sys"), Human("what is in /tmp?")},
		Tools:      []ToolSpec{{Name: "list_directory", Parameters: map[string]any{"type": "object"}}},
		ToolChoice: ToolChoiceAuto,
	})
	require.NoError(t, err)

	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_abc", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "/tmp", resp.Message.ToolCalls[0].Function.Arguments["path"])
	assert.Equal(t, 20, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)

	assert.Equal(t, "auto", captured["tool_choice"])
	assert.Len(t, captured["tools"], 1)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		provider string
		wantType any
		wantErr  bool
	}{
		{provider: "openai", wantType: &OpenAIClient{}},
		{provider: "Anthropic", wantType: &AnthropicClient{}},
		{provider: "bard", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c, err := NewClient(config.ModelConfig{Provider: tt.provider, APIKey: "k"}, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, c)
		})
	}
}

func TestOpenAIClient_TracePayloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer srv.Close()

	tests := []struct {
		level     slog.Level
		wantTrace bool
	}{
		{level: config.LevelTrace, wantTrace: true},
		{level: slog.LevelDebug, wantTrace: false},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			c := NewOpenAIClient(config.ModelConfig{APIKey: "k", BaseURL: srv.URL},
				config.NewLogger(&buf, tt.level, "text"))

			_, err := c.Chat(t.Context(), &ChatRequest{Model: "m", Messages: []Message{Human("hello")}})
			require.NoError(t, err)

			out := buf.String()
			assert.Equal(t, tt.wantTrace, strings.Contains(out, "request payload"))
			assert.Equal(t, tt.wantTrace, strings.Contains(out, "level=TRACE"))
		})
	}
}
