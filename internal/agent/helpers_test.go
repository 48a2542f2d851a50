package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nugget/hodie/internal/approval"
	"github.com/nugget/hodie/internal/checkpoint"
	"github.com/nugget/hodie/internal/llm"
	"github.com/nugget/hodie/internal/tools"
)

// mockLLM replays scripted responses and records every request. When
// chat is set it is called instead of the script.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error // errs[i] fails call i when non-nil
	chat      func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	calls     []*llm.ChatRequest
}

func (m *mockLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	n := len(m.calls)
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	m.calls = append(m.calls, &cp)
	chat := m.chat
	m.mu.Unlock()

	if chat != nil {
		return chat(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if n < len(m.errs) && m.errs[n] != nil {
		return nil, m.errs[n]
	}
	if len(m.responses) == 0 {
		return nil, errors.New("mockLLM: no more responses")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func (m *mockLLM) requests() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.ChatRequest(nil), m.calls...)
}

func text(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Model: "test-model", Message: llm.Assistant(content)}
}

func calls(tcs ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{Model: "test-model", Message: llm.Assistant("", tcs...)}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// testTools is the tool set shared by engine tests.
type testTools struct {
	executed atomic.Int32
	running  atomic.Int32
	maxSeen  atomic.Int32
}

func (tt *testTools) list() []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "echo",
			Description: "Echo text back.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
				"required":   []string{"text"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				tt.executed.Add(1)
				s, _ := args["text"].(string)
				return s, nil
			},
		},
		{
			Name:        "fail",
			Description: "Always fails.",
			Handler: func(context.Context, map[string]any) (string, error) {
				tt.executed.Add(1)
				return "", errors.New("boom")
			},
		},
		{
			Name:        "sleep",
			Description: "Sleeps for ms milliseconds and returns its label.",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				tt.executed.Add(1)
				n := tt.running.Add(1)
				defer tt.running.Add(-1)
				for {
					seen := tt.maxSeen.Load()
					if n <= seen || tt.maxSeen.CompareAndSwap(seen, n) {
						break
					}
				}
				ms, _ := args["ms"].(float64)
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
					return "", ctx.Err()
				}
				label, _ := args["label"].(string)
				return label, nil
			},
		},
		{
			Name:        "block",
			Description: "Blocks until cancelled.",
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				tt.executed.Add(1)
				<-ctx.Done()
				return "", ctx.Err()
			},
		},
	}
}

type testEngine struct {
	*Engine
	llm   *mockLLM
	store *checkpoint.MemoryStore
	tools *testTools
}

func newTestEngine(t *testing.T, mock *mockLLM, decider approval.Decider, opts ...func(*Config)) *testEngine {
	t.Helper()

	tt := &testTools{}
	reg, err := tools.NewBuilder(nil).Add(tt.list()...).Build(context.Background())
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	cfg := Config{
		Client:        mock,
		Model:         "test-model",
		SystemPrompt:  "sys",
		Registry:      reg,
		Gate:          approval.NewGate(decider, nil),
		Store:         store,
		MaxIterations: 10,
		ParallelTools: 4,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return &testEngine{Engine: e, llm: mock, store: store, tools: tt}
}

func stages(t *testing.T, store checkpoint.Store, threadID string) []string {
	t.Helper()
	snaps, err := store.History(context.Background(), threadID, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		out = append(out, snaps[i].Stage)
	}
	return out
}
