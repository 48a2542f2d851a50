package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransport is a test double for the Transport interface.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string][]*Response // method -> queued responses; the last one repeats
	sent      []Request
	notifs    []Notification
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{responses: make(map[string][]*Response)}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = append(m.responses[method], &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	})
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = append(m.responses[method], &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	})
}

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *req)
	queue := m.responses[req.Method]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[req.Method] = queue[1:]
	}
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestClient_Initialize(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: "test-server", Version: "1.0.0"},
	})

	client := NewClient("test", mt, nil)
	assert.False(t, client.Initialized())
	require.NoError(t, client.Initialize(context.Background()))
	assert.True(t, client.Initialized())

	require.Len(t, mt.sent, 1)
	params := mt.sent[0].Params.(map[string]any)
	assert.Equal(t, protocolVersion, params["protocolVersion"])
	assert.Equal(t, "hodie", params["clientInfo"].(map[string]any)["name"])

	require.Len(t, mt.notifs, 1)
	assert.Equal(t, "notifications/initialized", mt.notifs[0].Method)
}

func TestClient_InitializeRPCError(t *testing.T) {
	mt := newMockTransport()
	mt.addError("initialize", CodeInternalError, "boom")

	err := NewClient("test", mt, nil).Initialize(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Empty(t, mt.notifs)
}

func TestClient_ListToolsPaginates(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/list", map[string]any{
		"tools":      []ToolDefinition{{Name: "a"}, {Name: "b"}},
		"nextCursor": "page2",
	})
	mt.addResponse("tools/list", map[string]any{
		"tools": []ToolDefinition{{Name: "c"}},
	})

	defs, err := NewClient("test", mt, nil).ListTools(context.Background())
	require.NoError(t, err)

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	require.Len(t, mt.sent, 2)
	assert.Nil(t, mt.sent[0].Params)
	assert.Equal(t, map[string]any{"cursor": "page2"}, mt.sent[1].Params)
}

func TestClient_CallTool(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{Content: []ContentBlock{
		{Type: "text", Text: "line one"},
		{Type: "image"},
		{Type: "text", Text: "line two"},
	}})

	out, err := NewClient("test", mt, nil).CallTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "line one\n[image]\nline two", out)

	params := mt.sent[0].Params.(map[string]any)
	assert.Equal(t, "echo", params["name"])
	assert.Equal(t, map[string]any{}, params["arguments"])
}

func TestClient_CallToolErrorResult(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{{Type: "text", Text: "file not found"}},
		IsError: true,
	})

	_, err := NewClient("test", mt, nil).CallTool(context.Background(), "read", map[string]any{"path": "x"})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "read", toolErr.Tool)
	assert.Equal(t, "file not found", toolErr.Message)
}

func TestClient_CallToolRPCError(t *testing.T) {
	mt := newMockTransport()
	mt.addError("tools/call", CodeMethodNotFound, "no such tool")

	_, err := NewClient("test", mt, nil).CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tools/call missing")
	assert.Contains(t, err.Error(), "no such tool")
}

func TestClient_Close(t *testing.T) {
	mt := newMockTransport()
	require.NoError(t, NewClient("test", mt, nil).Close())
	assert.True(t, mt.closed)
}

func TestResponseIsResponseTo(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":3,"result":{}}`), &resp))
	assert.True(t, resp.isResponseTo(3))
	assert.False(t, resp.isResponseTo(4))

	var notif Response
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/progress"}`), &notif))
	assert.False(t, notif.isResponseTo(0))
}

func TestNotificationOmitsNilParams(t *testing.T) {
	data, err := json.Marshal(NewNotification("notifications/initialized", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(data))
}
