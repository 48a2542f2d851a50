package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/hodie/examples"
	"github.com/nugget/hodie/internal/agent"
	"github.com/nugget/hodie/internal/llm"
)

// fakeModel is an OpenAI-compatible endpoint with scripted behavior:
// tool results get a summary, a denial gets an apology, a question
// about the system asks for get_system_info, anything else is echoed.
func fakeModel(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(fakeModelHandler())
	t.Cleanup(srv.Close)
	return srv
}

// flakyModel fails the first n requests with 503, then behaves like
// fakeModel. It returns the server and a counter of requests served.
func flakyModel(t *testing.T, n int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var seen atomic.Int32
	next := fakeModelHandler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen.Add(1) <= n {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func fakeModelHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		last := req.Messages[len(req.Messages)-1]

		message := map[string]any{"role": "assistant"}
		switch {
		case last.Role == "tool":
			message["content"] = "The system looks healthy."
		case strings.Contains(last.Content, "denied"):
			message["content"] = "Understood, I will not run it."
		case strings.Contains(last.Content, "system"):
			message["content"] = ""
			message["tool_calls"] = []map[string]any{{
				"id":   "call_sys",
				"type": "function",
				"function": map[string]any{
					"name":      "get_system_info",
					"arguments": "{}",
				},
			}}
		default:
			message["content"] = "echo: " + last.Content
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       message,
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})
}

// writeConfig writes a config pointing at the fake model and a
// pure-Go SQLite store in a temp dir.
func writeConfig(t *testing.T, modelURL, approvalMode string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`log_level: warn
data_dir: %[1]s/data
model:
  provider: openai
  name: test-model
  api_key: test-key
  base_url: %[2]s
approval:
  mode: %[3]s
store:
  driver: sqlite
  dsn: %[1]s/data/hodie.db
tools:
  system_info: true
`, dir, modelURL, approvalMode)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

// hodie runs the CLI and returns stdout. stdin may be nil.
func hodie(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), stdin, &stdout, &stderr, args)
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

func TestRun_Version(t *testing.T) {
	out, err := hodie(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Hodie dev")
	assert.Contains(t, out, "go_version:")

	out, err = hodie(t, nil, "-o", "json", "version")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestRun_UnknownOutputFormat(t *testing.T) {
	_, err := hodie(t, nil, "-o", "xml", "version")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestRun_UnknownCommand(t *testing.T) {
	_, err := hodie(t, nil, "frobnicate")
	assert.Error(t, err)
}

func TestRun_MissingConfig(t *testing.T) {
	_, err := hodie(t, nil, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "threads")
	assert.ErrorContains(t, err, "config file not found")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  provider: carrier-pigeon\n"), 0o600))

	_, err := hodie(t, nil, "--config", path, "threads")
	assert.ErrorContains(t, err, "unknown model.provider")
}

func TestRun_Init(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")

	out, err := hodie(t, nil, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "config.yaml")

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, examples.ConfigYAML, got)
	assert.DirExists(t, filepath.Join(dir, "data"))
	assert.DirExists(t, filepath.Join(dir, "workspace"))

	custom := []byte("log_level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), custom, 0o600))
	out, err = hodie(t, nil, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "exists, kept")

	got, err = os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}

func TestRun_AskThenInspect(t *testing.T) {
	cfg := writeConfig(t, fakeModel(t).URL, "deferred")

	out, err := hodie(t, nil, "--config", cfg, "ask", "--thread", "t1", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello there\n", out)

	out, err = hodie(t, nil, "--config", cfg, "ask", "--thread", "t1", "again")
	require.NoError(t, err)
	assert.Equal(t, "echo: again\n", out)

	out, err = hodie(t, nil, "--config", cfg, "history", "--thread", "t1")
	require.NoError(t, err)
	assert.Contains(t, out, "[user] hello there")
	assert.Contains(t, out, "[assistant] echo: hello there")
	assert.Contains(t, out, "[assistant] echo: again")
	assert.NotContains(t, out, "Turn unfinished")

	out, err = hodie(t, nil, "--config", cfg, "history", "--thread", "t1", "--snapshots")
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "infer")
	assert.Contains(t, out, "input")

	out, err = hodie(t, nil, "--config", cfg, "threads")
	require.NoError(t, err)
	assert.Contains(t, out, "t1")

	out, err = hodie(t, nil, "--config", cfg, "-o", "json", "threads")
	require.NoError(t, err)
	var threads []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &threads))
	require.Len(t, threads, 1)
	assert.Equal(t, "t1", threads[0]["id"])

	_, err = hodie(t, nil, "--config", cfg, "history", "--thread", "missing")
	assert.Error(t, err)
}

func TestRun_AskJSON(t *testing.T) {
	cfg := writeConfig(t, fakeModel(t).URL, "auto")

	out, err := hodie(t, nil, "--config", cfg, "-o", "json", "ask", "--thread", "j1", "check the system")
	require.NoError(t, err)

	var res turnOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "j1", res.ThreadID)
	assert.Equal(t, "The system looks healthy.", res.Reply)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, res.Suspended)
}

func TestRun_DeferredApproval(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		wantReply string
	}{
		{name: "approve", command: "approve", wantReply: "The system looks healthy."},
		{name: "reject", command: "reject", wantReply: "Understood, I will not run it."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeConfig(t, fakeModel(t).URL, "deferred")

			out, err := hodie(t, nil, "--config", cfg, "ask", "--thread", "d1", "check the system")
			require.NoError(t, err)
			assert.Contains(t, out, "Awaiting approval for 1 tool call(s) on thread d1")
			assert.Contains(t, out, "get_system_info")

			out, err = hodie(t, nil, "--config", cfg, "history", "--thread", "d1")
			require.NoError(t, err)
			assert.Contains(t, out, "next stage: approve")

			_, err = hodie(t, nil, "--config", cfg, "ask", "--thread", "d1", "hello?")
			assert.ErrorIs(t, err, agent.ErrTurnInProgress)

			out, err = hodie(t, nil, "--config", cfg, tt.command, "--thread", "d1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply+"\n", out)

			_, err = hodie(t, nil, "--config", cfg, tt.command, "--thread", "d1")
			assert.ErrorIs(t, err, agent.ErrNoPendingDecision)

			out, err = hodie(t, nil, "--config", cfg, "history", "--thread", "d1")
			require.NoError(t, err)
			assert.Contains(t, out, "Decisions:")
		})
	}
}

func TestRun_Resume(t *testing.T) {
	cfg := writeConfig(t, fakeModel(t).URL, "auto")

	out, err := hodie(t, nil, "--config", cfg, "ask", "--thread", "r1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi\n", out)

	// A finished thread resumes to its last reply without a new call.
	out, err = hodie(t, nil, "--config", cfg, "resume", "--thread", "r1")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi\n", out)

	_, err = hodie(t, nil, "--config", cfg, "resume")
	assert.ErrorContains(t, err, "thread")
}

func TestRun_Tools(t *testing.T) {
	cfg := writeConfig(t, fakeModel(t).URL, "prompt")

	out, err := hodie(t, nil, "--config", cfg, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "get_system_info")

	out, err = hodie(t, nil, "--config", cfg, "-o", "json", "tools")
	require.NoError(t, err)
	var specs []llm.ToolSpec
	require.NoError(t, json.Unmarshal([]byte(out), &specs))
	require.NotEmpty(t, specs)
	assert.Equal(t, "get_system_info", specs[0].Name)
}

func TestRun_Chat(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		input string
		want  []string
		not   []string
	}{
		{
			name:  "plain conversation",
			mode:  "prompt",
			input: "hello\n\nhow are you\n/exit\n",
			want:  []string{"echo: hello", "echo: how are you"},
		},
		{
			name:  "prompt approves",
			mode:  "prompt",
			input: "check the system\nmaybe\ny\n/exit\n",
			want:  []string{"get_system_info {}", "Please answer y or n.", "The system looks healthy."},
		},
		{
			name:  "prompt rejects",
			mode:  "prompt",
			input: "check the system\nn\n",
			want:  []string{"Understood, I will not run it."},
			not:   []string{"healthy"},
		},
		{
			name:  "deferred decided in chat",
			mode:  "deferred",
			input: "check the system\n/approve\n",
			want:  []string{"Awaiting approval", "The system looks healthy."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeConfig(t, fakeModel(t).URL, tt.mode)

			out, err := hodie(t, strings.NewReader(tt.input), "--config", cfg, "chat", "--thread", "c1")
			require.NoError(t, err)
			assert.Contains(t, out, "thread c1")
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, n := range tt.not {
				assert.NotContains(t, out, n)
			}
		})
	}
}

func TestRun_ChatResumesUnfinishedTurn(t *testing.T) {
	cfg := writeConfig(t, fakeModel(t).URL, "deferred")

	_, err := hodie(t, nil, "--config", cfg, "ask", "--thread", "u1", "check the system")
	require.NoError(t, err)

	// Chat re-enters the gate first; the turn is still waiting.
	out, err := hodie(t, strings.NewReader("/reject\n"), "--config", cfg, "chat", "--thread", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Resuming unfinished turn")
	assert.Contains(t, out, "Awaiting approval")
	assert.Contains(t, out, "Understood, I will not run it.")
}

func TestRun_ChatRecoversFromFailedTurn(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
		calls int32
	}{
		{
			name:  "next line finishes the failed turn first",
			input: "hello\nhello again\n/exit\n",
			want:  []string{"Resuming unfinished turn", "echo: hello\n", "echo: hello again"},
			calls: 3,
		},
		{
			name:  "explicit retry",
			input: "hello\n/retry\n/exit\n",
			want:  []string{"echo: hello\n"},
			calls: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, seen := flakyModel(t, 1)
			cfg := writeConfig(t, srv.URL, "prompt")

			var stdout, stderr bytes.Buffer
			err := run(context.Background(), strings.NewReader(tt.input), &stdout, &stderr,
				[]string{"--config", cfg, "chat", "--thread", "f1"})
			require.NoError(t, err)
			assert.Contains(t, stderr.String(), "Type /retry")
			for _, w := range tt.want {
				assert.Contains(t, stdout.String(), w)
			}
			assert.Equal(t, tt.calls, seen.Load())
		})
	}
}
