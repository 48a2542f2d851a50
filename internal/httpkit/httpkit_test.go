package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Timeouts(t *testing.T) {
	assert.Equal(t, 30*time.Second, NewClient().Timeout)
	assert.Equal(t, 5*time.Second, NewClient(WithTimeout(5*time.Second)).Timeout)
	assert.Zero(t, NewClient(WithTimeout(0)).Timeout)
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		opts   []ClientOption
		prefix string
	}{
		{name: "default", prefix: "hodie/"},
		{name: "override", opts: []ClientOption{WithUserAgent("TestBot/1.0")}, prefix: "TestBot/1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewClient(tt.opts...).Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.True(t, strings.HasPrefix(string(body), tt.prefix), "got %q", body)
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"connection refused wrapped", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"connection reset", syscall.ECONNRESET, false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("rate limited, try later"))
	assert.Equal(t, "rate limited", ReadErrorBody(body, 12))
	assert.Empty(t, ReadErrorBody(nil, 10))
}
