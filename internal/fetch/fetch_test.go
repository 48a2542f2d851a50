package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTML(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Test Page</title><style>.foo { color: red; }</style></head>
<body>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<ul><li>first</li><li>second</li></ul>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	title, content := extractHTML(html)

	if title != "Test Page" {
		t.Errorf("expected title 'Test Page', got %q", title)
	}
	if !strings.Contains(content, "# Hello World") {
		t.Errorf("expected heading marker, got %q", content)
	}
	if !strings.Contains(content, "bold text") {
		t.Errorf("expected content to contain 'bold text', got %q", content)
	}
	if !strings.Contains(content, "- first") || !strings.Contains(content, "- second") {
		t.Errorf("expected list items, got %q", content)
	}
	for _, banned := range []string{"var x = 1", "color: red", "Navigation stuff", "Footer stuff", "Test Page"} {
		if strings.Contains(content, banned) {
			t.Errorf("content should not contain %q: %q", banned, content)
		}
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "hodie/") {
			t.Errorf("expected hodie User-Agent, got %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
	}))
	defer ts.Close()

	result, err := New(nil).Fetch(context.Background(), ts.URL, 0)
	require.NoError(t, err)

	assert.Equal(t, "Test", result.Title)
	assert.Contains(t, result.Content, "Hello from test server")
	assert.Equal(t, 200, result.StatusCode)
	assert.False(t, result.Truncated)
}

func TestFetch_Truncates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("é", 100)))
	}))
	defer ts.Close()

	result, err := New(nil).Fetch(context.Background(), ts.URL, 10)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, strings.Repeat("é", 10), result.Content)
}

func TestFetch_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := New(nil).Fetch(context.Background(), ts.URL, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "example.com/docs", want: "https://example.com/docs"},
		{in: " http://example.com ", want: "http://example.com"},
		{in: "", wantErr: true},
		{in: "file:///etc/passwd", wantErr: true},
		{in: "ftp://example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	tool := Tool(New(nil))
	assert.Equal(t, "web_fetch", tool.Name)

	out, err := tool.Handler(context.Background(), map[string]any{"url": ts.URL})
	require.NoError(t, err)

	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, `{"ok":true}`, res.Content)
}
