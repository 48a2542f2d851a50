package forge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/hodie/internal/config"
)

// newTestGitHub creates a GitHub client backed by the given handler.
// The test server is closed automatically when the test finishes.
func newTestGitHub(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gh, err := NewGitHub(ts.Client(), config.GitHubConfig{Token: "test-token", Owner: "nugget"}, ts.URL, logger)
	require.NoError(t, err)
	return gh
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func toolByName(t *testing.T, g *GitHub, name string) func(context.Context, map[string]any) (string, error) {
	t.Helper()
	for _, tool := range Tools(g) {
		if tool.Name == name {
			return tool.Handler
		}
	}
	t.Fatalf("tool %q not found", name)
	return nil
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("nugget/hodie")
	require.NoError(t, err)
	assert.Equal(t, "nugget", owner)
	assert.Equal(t, "hodie", name)

	for _, bad := range []string{"", "hodie", "/hodie", "nugget/"} {
		_, _, err := splitRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveRepo(t *testing.T) {
	g := &GitHub{owner: "nugget"}
	owner, name, err := g.resolveRepo("hodie")
	require.NoError(t, err)
	assert.Equal(t, "nugget", owner)
	assert.Equal(t, "hodie", name)

	g = &GitHub{}
	_, _, err = g.resolveRepo("hodie")
	assert.Error(t, err)
}

func TestGitHubGetUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"login": "octocat"})
	})

	out, err := toolByName(t, newTestGitHub(t, mux), "github_get_user")(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Authenticated as octocat", out)
}

func TestGitHubListIssues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/nugget/hodie/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		writeJSON(w, []map[string]any{
			{
				"number":   7,
				"title":    "Trim drops system prompt",
				"state":    "open",
				"comments": 2,
				"user":     map[string]any{"login": "alice"},
				"labels":   []map[string]any{{"name": "bug"}},
			},
			{
				"number":       8,
				"title":        "Add resume command",
				"state":        "open",
				"user":         map[string]any{"login": "bob"},
				"pull_request": map[string]any{"url": "https://example.invalid/pr/8"},
			},
		})
	})

	out, err := toolByName(t, newTestGitHub(t, mux), "github_list_issues")(context.Background(),
		map[string]any{"repo": "hodie", "limit": float64(5)})
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 issue:")
	assert.Contains(t, out, "#7 Trim drops system prompt (open) [bug] by alice, 2 comments")
	assert.NotContains(t, out, "#8")
}

func TestGitHubCreateIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/nugget/hodie/issues", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Crash on resume", req["title"])
		assert.Equal(t, []any{"bug"}, req["labels"])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number":   12,
			"title":    req["title"],
			"html_url": "https://github.com/nugget/hodie/issues/12",
		})
	})

	out, err := toolByName(t, newTestGitHub(t, mux), "github_create_issue")(context.Background(), map[string]any{
		"repo":   "nugget/hodie",
		"title":  "Crash on resume",
		"labels": []any{"bug"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Created issue #12: Crash on resume\nhttps://github.com/nugget/hodie/issues/12", out)
}

func TestGitHubSearchRepos(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/repositories", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "language:go agent", r.URL.Query().Get("q"))
		writeJSON(w, map[string]any{
			"total_count": 2,
			"items": []map[string]any{
				{"full_name": "nugget/hodie", "language": "Go", "stargazers_count": 3, "description": "agent loop"},
				{"full_name": "nugget/other", "private": true},
			},
		})
	})

	out, err := toolByName(t, newTestGitHub(t, mux), "github_search_repos")(context.Background(),
		map[string]any{"query": "language:go agent"})
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 repositories:")
	assert.Contains(t, out, "nugget/hodie [Go] ★3: agent loop")
	assert.Contains(t, out, "nugget/other (private)")
}

func TestGitHubListCommits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/nugget/hodie/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		writeJSON(w, []map[string]any{{
			"sha": "0123456789abcdef",
			"commit": map[string]any{
				"message": "Fix trim ordering\n\nLonger body.",
				"author":  map[string]any{"name": "Alice", "date": "2025-03-01T10:00:00Z"},
			},
		}})
	})

	out, err := toolByName(t, newTestGitHub(t, mux), "github_list_commits")(context.Background(),
		map[string]any{"repo": "hodie", "branch": "main"})
	require.NoError(t, err)
	assert.Equal(t, "0123456 Fix trim ordering (Alice, 2025-03-01)\n", out)
}

func TestGitHubAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/nugget/missing/pulls", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})

	_, err := toolByName(t, newTestGitHub(t, mux), "github_list_pull_requests")(context.Background(),
		map[string]any{"repo": "missing"})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "forge: list prs:"), err.Error())
}
