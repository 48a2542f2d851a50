package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/hodie/internal/tools"
)

// defaultLimit caps list results when the model does not ask for a size.
const defaultLimit = 20

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) int {
	v, _ := args[key].(float64)
	return int(v)
}

func limitArg(args map[string]any) int {
	if n := intArg(args, "limit"); n > 0 && n <= 100 {
		return n
	}
	return defaultLimit
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func repoParam() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Repository as owner/name. A bare name uses the configured default owner.",
	}
}

func limitParam() map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": "Maximum results (1-100, default 20).",
		"minimum":     1,
		"maximum":     100,
	}
}

func stateParam() map[string]any {
	return map[string]any{
		"type": "string",
		"enum": []string{"open", "closed", "all"},
	}
}

// Tools returns the GitHub tool set backed by g.
func Tools(g *GitHub) []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "github_get_user",
			Description: "Get the GitHub login of the authenticated user.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Handler:     g.handleGetUser,
		},
		{
			Name:        "github_list_repos",
			Description: "List repositories for an owner, or for the authenticated user when owner is omitted. Most recently updated first.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"owner": map[string]any{"type": "string", "description": "User or organization login."},
					"limit": limitParam(),
				},
			},
			Handler: g.handleListRepos,
		},
		{
			Name:        "github_search_repos",
			Description: "Search GitHub repositories using GitHub search syntax.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Search query, e.g. 'language:go stars:>100 agent'."},
					"limit": limitParam(),
				},
				"required": []string{"query"},
			},
			Handler: g.handleSearchRepos,
		},
		{
			Name:        "github_list_issues",
			Description: "List issues in a repository. Pull requests are excluded.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  repoParam(),
					"state": stateParam(),
					"limit": limitParam(),
				},
				"required": []string{"repo"},
			},
			Handler: g.handleListIssues,
		},
		{
			Name:        "github_create_issue",
			Description: "Open a new issue in a repository.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":      repoParam(),
					"title":     map[string]any{"type": "string", "minLength": 1},
					"body":      map[string]any{"type": "string"},
					"labels":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"assignees": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"repo", "title"},
			},
			Handler: g.handleCreateIssue,
		},
		{
			Name:        "github_list_pull_requests",
			Description: "List pull requests in a repository.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  repoParam(),
					"state": stateParam(),
					"limit": limitParam(),
				},
				"required": []string{"repo"},
			},
			Handler: g.handleListPRs,
		},
		{
			Name:        "github_list_commits",
			Description: "List recent commits in a repository, optionally on a branch.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":   repoParam(),
					"branch": map[string]any{"type": "string"},
					"limit":  limitParam(),
				},
				"required": []string{"repo"},
			},
			Handler: g.handleListCommits,
		},
	}
}

func (g *GitHub) handleGetUser(ctx context.Context, _ map[string]any) (string, error) {
	login, err := g.Username(ctx)
	if err != nil {
		return "", err
	}
	return "Authenticated as " + login, nil
}

func (g *GitHub) handleListRepos(ctx context.Context, args map[string]any) (string, error) {
	repos, err := g.ListRepos(ctx, stringArg(args, "owner"), limitArg(args))
	if err != nil {
		return "", err
	}
	return formatRepos(len(repos), repos), nil
}

func (g *GitHub) handleSearchRepos(ctx context.Context, args map[string]any) (string, error) {
	total, repos, err := g.SearchRepos(ctx, stringArg(args, "query"), limitArg(args))
	if err != nil {
		return "", err
	}
	return formatRepos(total, repos), nil
}

func formatRepos(total int, repos []*Repo) string {
	if len(repos) == 0 {
		return "No repositories found."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d repositor%s:\n\n", total, plural(total, "y", "ies"))
	for _, r := range repos {
		fmt.Fprintf(&sb, "%s", r.FullName)
		if r.Private {
			sb.WriteString(" (private)")
		}
		if r.Language != "" {
			fmt.Fprintf(&sb, " [%s]", r.Language)
		}
		fmt.Fprintf(&sb, " ★%d", r.Stars)
		if r.Description != "" {
			fmt.Fprintf(&sb, ": %s", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (g *GitHub) handleListIssues(ctx context.Context, args map[string]any) (string, error) {
	issues, err := g.ListIssues(ctx, stringArg(args, "repo"), stringArg(args, "state"), limitArg(args))
	if err != nil {
		return "", err
	}
	if len(issues) == 0 {
		return "No issues found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d issue%s:\n\n", len(issues), plural(len(issues), "", "s"))
	for _, i := range issues {
		labels := ""
		if len(i.Labels) > 0 {
			labels = " [" + strings.Join(i.Labels, ", ") + "]"
		}
		fmt.Fprintf(&sb, "#%d %s (%s)%s by %s, %d comments\n",
			i.Number, i.Title, i.State, labels, i.Author, i.Comments)
	}
	return sb.String(), nil
}

func (g *GitHub) handleCreateIssue(ctx context.Context, args map[string]any) (string, error) {
	issue, err := g.CreateIssue(ctx, stringArg(args, "repo"), &Issue{
		Title:     stringArg(args, "title"),
		Body:      stringArg(args, "body"),
		Labels:    stringSliceArg(args, "labels"),
		Assignees: stringSliceArg(args, "assignees"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created issue #%d: %s\n%s", issue.Number, issue.Title, issue.URL), nil
}

func (g *GitHub) handleListPRs(ctx context.Context, args map[string]any) (string, error) {
	prs, err := g.ListPRs(ctx, stringArg(args, "repo"), stringArg(args, "state"), limitArg(args))
	if err != nil {
		return "", err
	}
	if len(prs) == 0 {
		return "No pull requests found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d pull request%s:\n\n", len(prs), plural(len(prs), "", "s"))
	for _, pr := range prs {
		draft := ""
		if pr.Draft {
			draft = " [draft]"
		}
		fmt.Fprintf(&sb, "#%d %s (%s)%s %s -> %s by %s\n",
			pr.Number, pr.Title, pr.State, draft, pr.Head, pr.Base, pr.Author)
	}
	return sb.String(), nil
}

func (g *GitHub) handleListCommits(ctx context.Context, args map[string]any) (string, error) {
	commits, err := g.ListCommits(ctx, stringArg(args, "repo"), stringArg(args, "branch"), limitArg(args))
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "No commits found.", nil
	}

	var sb strings.Builder
	for _, c := range commits {
		sha := c.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		fmt.Fprintf(&sb, "%s %s (%s, %s)\n", sha, c.Message, c.Author, c.Date.Format("2006-01-02"))
	}
	return sb.String(), nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
