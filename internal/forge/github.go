package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/hodie/internal/config"
	"github.com/nugget/hodie/internal/httpkit"
)

// rateLimitWarn is the remaining-call count below which a warning is logged.
const rateLimitWarn = 100

// GitHub wraps the go-github client with the default owner used for
// unqualified repository names.
type GitHub struct {
	client *gogithub.Client
	owner  string
	logger *slog.Logger
}

// NewGitHub creates a client authenticated with cfg.Token. A nil
// httpClient uses the shared httpkit defaults. A non-empty baseURL
// points the client at another API root.
func NewGitHub(httpClient *http.Client, cfg config.GitHubConfig, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithLogger(logger))
	}

	client := gogithub.NewClient(httpClient).WithAuthToken(cfg.Token)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: parse base url: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHub{client: client, owner: cfg.Owner, logger: logger}, nil
}

// splitRepo splits a "owner/repo" string into its two parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// resolveRepo qualifies a bare repository name with the default owner.
func (g *GitHub) resolveRepo(repo string) (string, string, error) {
	repo = strings.TrimSpace(repo)
	if repo != "" && !strings.Contains(repo, "/") && g.owner != "" {
		repo = g.owner + "/" + repo
	}
	return splitRepo(repo)
}

// checkRateLimit logs a warning when remaining API calls drop below threshold.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	if resp.Rate.Remaining < rateLimitWarn {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// Username returns the login of the authenticated user.
func (g *GitHub) Username(ctx context.Context) (string, error) {
	user, resp, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("forge: get user: %w", err)
	}
	g.checkRateLimit(resp)
	return user.GetLogin(), nil
}

// ListRepos lists repositories for owner, or for the authenticated user
// when owner is empty.
func (g *GitHub) ListRepos(ctx context.Context, owner string, limit int) ([]*Repo, error) {
	list := gogithub.ListOptions{PerPage: limit}

	var (
		results []*gogithub.Repository
		resp    *gogithub.Response
		err     error
	)
	if owner == "" {
		results, resp, err = g.client.Repositories.ListByAuthenticatedUser(ctx,
			&gogithub.RepositoryListByAuthenticatedUserOptions{Sort: "updated", ListOptions: list})
	} else {
		results, resp, err = g.client.Repositories.ListByUser(ctx, owner,
			&gogithub.RepositoryListByUserOptions{Sort: "updated", ListOptions: list})
	}
	if err != nil {
		return nil, fmt.Errorf("forge: list repos: %w", err)
	}
	g.checkRateLimit(resp)

	repos := make([]*Repo, 0, len(results))
	for _, r := range results {
		repos = append(repos, convertRepo(r))
	}
	return repos, nil
}

// SearchRepos runs a repository search query.
func (g *GitHub) SearchRepos(ctx context.Context, query string, limit int) (int, []*Repo, error) {
	result, resp, err := g.client.Search.Repositories(ctx, query, &gogithub.SearchOptions{
		ListOptions: gogithub.ListOptions{PerPage: limit},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("forge: search repos: %w", err)
	}
	g.checkRateLimit(resp)

	repos := make([]*Repo, 0, len(result.Repositories))
	for _, r := range result.Repositories {
		repos = append(repos, convertRepo(r))
	}
	return result.GetTotal(), repos, nil
}

// CreateIssue opens a new issue in the repository.
func (g *GitHub) CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error) {
	owner, name, err := g.resolveRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &gogithub.IssueRequest{
		Title: &issue.Title,
		Body:  &issue.Body,
	}
	if len(issue.Labels) > 0 {
		req.Labels = &issue.Labels
	}
	if len(issue.Assignees) > 0 {
		req.Assignees = &issue.Assignees
	}

	result, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("forge: create issue: %w", err)
	}
	g.checkRateLimit(resp)
	return convertIssue(result), nil
}

// ListIssues returns issues from a repository, excluding pull requests.
// An empty state means "open".
func (g *GitHub) ListIssues(ctx context.Context, repo, state string, limit int) ([]*Issue, error) {
	owner, name, err := g.resolveRepo(repo)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = "open"
	}

	results, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, &gogithub.IssueListByRepoOptions{
		State:       state,
		ListOptions: gogithub.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list issues: %w", err)
	}
	g.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		// skip pull requests returned by the issues endpoint
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(r))
	}
	return issues, nil
}

// ListPRs returns pull requests from a repository. An empty state
// means "open".
func (g *GitHub) ListPRs(ctx context.Context, repo, state string, limit int) ([]*PullRequest, error) {
	owner, name, err := g.resolveRepo(repo)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = "open"
	}

	results, resp, err := g.client.PullRequests.List(ctx, owner, name, &gogithub.PullRequestListOptions{
		State:       state,
		ListOptions: gogithub.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list prs: %w", err)
	}
	g.checkRateLimit(resp)

	prs := make([]*PullRequest, 0, len(results))
	for _, r := range results {
		prs = append(prs, convertPR(r))
	}
	return prs, nil
}

// ListCommits returns recent commits, optionally on a branch.
func (g *GitHub) ListCommits(ctx context.Context, repo, branch string, limit int) ([]*Commit, error) {
	owner, name, err := g.resolveRepo(repo)
	if err != nil {
		return nil, err
	}

	results, resp, err := g.client.Repositories.ListCommits(ctx, owner, name, &gogithub.CommitsListOptions{
		SHA:         branch,
		ListOptions: gogithub.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list commits: %w", err)
	}
	g.checkRateLimit(resp)

	commits := make([]*Commit, 0, len(results))
	for _, c := range results {
		commits = append(commits, convertCommit(c))
	}
	return commits, nil
}

func convertRepo(r *gogithub.Repository) *Repo {
	return &Repo{
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		Language:    r.GetLanguage(),
		Stars:       r.GetStargazersCount(),
		Private:     r.GetPrivate(),
		URL:         r.GetHTMLURL(),
		UpdatedAt:   r.GetUpdatedAt().Time,
	}
}

// convertIssue maps a go-github Issue to our Issue type.
func convertIssue(i *gogithub.Issue) *Issue {
	if i == nil {
		return nil
	}
	out := &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		Author:    i.GetUser().GetLogin(),
		CreatedAt: i.GetCreatedAt().Time,
		URL:       i.GetHTMLURL(),
		Comments:  i.GetComments(),
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	for _, a := range i.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	return out
}

func convertPR(pr *gogithub.PullRequest) *PullRequest {
	return &PullRequest{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		State:  pr.GetState(),
		Author: pr.GetUser().GetLogin(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
		Draft:  pr.GetDraft(),
		URL:    pr.GetHTMLURL(),
	}
}

func convertCommit(c *gogithub.RepositoryCommit) *Commit {
	msg, _, _ := strings.Cut(c.GetCommit().GetMessage(), "\n")
	author := c.GetAuthor().GetLogin()
	if author == "" {
		author = c.GetCommit().GetAuthor().GetName()
	}
	return &Commit{
		SHA:     c.GetSHA(),
		Message: msg,
		Author:  author,
		Date:    c.GetCommit().GetAuthor().GetDate().Time,
	}
}
