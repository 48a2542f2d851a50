// Package forge exposes a small set of GitHub tools to the agent:
// identity, repository listing and search, issues, pull requests and
// commits.
package forge

import "time"

// Repo is a repository summary.
type Repo struct {
	FullName    string
	Description string
	Language    string
	Stars       int
	Private     bool
	URL         string
	UpdatedAt   time.Time
}

// Issue represents a single issue.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	Assignees []string
	Author    string
	CreatedAt time.Time
	URL       string
	Comments  int
}

// PullRequest is a pull request summary.
type PullRequest struct {
	Number int
	Title  string
	State  string
	Author string
	Head   string
	Base   string
	Draft  bool
	URL    string
}

// Commit is a commit summary. Message holds the first line only.
type Commit struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
}
