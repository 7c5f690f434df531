package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// GitLab is a client for the GitLab REST API v4.
type GitLab struct {
	apiURL  string
	headers map[string]string
}

var _ Pinger = (*GitLab)(nil)

// NewGitLab builds a client. baseURL may be empty for gitlab.com.
func NewGitLab(baseURL, token string) *GitLab {
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}
	return &GitLab{
		apiURL:  strings.TrimRight(baseURL, "/") + "/api/v4",
		headers: map[string]string{"PRIVATE-TOKEN": token},
	}
}

// TestConnection fetches the token's own user record.
func (g *GitLab) TestConnection(ctx context.Context) error {
	var user map[string]any
	if err := doJSON(ctx, "GET", g.apiURL+"/user", g.headers, nil, &user); err != nil {
		return fmt.Errorf("gitlab connection test: %w", err)
	}
	return nil
}

// CreateIssue opens an issue in the given GitLab project.
func (g *GitLab) CreateIssue(ctx context.Context, projectID int64, title, description string, labels []string) error {
	body := map[string]any{"title": title, "description": description}
	if len(labels) > 0 {
		body["labels"] = strings.Join(labels, ",")
	}
	u := fmt.Sprintf("%s/projects/%d/issues", g.apiURL, projectID)
	return doJSON(ctx, "POST", u, g.headers, body, nil)
}

// CreateBranch creates branch from ref in the given GitLab project.
func (g *GitLab) CreateBranch(ctx context.Context, projectID int64, branch, ref string) error {
	if ref == "" {
		ref = "main"
	}
	u := fmt.Sprintf("%s/projects/%d/repository/branches", g.apiURL, projectID)
	return doJSON(ctx, "POST", u, g.headers, map[string]any{"branch": branch, "ref": ref}, nil)
}

// CreateMergeRequest opens an MR from source to target.
func (g *GitLab) CreateMergeRequest(ctx context.Context, projectID int64, source, target, title, description string) (map[string]any, error) {
	if target == "" {
		target = "main"
	}
	var out map[string]any
	u := fmt.Sprintf("%s/projects/%d/merge_requests", g.apiURL, projectID)
	err := doJSON(ctx, "POST", u, g.headers, map[string]any{
		"source_branch": source,
		"target_branch": target,
		"title":         title,
		"description":   description,
	}, &out)
	return out, err
}

// AddMergeRequestNote comments on an MR.
func (g *GitLab) AddMergeRequestNote(ctx context.Context, projectID int64, mrIID int64, body string) error {
	u := fmt.Sprintf("%s/projects/%d/merge_requests/%d/notes", g.apiURL, projectID, mrIID)
	return doJSON(ctx, "POST", u, g.headers, map[string]any{"body": body}, nil)
}

// MergeMergeRequest accepts an MR.
func (g *GitLab) MergeMergeRequest(ctx context.Context, projectID int64, mrIID int64) error {
	u := fmt.Sprintf("%s/projects/%d/merge_requests/%d/merge", g.apiURL, projectID, mrIID)
	return doJSON(ctx, "PUT", u, g.headers, nil, nil)
}

// CreateFile commits a new file to branch.
func (g *GitLab) CreateFile(ctx context.Context, projectID int64, path, content, branch, message string) error {
	u := fmt.Sprintf("%s/projects/%d/repository/files/%s", g.apiURL, projectID, url.PathEscape(path))
	return doJSON(ctx, "POST", u, g.headers, map[string]any{
		"branch":         branch,
		"content":        content,
		"commit_message": message,
	}, nil)
}

// ListProjectMembers returns all members of the project, including
// inherited ones.
func (g *GitLab) ListProjectMembers(ctx context.Context, projectID int64) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/projects/%d/members/all?per_page=100", g.apiURL, projectID)
	var out []map[string]any
	err := doJSON(ctx, "GET", u, g.headers, nil, &out)
	return out, err
}

// TriggerPipeline starts a pipeline on ref, with optional CI variables.
func (g *GitLab) TriggerPipeline(ctx context.Context, projectID int64, ref string, variables map[string]string) (map[string]any, error) {
	if ref == "" {
		ref = "main"
	}
	body := map[string]any{"ref": ref}
	if len(variables) > 0 {
		vars := make([]map[string]string, 0, len(variables))
		for k, v := range variables {
			vars = append(vars, map[string]string{"key": k, "value": v})
		}
		body["variables"] = vars
	}
	var out map[string]any
	u := fmt.Sprintf("%s/projects/%d/pipeline", g.apiURL, projectID)
	err := doJSON(ctx, "POST", u, g.headers, body, &out)
	return out, err
}

// ListPipelines returns recent pipelines on ref, newest first.
func (g *GitLab) ListPipelines(ctx context.Context, projectID int64, ref string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}
	u := fmt.Sprintf("%s/projects/%d/pipelines?per_page=%d", g.apiURL, projectID, limit)
	if ref != "" {
		u += "&ref=" + url.QueryEscape(ref)
	}
	var out []map[string]any
	err := doJSON(ctx, "GET", u, g.headers, nil, &out)
	return out, err
}

// ListCommits returns recent commits, newest first.
func (g *GitLab) ListCommits(ctx context.Context, projectID int64, refName string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 20
	}
	u := fmt.Sprintf("%s/projects/%d/repository/commits?per_page=%d", g.apiURL, projectID, limit)
	if refName != "" {
		u += "&ref_name=" + url.QueryEscape(refName)
	}
	var out []map[string]any
	err := doJSON(ctx, "GET", u, g.headers, nil, &out)
	return out, err
}
