// Package agents holds the fleet roster: nine handlers reacting to
// jira, gitlab and figma events, chaining into each other through the
// bus. External side effects (GitLab, Slack) are best-effort; the
// events an agent emits describe what it did or would have done, so
// pipelines stay observable without live connections.
package agents

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shipit-ai/fleet/pkg/adapters"
	"github.com/shipit-ai/fleet/pkg/metrics"
	"github.com/shipit-ai/fleet/pkg/store"
)

// SlackSender posts notification text; satisfied by *adapters.Slack.
type SlackSender interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
}

// GitLabClient is the GitLab surface the agents use; satisfied by
// *adapters.GitLab.
type GitLabClient interface {
	CreateIssue(ctx context.Context, projectID int64, title, description string, labels []string) error
	CreateBranch(ctx context.Context, projectID int64, branch, ref string) error
	CreateMergeRequest(ctx context.Context, projectID int64, source, target, title, description string) (map[string]any, error)
	AddMergeRequestNote(ctx context.Context, projectID int64, mrIID int64, body string) error
	MergeMergeRequest(ctx context.Context, projectID int64, mrIID int64) error
	CreateFile(ctx context.Context, projectID int64, path, content, branch, message string) error
	ListProjectMembers(ctx context.Context, projectID int64) ([]map[string]any, error)
	ListCommits(ctx context.Context, projectID int64, refName string, limit int) ([]map[string]any, error)
	TriggerPipeline(ctx context.Context, projectID int64, ref string, variables map[string]string) (map[string]any, error)
	ListPipelines(ctx context.Context, projectID int64, ref string, limit int) ([]map[string]any, error)
}

// SentryClient reads error issues; satisfied by *adapters.Sentry.
type SentryClient interface {
	ListIssues(ctx context.Context, orgSlug, projectSlug, query string, limit int) ([]map[string]any, error)
}

// DatadogClient reads monitor state; satisfied by *adapters.Datadog.
type DatadogClient interface {
	ListMonitors(ctx context.Context, tags string) ([]map[string]any, error)
}

// Deps carries the shared collaborators injected into every agent. The
// factory fields default to the real adapters and exist for tests.
type Deps struct {
	Log         *slog.Logger
	Analyzer    *Analyzer
	Connections store.ConnectionStore
	Metrics     *metrics.Store
	History     *metrics.History

	NewSlack   func(token string) SlackSender
	NewGitLab  func(baseURL, token string) GitLabClient
	NewSentry  func(token, baseURL string) SentryClient
	NewDatadog func(apiKey, appKey, site string) DatadogClient
}

func (d *Deps) normalize() {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Analyzer == nil {
		d.Analyzer = NewAnalyzer(nil, d.Log)
	}
	if d.NewSlack == nil {
		d.NewSlack = func(token string) SlackSender { return adapters.NewSlack(token) }
	}
	if d.NewGitLab == nil {
		d.NewGitLab = func(baseURL, token string) GitLabClient { return adapters.NewGitLab(baseURL, token) }
	}
	if d.NewSentry == nil {
		d.NewSentry = func(token, baseURL string) SentryClient { return adapters.NewSentry(token, baseURL) }
	}
	if d.NewDatadog == nil {
		d.NewDatadog = func(apiKey, appKey, site string) DatadogClient { return adapters.NewDatadog(apiKey, appKey, site) }
	}
}

// connection fetches an enabled service connection, or ok=false.
func (d *Deps) connection(projectID int64, service string) (store.ServiceConnection, bool) {
	if d.Connections == nil || projectID == 0 {
		return store.ServiceConnection{}, false
	}
	conn, err := d.Connections.GetConnection(projectID, service)
	if err != nil || !conn.Enabled {
		return store.ServiceConnection{}, false
	}
	return conn, true
}

// gitlabFor resolves the project's GitLab connection into a client and
// the remote GitLab project id. ok is false when no usable connection
// exists; callers then skip the side effect and still emit events.
func (d *Deps) gitlabFor(projectID int64) (GitLabClient, int64, bool) {
	conn, ok := d.connection(projectID, store.ServiceGitLab)
	if !ok {
		return nil, 0, false
	}
	glID := asInt64(conn.Config["project_id"])
	if glID == 0 {
		return nil, 0, false
	}
	return d.NewGitLab(conn.BaseURL, conn.APIToken), glID, true
}

// asInt64 coerces JSON-decoded numbers (and strings of digits) to an
// id.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		for _, r := range n {
			if r < '0' || r > '9' {
				return 0
			}
			out = out*10 + int64(r-'0')
		}
		return out
	}
	return 0
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns free text into a branch-name fragment.
func slugify(text string, maxLen int) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	return slug
}
