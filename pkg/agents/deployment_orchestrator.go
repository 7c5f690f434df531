package agents

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
	"github.com/shipit-ai/fleet/pkg/store"
)

const defaultErrorThreshold = 3

// DeploymentOrchestrator drives a release when code lands on main:
// readiness gate, pipeline trigger, release notes, post-deploy health
// via Sentry and Datadog, and rollback when health fails.
type DeploymentOrchestrator struct {
	deps *Deps
}

var _ agent.Handler = (*DeploymentOrchestrator)(nil)

func NewDeploymentOrchestrator(deps *Deps) *DeploymentOrchestrator {
	deps.normalize()
	return &DeploymentOrchestrator{deps: deps}
}

func (d *DeploymentOrchestrator) Name() string { return "deployment_orchestrator" }

func (d *DeploymentOrchestrator) Description() string {
	return "Orchestrates deployments: validates readiness, triggers CI/CD, generates release notes, monitors post-deploy, and handles rollbacks"
}

func (d *DeploymentOrchestrator) SubscribedEvents() []events.Type {
	return []events.Type{events.MergeToMain, events.PRAutoMerged, events.PRApproved}
}

func (d *DeploymentOrchestrator) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"error_threshold": {
			Type:        agent.FieldNumber,
			Description: "Max new Sentry issues tolerated after a deploy before rollback",
			Default:     float64(defaultErrorThreshold),
		},
	}
}

type healthReport struct {
	Healthy   bool     `json:"healthy"`
	Errors    []string `json:"errors"`
	Reason    string   `json:"reason,omitempty"`
	ChecksRun int      `json:"checks_run"`
}

func (d *DeploymentOrchestrator) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	ref := strOrDefault(str(ev.Data, "ref"), "main")
	d.deps.Log.Info("deployment triggered", "agent", d.Name(), "project_id", ev.ProjectID, "ref", ref)

	if ready, issues := d.validateReadiness(ev.ProjectID, ev.Data); !ready {
		d.deps.Log.Warn("deployment blocked", "agent", d.Name(), "issues", issues)
		return []events.Event{
			events.Followup(ev, events.DeployFailed, d.Name(), map[string]any{
				"reason": "Readiness check failed",
				"issues": issues,
			}),
		}, nil
	}

	out := []events.Event{
		events.Followup(ev, events.DeployStarted, d.Name(), map[string]any{
			"ref":           ref,
			"trigger_event": string(ev.Type),
		}),
	}

	pipeline := d.triggerPipeline(ctx, ev.ProjectID, ref)

	notes, hasNotes := d.generateReleaseNotes(ctx, ev.ProjectID, ev.Data)
	if hasNotes {
		out = append(out, events.Followup(ev, events.ReleaseNotesGenerated, d.Name(), map[string]any{
			"version_summary":  notes.VersionSummary,
			"features":         notes.Features,
			"bugfixes":         notes.Bugfixes,
			"breaking_changes": notes.BreakingChanges,
			"notes":            notes.Notes,
		}))
	}

	health := d.checkPostDeployHealth(ctx, ev.ProjectID, cfg)
	if health.Healthy {
		out = append(out,
			events.Followup(ev, events.DeployComplete, d.Name(), map[string]any{
				"ref":          ref,
				"pipeline":     pipeline,
				"health_check": health,
			}),
			events.Followup(ev, events.SlackNotification, d.Name(), map[string]any{
				"message": fmt.Sprintf(
					"*Deployment Complete* :rocket:\nRef: `%s`\nHealth: All checks passed", ref),
			}),
		)
		return out, nil
	}

	d.rollback(ctx, ev.ProjectID)
	out = append(out,
		events.Followup(ev, events.RollbackTriggered, d.Name(), map[string]any{
			"reason": strOrDefault(health.Reason, "Health check failed"),
			"errors": health.Errors,
		}),
		events.Followup(ev, events.SlackNotification, d.Name(), map[string]any{
			"message": fmt.Sprintf(
				"*Deployment Rolled Back* :warning:\nReason: %s",
				strOrDefault(health.Reason, "Health check failure")),
		}),
	)
	return out, nil
}

// validateReadiness gates the deploy on the trigger payload. Events
// carrying blocking findings (a failed security scan riding along from
// an upstream agent) abort before anything starts.
func (d *DeploymentOrchestrator) validateReadiness(projectID int64, data map[string]any) (bool, []string) {
	var issues []string
	if projectID == 0 {
		issues = append(issues, "no project associated with deploy trigger")
	}
	if passed, ok := data["security_passed"].(bool); ok && !passed {
		issues = append(issues, "security scan did not pass")
	}
	if blocked, ok := data["merge_blocked"].(bool); ok && blocked {
		issues = append(issues, "merge is blocked")
	}
	return len(issues) == 0, issues
}

func (d *DeploymentOrchestrator) triggerPipeline(ctx context.Context, projectID int64, ref string) map[string]any {
	gl, glID, ok := d.deps.gitlabFor(projectID)
	if !ok {
		return map[string]any{"status": "skipped", "reason": "no gitlab connection"}
	}
	pipeline, err := gl.TriggerPipeline(ctx, glID, ref, nil)
	if err != nil {
		d.deps.Log.Error("pipeline trigger failed", "agent", d.Name(), "error", err)
		return map[string]any{"status": "error"}
	}
	return map[string]any{"status": "triggered", "pipeline_id": pipeline["id"]}
}

// generateReleaseNotes prefers live GitLab history and falls back to
// commit messages carried in the trigger event.
func (d *DeploymentOrchestrator) generateReleaseNotes(ctx context.Context, projectID int64, data map[string]any) (ReleaseNotes, bool) {
	var commits []Commit

	if gl, glID, ok := d.deps.gitlabFor(projectID); ok {
		raw, err := gl.ListCommits(ctx, glID, "", 20)
		if err != nil {
			d.deps.Log.Error("fetch commits failed", "agent", d.Name(), "error", err)
		}
		for _, c := range raw {
			commits = append(commits, Commit{Message: str(c, "message"), Author: str(c, "author_name")})
		}
	}

	if len(commits) == 0 {
		for _, msg := range strSlice(data["commit_messages"]) {
			commits = append(commits, Commit{Message: msg, Author: "team"})
		}
	}
	if len(commits) == 0 {
		return ReleaseNotes{}, false
	}
	return d.deps.Analyzer.GenerateReleaseNotes(ctx, commits), true
}

func (d *DeploymentOrchestrator) checkPostDeployHealth(ctx context.Context, projectID int64, cfg agent.Config) healthReport {
	if projectID == 0 {
		return healthReport{Healthy: false, Errors: []string{"no project_id"}, Reason: "no project_id"}
	}

	threshold := int(asInt64(cfg["error_threshold"]))
	if threshold <= 0 {
		threshold = defaultErrorThreshold
	}

	report := healthReport{Healthy: true}

	if conn, ok := d.deps.connection(projectID, store.ServiceSentry); ok {
		report.ChecksRun++
		sentry := d.deps.NewSentry(conn.APIToken, conn.BaseURL)
		issues, err := sentry.ListIssues(ctx,
			str(conn.Config, "org_slug"), str(conn.Config, "project_slug"),
			"is:unresolved age:-1h", 25)
		switch {
		case err != nil:
			d.deps.Log.Error("sentry health check failed", "agent", d.Name(), "error", err)
			report.Errors = append(report.Errors, "sentry check failed to complete")
		case len(issues) > threshold:
			report.Errors = append(report.Errors, fmt.Sprintf(
				"%d new Sentry issues in last hour (threshold: %d)", len(issues), threshold))
		}
	}

	if conn, ok := d.deps.connection(projectID, store.ServiceDatadog); ok {
		report.ChecksRun++
		dd := d.deps.NewDatadog(conn.APIToken, str(conn.Config, "app_key"), str(conn.Config, "site"))
		monitors, err := dd.ListMonitors(ctx, str(conn.Config, "monitor_tags"))
		if err != nil {
			d.deps.Log.Error("datadog health check failed", "agent", d.Name(), "error", err)
			report.Errors = append(report.Errors, "datadog check failed to complete")
		} else {
			alerting := 0
			for _, m := range monitors {
				if str(m, "overall_state") == "Alert" {
					alerting++
				}
			}
			if alerting > 0 {
				report.Errors = append(report.Errors, fmt.Sprintf(
					"%d Datadog monitors in Alert state", alerting))
			}
		}
	}

	if len(report.Errors) > 0 {
		report.Healthy = false
		report.Reason = report.Errors[0]
	}
	return report
}

// rollback re-runs the last successful pipeline on main with ROLLBACK
// variables set.
func (d *DeploymentOrchestrator) rollback(ctx context.Context, projectID int64) {
	gl, glID, ok := d.deps.gitlabFor(projectID)
	if !ok {
		d.deps.Log.Error("no gitlab connection for rollback", "agent", d.Name(), "project_id", projectID)
		return
	}

	pipelines, err := gl.ListPipelines(ctx, glID, "main", 10)
	if err != nil {
		d.deps.Log.Error("list pipelines failed", "agent", d.Name(), "error", err)
		return
	}
	var lastSuccess int64
	for _, p := range pipelines {
		if str(p, "status") == "success" {
			lastSuccess = asInt64(p["id"])
			break
		}
	}
	if lastSuccess == 0 {
		d.deps.Log.Error("no successful pipeline on main to roll back to", "agent", d.Name())
		return
	}

	rb, err := gl.TriggerPipeline(ctx, glID, "main", map[string]string{
		"ROLLBACK":             "true",
		"ROLLBACK_PIPELINE_ID": strconv.FormatInt(lastSuccess, 10),
	})
	if err != nil {
		d.deps.Log.Error("rollback pipeline trigger failed", "agent", d.Name(), "error", err)
		return
	}
	d.deps.Log.Info("rollback pipeline triggered",
		"agent", d.Name(), "pipeline_id", rb["id"], "rolled_back_to", lastSuccess)
}
