package agents

import (
	"context"
	"fmt"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

const branchSlugLen = 40

// CodeOrchestration turns analyzed requirements and assigned issues
// into working branches: it creates the branch, scaffolds boilerplate
// files, and opens a templated merge request.
type CodeOrchestration struct {
	deps *Deps
}

var _ agent.Handler = (*CodeOrchestration)(nil)

func NewCodeOrchestration(deps *Deps) *CodeOrchestration {
	deps.normalize()
	return &CodeOrchestration{deps: deps}
}

func (c *CodeOrchestration) Name() string { return "code_orchestration" }

func (c *CodeOrchestration) Description() string {
	return "Creates feature branches, generates boilerplate code, PR templates, and auto-assigns reviewers"
}

func (c *CodeOrchestration) SubscribedEvents() []events.Type {
	return []events.Type{
		events.IssueAssigned,
		events.RequirementsAnalyzed,
		events.ImplementationNotesGenerated,
	}
}

func (c *CodeOrchestration) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"default_ref": {
			Type:        agent.FieldString,
			Description: "Base ref for new feature branches",
			Default:     "main",
		},
	}
}

func (c *CodeOrchestration) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	ref, _ := cfg["default_ref"].(string)
	if ref == "" {
		ref = "main"
	}
	switch ev.Type {
	case events.RequirementsAnalyzed:
		return c.handleRequirements(ctx, ev, ref)
	case events.IssueAssigned:
		return c.handleIssueAssigned(ctx, ev, ref)
	case events.ImplementationNotesGenerated:
		return c.handleImplNotes(ctx, ev, ref)
	}
	return nil, nil
}

func (c *CodeOrchestration) handleRequirements(ctx context.Context, ev events.Event, ref string) ([]events.Event, error) {
	ticketKey := str(ev.Data, "ticket_key")
	if ticketKey == "" {
		ticketKey = "unknown"
	}
	analysis, _ := ev.Data["analysis"].(map[string]any)
	branch := fmt.Sprintf("feature/%s-%s", ticketKey, slugOrDefault(str(analysis, "summary"), "task"))
	c.deps.Log.Info("creating branch", "agent", c.Name(), "branch", branch)

	gl, glID, connected := c.deps.gitlabFor(ev.ProjectID)
	branchCreated := false
	if connected {
		if err := gl.CreateBranch(ctx, glID, branch, ref); err != nil {
			c.deps.Log.Error("create branch failed", "agent", c.Name(), "branch", branch, "error", err)
		} else {
			branchCreated = true
		}
	}

	// The branch event always goes out, with or without GitLab: it
	// records what the agent did or would have done.
	out := []events.Event{
		events.Followup(ev, events.BranchCreated, c.Name(), map[string]any{
			"branch":     branch,
			"ticket_key": ticketKey,
		}),
	}

	boilerplate := c.deps.Analyzer.GenerateBoilerplate(ctx, analysis, branch)
	if len(boilerplate.Files) > 0 {
		if connected && branchCreated {
			files := boilerplate.Files
			if len(files) > 10 {
				files = files[:10]
			}
			for _, f := range files {
				msg := "scaffold: " + f.Description
				if err := gl.CreateFile(ctx, glID, f.Path, f.Content, branch, msg); err != nil {
					c.deps.Log.Warn("create scaffold file failed", "agent", c.Name(), "path", f.Path, "error", err)
				}
			}
		}
		paths := make([]string, len(boilerplate.Files))
		for i, f := range boilerplate.Files {
			paths[i] = f.Path
		}
		out = append(out, events.Followup(ev, events.BoilerplateGenerated, c.Name(), map[string]any{
			"branch": branch,
			"files":  paths,
		}))
	}

	var mrIID int64
	if connected && branchCreated {
		title := fmt.Sprintf("feat: %s - %s", ticketKey, strOrDefault(str(analysis, "summary"), "Implementation"))
		desc := boilerplate.PRDescription
		if desc == "" {
			desc = "Auto-generated PR"
		}
		mr, err := gl.CreateMergeRequest(ctx, glID, branch, ref, title, desc)
		if err != nil {
			c.deps.Log.Error("create merge request failed", "agent", c.Name(), "branch", branch, "error", err)
		} else {
			mrIID = asInt64(mr["iid"])
		}
	}
	out = append(out, events.Followup(ev, events.PRTemplateCreated, c.Name(), map[string]any{
		"mr_iid":     mrIID,
		"branch":     branch,
		"ticket_key": ticketKey,
	}))
	return out, nil
}

func (c *CodeOrchestration) handleIssueAssigned(ctx context.Context, ev events.Event, ref string) ([]events.Event, error) {
	issueID := str(ev.Data, "issue_id")
	branch := fmt.Sprintf("feature/%s-%s", issueID, slugOrDefault(str(ev.Data, "title"), "task"))

	if gl, glID, ok := c.deps.gitlabFor(ev.ProjectID); ok {
		if err := gl.CreateBranch(ctx, glID, branch, ref); err != nil {
			c.deps.Log.Error("create branch failed", "agent", c.Name(), "branch", branch, "error", err)
		}
	}

	out := []events.Event{
		events.Followup(ev, events.BranchCreated, c.Name(), map[string]any{
			"branch":   branch,
			"issue_id": issueID,
		}),
	}

	if analysis, ok := ev.Data["analysis"].(map[string]any); ok && len(analysis) > 0 {
		boilerplate := c.deps.Analyzer.GenerateBoilerplate(ctx, analysis, branch)
		if len(boilerplate.Files) > 0 {
			paths := make([]string, len(boilerplate.Files))
			for i, f := range boilerplate.Files {
				paths[i] = f.Path
			}
			out = append(out, events.Followup(ev, events.BoilerplateGenerated, c.Name(), map[string]any{
				"branch": branch,
				"files":  paths,
			}))
		}
	}
	return out, nil
}

func (c *CodeOrchestration) handleImplNotes(ctx context.Context, ev events.Event, ref string) ([]events.Event, error) {
	ticketKey := strOrDefault(str(ev.Data, "ticket_key"), "design")
	branch := fmt.Sprintf("feature/%s-design-implementation", ticketKey)

	if gl, glID, ok := c.deps.gitlabFor(ev.ProjectID); ok {
		if err := gl.CreateBranch(ctx, glID, branch, ref); err != nil {
			// An existing branch is fine; the work continues on it.
			c.deps.Log.Info("branch create skipped", "agent", c.Name(), "branch", branch, "error", err)
		}
	}

	return []events.Event{
		events.Followup(ev, events.BranchCreated, c.Name(), map[string]any{
			"branch": branch,
			"source": "design_sync",
		}),
	}, nil
}

func slugOrDefault(text, def string) string {
	if s := slugify(text, branchSlugLen); s != "" {
		return s
	}
	return def
}

func strOrDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
