package agents

import (
	"context"
	"fmt"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

// ProductIntelligence reads newly created or updated tickets, extracts
// requirements and stories, tags complexity, and files GitLab issues
// for the extracted stories.
type ProductIntelligence struct {
	deps *Deps
}

var _ agent.Handler = (*ProductIntelligence)(nil)

func NewProductIntelligence(deps *Deps) *ProductIntelligence {
	deps.normalize()
	return &ProductIntelligence{deps: deps}
}

func (p *ProductIntelligence) Name() string { return "product_intelligence" }

func (p *ProductIntelligence) Description() string {
	return "Analyzes Jira tickets to extract requirements, stories, acceptance criteria, and complexity estimates"
}

func (p *ProductIntelligence) SubscribedEvents() []events.Type {
	return []events.Type{events.JiraTicketCreated, events.JiraTicketUpdated}
}

func (p *ProductIntelligence) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"create_gitlab_issues": {
			Type:        agent.FieldBool,
			Description: "File a GitLab issue per extracted story",
			Default:     true,
		},
	}
}

func (p *ProductIntelligence) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	ticket := ev.Data
	ticketKey := str(ticket, "key")
	p.deps.Log.Info("analyzing ticket", "agent", p.Name(), "ticket", ticketKey)

	analysis := p.deps.Analyzer.AnalyzeRequirements(ctx, ticket)

	out := []events.Event{
		events.Followup(ev, events.RequirementsAnalyzed, p.Name(), map[string]any{
			"ticket_key": ticketKey,
			"analysis":   analysis,
			"stories":    analysis.Stories,
		}),
		events.Followup(ev, events.ComplexityTagged, p.Name(), map[string]any{
			"ticket_key":             ticketKey,
			"complexity":             analysis.Complexity,
			"estimated_effort_hours": analysis.EstimatedEffortHours,
			"tags":                   analysis.Tags,
		}),
	}
	if len(analysis.Stories) > 0 {
		out = append(out, events.Followup(ev, events.StoriesExtracted, p.Name(), map[string]any{
			"ticket_key": ticketKey,
			"stories":    analysis.Stories,
		}))
	}

	if enabled, _ := cfg["create_gitlab_issues"].(bool); enabled {
		p.createIssues(ctx, ev.ProjectID, ticketKey, analysis.Stories)
	}

	out = append(out, events.Followup(ev, events.SlackNotification, p.Name(), map[string]any{
		"message": fmt.Sprintf(
			"*Requirements Analyzed* for `%s`\nComplexity: %s | Effort: %.0fh | Stories: %d",
			ticketKey, analysis.Complexity, analysis.EstimatedEffortHours, len(analysis.Stories)),
	}))
	return out, nil
}

func (p *ProductIntelligence) createIssues(ctx context.Context, projectID int64, ticketKey string, stories []Story) {
	if len(stories) == 0 {
		return
	}
	gl, glID, ok := p.deps.gitlabFor(projectID)
	if !ok {
		return
	}
	if len(stories) > 5 {
		stories = stories[:5]
	}
	for _, story := range stories {
		title := story.Title
		if title == "" {
			title = "Untitled"
		}
		desc := fmt.Sprintf("**From Jira:** %s\n\n%s\n\n**Acceptance Criteria:**\n%s",
			ticketKey, story.Description, story.AcceptanceCriteria)
		if err := gl.CreateIssue(ctx, glID, title, desc, []string{"auto-generated", "from-jira"}); err != nil {
			p.deps.Log.Error("create gitlab issue failed", "agent", p.Name(), "title", title, "error", err)
		}
	}
}
