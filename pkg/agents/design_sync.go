package agents

import (
	"context"
	"fmt"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

// DesignSync reacts to Figma design changes: compares the change with
// open work, generates implementation notes, and files a GitLab issue
// carrying the steps.
type DesignSync struct {
	deps *Deps
}

var _ agent.Handler = (*DesignSync)(nil)

func NewDesignSync(deps *Deps) *DesignSync {
	deps.normalize()
	return &DesignSync{deps: deps}
}

func (d *DesignSync) Name() string { return "design_sync" }

func (d *DesignSync) Description() string {
	return "Syncs Figma design changes with tickets, generates technical implementation notes, and creates GitLab issues"
}

func (d *DesignSync) SubscribedEvents() []events.Type {
	return []events.Type{events.FigmaDesignChanged}
}

func (d *DesignSync) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"create_gitlab_issues": {
			Type:        agent.FieldBool,
			Description: "File a GitLab issue with the implementation steps",
			Default:     true,
		},
	}
}

func (d *DesignSync) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	fileKey := str(ev.Data, "file_key")
	d.deps.Log.Info("design change detected", "agent", d.Name(), "file_key", fileKey)

	designData, _ := ev.Data["demo_design_data"].(map[string]any)
	if designData == nil {
		designData = map[string]any{
			"file_key": fileKey,
			"name":     str(ev.Data, "file_name"),
		}
	}
	ticketData := map[string]any{"ticket_key": str(ev.Data, "ticket_key")}

	notes := d.deps.Analyzer.GenerateImplementationNotes(ctx, designData, ticketData)

	out := []events.Event{
		events.Followup(ev, events.DesignCompared, d.Name(), map[string]any{
			"file_key":        fileKey,
			"alignment":       notes.DesignTicketAlignment,
			"component_specs": notes.ComponentSpecs,
		}),
		events.Followup(ev, events.ImplementationNotesGenerated, d.Name(), map[string]any{
			"file_key":             fileKey,
			"notes":                notes,
			"ticket_key":           str(ev.Data, "ticket_key"),
			"implementation_steps": notes.ImplementationSteps,
		}),
	}

	if enabled, _ := cfg["create_gitlab_issues"].(bool); enabled {
		d.syncGitLabIssue(ctx, ev.ProjectID, fileKey, notes)
	}

	out = append(out, events.Followup(ev, events.SlackNotification, d.Name(), map[string]any{
		"message": fmt.Sprintf(
			"*Design Update* - Figma file `%s`\nAlignment with tickets: %s\nComponent specs generated: %d",
			fileKey, notes.DesignTicketAlignment, len(notes.ComponentSpecs)),
	}))
	return out, nil
}

func (d *DesignSync) syncGitLabIssue(ctx context.Context, projectID int64, fileKey string, notes ImplementationNotes) {
	if len(notes.ImplementationSteps) == 0 {
		return
	}
	gl, glID, ok := d.deps.gitlabFor(projectID)
	if !ok {
		return
	}

	desc := fmt.Sprintf("**From Figma:** %s\n\n## Implementation Steps\n", fileKey)
	for i, step := range notes.ImplementationSteps {
		desc += fmt.Sprintf("%d. %s\n", i+1, step)
	}
	if len(notes.ComponentSpecs) > 0 {
		desc += "\n## Component Specs\n"
		specs := notes.ComponentSpecs
		if len(specs) > 5 {
			specs = specs[:5]
		}
		for _, spec := range specs {
			desc += fmt.Sprintf("\n### %s\n", spec.Name)
			if spec.CSSChanges != "" {
				desc += "CSS: " + spec.CSSChanges + "\n"
			}
			if spec.Props != "" {
				desc += "Props: " + spec.Props + "\n"
			}
		}
	}

	title := "Design Implementation: " + fileKey
	if err := gl.CreateIssue(ctx, glID, title, desc, []string{"design-sync", "auto-generated"}); err != nil {
		d.deps.Log.Error("create design issue failed", "agent", d.Name(), "file_key", fileKey, "error", err)
	}
}
