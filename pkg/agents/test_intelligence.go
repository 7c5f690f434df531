package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

// TestIntelligence proposes tests for a change: unit and integration
// suggestions, edge cases, and coverage gaps, posted back on the MR.
type TestIntelligence struct {
	deps *Deps
}

var _ agent.Handler = (*TestIntelligence)(nil)

func NewTestIntelligence(deps *Deps) *TestIntelligence {
	deps.normalize()
	return &TestIntelligence{deps: deps}
}

func (t *TestIntelligence) Name() string { return "test_intelligence" }

func (t *TestIntelligence) Description() string {
	return "Analyzes code changes to generate test suggestions, identify coverage gaps, and suggest edge cases"
}

func (t *TestIntelligence) SubscribedEvents() []events.Type {
	return []events.Type{events.PROpened, events.CodePushed, events.SecurityScanComplete}
}

func (t *TestIntelligence) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"post_mr_comment": {
			Type:        agent.FieldBool,
			Description: "Post test suggestions as an MR comment",
			Default:     true,
		},
	}
}

func (t *TestIntelligence) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	mrIID := asInt64(ev.Data["mr_iid"])
	diff := str(ev.Data, "diff")
	files := strSlice(ev.Data["files"])
	t.deps.Log.Info("test analysis", "agent", t.Name(), "mr_iid", mrIID, "project_id", ev.ProjectID)

	if diff == "" {
		t.deps.Log.Info("no diff available for test analysis", "agent", t.Name())
		return nil, nil
	}

	suggestions := t.deps.Analyzer.GenerateTestSuggestions(ctx, diff, files)

	if post, _ := cfg["post_mr_comment"].(bool); post && mrIID != 0 {
		t.postSuggestions(ctx, ev.ProjectID, mrIID, suggestions)
	}

	return []events.Event{
		events.Followup(ev, events.TestSuggestionsGenerated, t.Name(), map[string]any{
			"mr_iid":                  mrIID,
			"unit_tests_count":        len(suggestions.UnitTests),
			"integration_tests_count": len(suggestions.IntegrationTests),
			"edge_cases":              suggestions.EdgeCases,
			"suggestions":             suggestions,
		}),
		events.Followup(ev, events.TestReportCreated, t.Name(), map[string]any{
			"mr_iid":          mrIID,
			"total_suggested": len(suggestions.UnitTests) + len(suggestions.IntegrationTests),
			"coverage_gaps":   suggestions.CoverageGaps,
			"priority_order":  suggestions.PriorityOrder,
		}),
	}, nil
}

func (t *TestIntelligence) postSuggestions(ctx context.Context, projectID, mrIID int64, s TestSuggestions) {
	gl, glID, ok := t.deps.gitlabFor(projectID)
	if !ok {
		return
	}

	var b strings.Builder
	b.WriteString("## Test Suggestions\n\n")
	if len(s.UnitTests) > 0 {
		b.WriteString("### Unit Tests\n")
		for _, tc := range s.UnitTests {
			fmt.Fprintf(&b, "- **%s**: %s\n", tc.Name, tc.Description)
		}
		b.WriteString("\n")
	}
	if len(s.IntegrationTests) > 0 {
		b.WriteString("### Integration Tests\n")
		for _, tc := range s.IntegrationTests {
			fmt.Fprintf(&b, "- **%s**: %s\n", tc.Name, tc.Description)
		}
		b.WriteString("\n")
	}
	if len(s.EdgeCases) > 0 {
		b.WriteString("### Edge Cases\n")
		for _, ec := range s.EdgeCases {
			fmt.Fprintf(&b, "- %s\n", ec)
		}
	}

	if err := gl.AddMergeRequestNote(ctx, glID, mrIID, b.String()); err != nil {
		t.deps.Log.Error("post test suggestions failed", "agent", t.Name(), "mr_iid", mrIID, "error", err)
	}
}
