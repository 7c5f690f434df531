package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

const defaultReviewerCount = 2

type mrState struct {
	securityPassed    bool
	testsPassed       bool
	autoMergeEligible bool
	openedAt          time.Time
}

// ReviewCoordination assigns reviewers by expertise, tracks each MR's
// readiness (security scan, test report), and auto-merges eligible MRs
// once every gate passes.
type ReviewCoordination struct {
	deps *Deps

	mu  sync.Mutex
	mrs map[string]*mrState
}

var _ agent.Handler = (*ReviewCoordination)(nil)

func NewReviewCoordination(deps *Deps) *ReviewCoordination {
	deps.normalize()
	return &ReviewCoordination{deps: deps, mrs: make(map[string]*mrState)}
}

func (r *ReviewCoordination) Name() string { return "review_coordination" }

func (r *ReviewCoordination) Description() string {
	return "Coordinates code reviews: assigns reviewers based on expertise, tracks readiness, and auto-merges approved PRs"
}

func (r *ReviewCoordination) SubscribedEvents() []events.Type {
	return []events.Type{
		events.PRReadyForReview,
		events.PROpened,
		events.TestReportCreated,
		events.SecurityScanComplete,
	}
}

func (r *ReviewCoordination) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"auto_merge": {
			Type:        agent.FieldBool,
			Description: "Merge eligible MRs automatically once security and tests pass",
			Default:     false,
		},
		"min_reviewers": {
			Type:        agent.FieldNumber,
			Description: "Number of reviewers to assign",
			Default:     float64(defaultReviewerCount),
		},
	}
}

func mrKey(projectID, mrIID int64) string {
	return fmt.Sprintf("%d:%d", projectID, mrIID)
}

func (r *ReviewCoordination) state(key string) *mrState {
	st, ok := r.mrs[key]
	if !ok {
		st = &mrState{}
		r.mrs[key] = st
	}
	return st
}

func (r *ReviewCoordination) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	switch ev.Type {
	case events.PRReadyForReview, events.PROpened:
		return r.handlePROpened(ctx, ev, cfg)
	case events.SecurityScanComplete:
		return r.onSecurityComplete(ctx, ev, cfg)
	case events.TestReportCreated:
		return r.onTestsComplete(ctx, ev, cfg)
	}
	return nil, nil
}

func (r *ReviewCoordination) handlePROpened(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	mrIID := asInt64(ev.Data["mr_iid"])
	diff := str(ev.Data, "diff")
	fileCount := len(strSlice(ev.Data["files"]))
	r.deps.Log.Info("review coordination", "agent", r.Name(), "mr_iid", mrIID)

	analysis := r.deps.Analyzer.AnalyzeReviewComplexity(ctx, diff, fileCount)

	r.mu.Lock()
	st := r.state(mrKey(ev.ProjectID, mrIID))
	st.openedAt = time.Now().UTC()
	st.autoMergeEligible = analysis.AutoMergeEligible
	r.mu.Unlock()

	reviewers := r.assignReviewers(ctx, ev.ProjectID, analysis.RecommendedExpertise, cfg)

	out := []events.Event{
		events.Followup(ev, events.ReviewersAssigned, r.Name(), map[string]any{
			"mr_iid":                   mrIID,
			"reviewers":                reviewers,
			"complexity":               analysis.Complexity,
			"estimated_review_minutes": analysis.EstimatedReviewMinutes,
			"risk_areas":               analysis.RiskAreas,
			"summary":                  analysis.Summary,
			"auto_merge_eligible":      analysis.AutoMergeEligible,
		}),
	}

	if mrIID != 0 {
		r.postReviewSummary(ctx, ev.ProjectID, mrIID, analysis)
	}

	risks := "none"
	if len(analysis.RiskAreas) > 0 {
		risks = strings.Join(analysis.RiskAreas, ", ")
	}
	out = append(out, events.Followup(ev, events.SlackNotification, r.Name(), map[string]any{
		"message": fmt.Sprintf(
			"*Review Needed* - MR !%d\nComplexity: %s | Est. time: %.0fmin\nRisk areas: %s",
			mrIID, analysis.Complexity, analysis.EstimatedReviewMinutes, risks),
	}))
	return out, nil
}

func (r *ReviewCoordination) onSecurityComplete(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	mrIID := asInt64(ev.Data["mr_iid"])
	if mrIID == 0 || ev.ProjectID == 0 {
		return nil, nil
	}
	passed, _ := ev.Data["passed"].(bool)

	r.mu.Lock()
	r.state(mrKey(ev.ProjectID, mrIID)).securityPassed = passed
	r.mu.Unlock()

	if !passed {
		r.deps.Log.Info("security scan failed, auto-merge blocked", "agent", r.Name(), "mr_iid", mrIID)
		return nil, nil
	}
	return r.tryAutoMerge(ctx, ev, mrIID, cfg)
}

func (r *ReviewCoordination) onTestsComplete(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	mrIID := asInt64(ev.Data["mr_iid"])
	if mrIID == 0 || ev.ProjectID == 0 {
		return nil, nil
	}

	// A test report counts as tests passing.
	r.mu.Lock()
	r.state(mrKey(ev.ProjectID, mrIID)).testsPassed = true
	r.mu.Unlock()

	return r.tryAutoMerge(ctx, ev, mrIID, cfg)
}

func (r *ReviewCoordination) tryAutoMerge(ctx context.Context, ev events.Event, mrIID int64, cfg agent.Config) ([]events.Event, error) {
	if enabled, _ := cfg["auto_merge"].(bool); !enabled {
		return nil, nil
	}

	key := mrKey(ev.ProjectID, mrIID)
	r.mu.Lock()
	st := r.state(key)
	ready := st.autoMergeEligible && st.securityPassed && st.testsPassed
	r.mu.Unlock()
	if !ready {
		return nil, nil
	}

	gl, glID, ok := r.deps.gitlabFor(ev.ProjectID)
	if !ok {
		r.deps.Log.Error("no gitlab connection for auto-merge", "agent", r.Name(), "mr_iid", mrIID)
		return nil, nil
	}
	if err := gl.MergeMergeRequest(ctx, glID, mrIID); err != nil {
		return nil, fmt.Errorf("auto-merge mr %d: %w", mrIID, err)
	}

	r.mu.Lock()
	delete(r.mrs, key)
	r.mu.Unlock()
	r.deps.Log.Info("auto-merged", "agent", r.Name(), "mr_iid", mrIID)

	return []events.Event{
		events.Followup(ev, events.PRAutoMerged, r.Name(), map[string]any{
			"mr_iid":    mrIID,
			"merged_by": "auto-merge",
		}),
		events.Followup(ev, events.SlackNotification, r.Name(), map[string]any{
			"message": fmt.Sprintf("*Auto-Merged* - MR !%d\nSecurity: passed | Tests: passed | Eligible: yes", mrIID),
		}),
	}, nil
}

// assignReviewers scores project members by access level and expertise
// keywords in their name or username, returning the top ids.
func (r *ReviewCoordination) assignReviewers(ctx context.Context, projectID int64, expertise []string, cfg agent.Config) []int64 {
	gl, glID, ok := r.deps.gitlabFor(projectID)
	if !ok {
		return []int64{}
	}
	members, err := gl.ListProjectMembers(ctx, glID)
	if err != nil || len(members) == 0 {
		return []int64{}
	}

	lowered := make([]string, len(expertise))
	for i, e := range expertise {
		lowered[i] = strings.ToLower(e)
	}

	type scored struct {
		score int
		id    int64
	}
	ranked := make([]scored, 0, len(members))
	for _, m := range members {
		s := scored{id: asInt64(m["id"])}
		switch access := asInt64(m["access_level"]); {
		case access >= 40: // Maintainer+
			s.score += 3
		case access >= 30: // Developer
			s.score++
		}
		name := strings.ToLower(str(m, "name"))
		username := strings.ToLower(str(m, "username"))
		for _, exp := range lowered {
			if exp != "" && (strings.Contains(username, exp) || strings.Contains(name, exp)) {
				s.score += 5
			}
		}
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	count := int(asInt64(cfg["min_reviewers"]))
	if count <= 0 {
		count = defaultReviewerCount
	}
	if count > len(ranked) {
		count = len(ranked)
	}
	out := make([]int64, 0, count)
	for _, s := range ranked[:count] {
		out = append(out, s.id)
	}
	return out
}

func (r *ReviewCoordination) postReviewSummary(ctx context.Context, projectID, mrIID int64, analysis ReviewComplexity) {
	gl, glID, ok := r.deps.gitlabFor(projectID)
	if !ok {
		return
	}

	var b strings.Builder
	b.WriteString("## Review Summary\n\n")
	fmt.Fprintf(&b, "**Complexity:** %s\n", analysis.Complexity)
	fmt.Fprintf(&b, "**Estimated Review Time:** %.0f minutes\n", analysis.EstimatedReviewMinutes)
	eligible := "No"
	if analysis.AutoMergeEligible {
		eligible = "Yes"
	}
	fmt.Fprintf(&b, "**Auto-merge Eligible:** %s\n\n", eligible)
	if len(analysis.RiskAreas) > 0 {
		b.WriteString("### Risk Areas\n")
		for _, area := range analysis.RiskAreas {
			fmt.Fprintf(&b, "- %s\n", area)
		}
		b.WriteString("\n")
	}
	if analysis.Summary != "" {
		fmt.Fprintf(&b, "### Summary\n%s\n", analysis.Summary)
	}

	if err := gl.AddMergeRequestNote(ctx, glID, mrIID, b.String()); err != nil {
		r.deps.Log.Error("post review summary failed", "agent", r.Name(), "mr_iid", mrIID, "error", err)
	}
}
