package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/ai"
	"github.com/shipit-ai/fleet/pkg/events"
	"github.com/shipit-ai/fleet/pkg/metrics"
	"github.com/shipit-ai/fleet/pkg/store"
)

// scripted returns canned completions in order, then errors.
type scripted struct {
	replies []string
	calls   int
}

func (s *scripted) Complete(ctx context.Context, req ai.Request) (string, error) {
	if s.calls >= len(s.replies) {
		return "", errors.New("no more scripted replies")
	}
	reply := s.replies[s.calls]
	s.calls++
	return reply, nil
}

func (s *scripted) Name() string { return "scripted" }

type fakeGitLab struct {
	issues    []string
	branches  []string
	files     []string
	notes     []string
	merged    []int64
	pipelines []map[string]string

	members     []map[string]any
	commits     []map[string]any
	pipelineLog []map[string]any
	mrIID       int64

	branchErr error
	mergeErr  error
}

func (f *fakeGitLab) CreateIssue(ctx context.Context, projectID int64, title, description string, labels []string) error {
	f.issues = append(f.issues, title)
	return nil
}

func (f *fakeGitLab) CreateBranch(ctx context.Context, projectID int64, branch, ref string) error {
	if f.branchErr != nil {
		return f.branchErr
	}
	f.branches = append(f.branches, branch+"@"+ref)
	return nil
}

func (f *fakeGitLab) CreateMergeRequest(ctx context.Context, projectID int64, source, target, title, description string) (map[string]any, error) {
	iid := f.mrIID
	if iid == 0 {
		iid = 1
	}
	return map[string]any{"iid": iid}, nil
}

func (f *fakeGitLab) AddMergeRequestNote(ctx context.Context, projectID int64, mrIID int64, body string) error {
	f.notes = append(f.notes, body)
	return nil
}

func (f *fakeGitLab) MergeMergeRequest(ctx context.Context, projectID int64, mrIID int64) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, mrIID)
	return nil
}

func (f *fakeGitLab) CreateFile(ctx context.Context, projectID int64, path, content, branch, message string) error {
	f.files = append(f.files, path)
	return nil
}

func (f *fakeGitLab) ListProjectMembers(ctx context.Context, projectID int64) ([]map[string]any, error) {
	return f.members, nil
}

func (f *fakeGitLab) ListCommits(ctx context.Context, projectID int64, refName string, limit int) ([]map[string]any, error) {
	return f.commits, nil
}

func (f *fakeGitLab) TriggerPipeline(ctx context.Context, projectID int64, ref string, variables map[string]string) (map[string]any, error) {
	f.pipelines = append(f.pipelines, variables)
	return map[string]any{"id": float64(501)}, nil
}

func (f *fakeGitLab) ListPipelines(ctx context.Context, projectID int64, ref string, limit int) ([]map[string]any, error) {
	return f.pipelineLog, nil
}

type fakeSlack struct {
	channels []string
	messages []string
	err      error
}

func (f *fakeSlack) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, text)
	return "1234.5678", nil
}

type fakeSentry struct {
	issues []map[string]any
}

func (f *fakeSentry) ListIssues(ctx context.Context, orgSlug, projectSlug, query string, limit int) ([]map[string]any, error) {
	return f.issues, nil
}

type fakeDatadog struct {
	monitors []map[string]any
}

func (f *fakeDatadog) ListMonitors(ctx context.Context, tags string) ([]map[string]any, error) {
	return f.monitors, nil
}

type agentEnv struct {
	deps   *Deps
	gitlab *fakeGitLab
	slack  *fakeSlack
	sentry *fakeSentry
	dd     *fakeDatadog
	mem    *store.Memory
}

func newEnv(t *testing.T, completer ai.Completer) *agentEnv {
	t.Helper()
	env := &agentEnv{
		gitlab: &fakeGitLab{},
		slack:  &fakeSlack{},
		sentry: &fakeSentry{},
		dd:     &fakeDatadog{},
		mem:    store.NewMemory(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.deps = &Deps{
		Log:         log,
		Analyzer:    NewAnalyzer(completer, log),
		Connections: env.mem,
		Metrics:     metrics.NewStore(),
		History:     metrics.NewHistory(100),
		NewSlack:    func(string) SlackSender { return env.slack },
		NewGitLab:   func(string, string) GitLabClient { return env.gitlab },
		NewSentry:   func(string, string) SentryClient { return env.sentry },
		NewDatadog:  func(string, string, string) DatadogClient { return env.dd },
	}
	return env
}

func (e *agentEnv) connectGitLab(t *testing.T, projectID int64) {
	t.Helper()
	require.NoError(t, e.mem.UpsertConnection(&store.ServiceConnection{
		ProjectID:   projectID,
		ServiceType: store.ServiceGitLab,
		APIToken:    "glpat-test",
		Config:      map[string]any{"project_id": float64(99)},
		Enabled:     true,
	}))
}

func (e *agentEnv) connect(t *testing.T, projectID int64, service string, cfg map[string]any) {
	t.Helper()
	require.NoError(t, e.mem.UpsertConnection(&store.ServiceConnection{
		ProjectID:   projectID,
		ServiceType: service,
		APIToken:    "tok",
		Config:      cfg,
		Enabled:     true,
	}))
}

func byType(evs []events.Event, t events.Type) (events.Event, bool) {
	for _, ev := range evs {
		if ev.Type == t {
			return ev, true
		}
	}
	return events.Event{}, false
}

func defaults(h agent.Handler) agent.Config {
	return h.ConfigSpec().Defaults()
}

func TestProductIntelligenceFallbackAnalysis(t *testing.T) {
	env := newEnv(t, nil)
	p := NewProductIntelligence(env.deps)

	ev := events.New(events.JiraTicketCreated, events.SourceSystem, 7, map[string]any{
		"key":   "SHIP-1",
		"title": "Add login rate limiting",
	})
	out, err := p.Handle(context.Background(), ev, defaults(p))
	require.NoError(t, err)

	analyzed, ok := byType(out, events.RequirementsAnalyzed)
	require.True(t, ok)
	assert.Equal(t, "SHIP-1", analyzed.Data["ticket_key"])
	assert.Equal(t, ev.ID, analyzed.CorrelationID)

	tagged, ok := byType(out, events.ComplexityTagged)
	require.True(t, ok)
	assert.Equal(t, "medium", tagged.Data["complexity"])

	_, ok = byType(out, events.StoriesExtracted)
	assert.False(t, ok, "fallback analysis has no stories")

	_, ok = byType(out, events.SlackNotification)
	assert.True(t, ok)
}

func TestProductIntelligenceCreatesIssuesPerStory(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{`{
		"summary": "rate limiting",
		"stories": [
			{"title": "Limit login attempts", "description": "5 per minute", "acceptance_criteria": "429 after 5"},
			{"title": "Lockout notification", "description": "email on lockout", "acceptance_criteria": "email sent"}
		],
		"complexity": "high",
		"estimated_effort_hours": 12,
		"tags": ["security"]
	}`}})
	env.connectGitLab(t, 7)
	p := NewProductIntelligence(env.deps)

	ev := events.New(events.JiraTicketCreated, events.SourceSystem, 7, map[string]any{
		"key": "SHIP-2", "title": "Rate limiting",
	})
	out, err := p.Handle(context.Background(), ev, defaults(p))
	require.NoError(t, err)

	stories, ok := byType(out, events.StoriesExtracted)
	require.True(t, ok)
	assert.Len(t, stories.Data["stories"], 2)
	assert.Equal(t, []string{"Limit login attempts", "Lockout notification"}, env.gitlab.issues)
}

func TestDesignSyncEmitsNotesAndIssue(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{`{
		"component_specs": [{"name": "TaskCard", "css_changes": "border-radius 8px", "props": "priority"}],
		"implementation_steps": ["update TaskCard styles", "add priority prop"],
		"design_ticket_alignment": "matched",
		"notes": "straightforward restyle"
	}`}})
	env.connectGitLab(t, 7)
	ds := NewDesignSync(env.deps)

	ev := events.New(events.FigmaDesignChanged, events.SourceSystem, 7, map[string]any{
		"file_key":  "figma-abc123xyz",
		"file_name": "Design System",
	})
	out, err := ds.Handle(context.Background(), ev, defaults(ds))
	require.NoError(t, err)

	compared, ok := byType(out, events.DesignCompared)
	require.True(t, ok)
	assert.Equal(t, "matched", compared.Data["alignment"])

	notes, ok := byType(out, events.ImplementationNotesGenerated)
	require.True(t, ok)
	assert.Equal(t, []string{"update TaskCard styles", "add priority prop"}, notes.Data["implementation_steps"])

	require.Len(t, env.gitlab.issues, 1)
	assert.Equal(t, "Design Implementation: figma-abc123xyz", env.gitlab.issues[0])
}

func TestCodeOrchestrationBranchAndMergeRequest(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{`{
		"files": [{"path": "internal/ratelimit/limiter.go", "content": "package ratelimit", "description": "limiter skeleton"}],
		"pr_description": "Adds rate limiting",
		"suggested_reviewers_criteria": "backend"
	}`}})
	env.connectGitLab(t, 7)
	env.gitlab.mrIID = 12
	c := NewCodeOrchestration(env.deps)

	ev := events.New(events.RequirementsAnalyzed, "product_intelligence", 7, map[string]any{
		"ticket_key": "SHIP-3",
		"analysis":   map[string]any{"summary": "Rate Limiting Service"},
	})
	out, err := c.Handle(context.Background(), ev, defaults(c))
	require.NoError(t, err)

	branch, ok := byType(out, events.BranchCreated)
	require.True(t, ok)
	assert.Equal(t, "feature/SHIP-3-rate-limiting-service", branch.Data["branch"])
	assert.Equal(t, []string{"feature/SHIP-3-rate-limiting-service@main"}, env.gitlab.branches)

	boiler, ok := byType(out, events.BoilerplateGenerated)
	require.True(t, ok)
	assert.Equal(t, []string{"internal/ratelimit/limiter.go"}, boiler.Data["files"])
	assert.Equal(t, []string{"internal/ratelimit/limiter.go"}, env.gitlab.files)

	pr, ok := byType(out, events.PRTemplateCreated)
	require.True(t, ok)
	assert.Equal(t, int64(12), pr.Data["mr_iid"])
}

func TestCodeOrchestrationWithoutConnectionStillEmits(t *testing.T) {
	env := newEnv(t, nil)
	c := NewCodeOrchestration(env.deps)

	ev := events.New(events.RequirementsAnalyzed, "product_intelligence", 7, map[string]any{
		"ticket_key": "SHIP-4",
	})
	out, err := c.Handle(context.Background(), ev, defaults(c))
	require.NoError(t, err)

	branch, ok := byType(out, events.BranchCreated)
	require.True(t, ok)
	assert.Equal(t, "feature/SHIP-4-task", branch.Data["branch"])
	assert.Empty(t, env.gitlab.branches)

	pr, ok := byType(out, events.PRTemplateCreated)
	require.True(t, ok)
	assert.Equal(t, int64(0), pr.Data["mr_iid"])
}

const criticalScanReply = `{
	"vulnerabilities": [
		{"severity": "critical", "type": "SQL Injection", "file": "src/api/tasks.py", "line": 3,
		 "description": "task_id interpolated into SQL", "recommendation": "use bound parameters"},
		{"severity": "medium", "type": "Missing rate limit", "file": "src/auth/login.py", "line": 20,
		 "description": "login endpoint unthrottled", "recommendation": "add rate limiting"}
	],
	"overall_risk": "critical",
	"passed": false,
	"summary": "critical injection found"
}`

func TestSecurityComplianceBlocksOnCritical(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{criticalScanReply}})
	env.connectGitLab(t, 7)
	s := NewSecurityCompliance(env.deps)

	ev := events.New(events.PROpened, events.SourceSystem, 7, map[string]any{
		"mr_iid": float64(87),
		"diff":   "some diff",
		"files":  []any{"src/api/tasks.py"},
	})
	out, err := s.Handle(context.Background(), ev, defaults(s))
	require.NoError(t, err)

	blocked, ok := byType(out, events.MergeBlocked)
	require.True(t, ok)
	assert.Equal(t, "1 critical vulnerabilities found", blocked.Data["reason"])

	found, ok := byType(out, events.VulnerabilityFound)
	require.True(t, ok)
	assert.Equal(t, 2, found.Data["count"])
	assert.Equal(t, 1, found.Data["critical"])

	scan, ok := byType(out, events.SecurityScanComplete)
	require.True(t, ok)
	assert.Equal(t, false, scan.Data["passed"])
	assert.Equal(t, "critical", scan.Data["overall_risk"])

	_, ok = byType(out, events.ComplianceReportGenerated)
	assert.True(t, ok)

	// One findings comment plus one blocking comment.
	require.Len(t, env.gitlab.notes, 2)
	assert.Contains(t, env.gitlab.notes[1], "MERGE BLOCKED")
}

func TestSecurityComplianceSkipsEmptyDiff(t *testing.T) {
	env := newEnv(t, nil)
	s := NewSecurityCompliance(env.deps)

	ev := events.New(events.CodePushed, events.SourceSystem, 7, map[string]any{"mr_iid": float64(87)})
	out, err := s.Handle(context.Background(), ev, defaults(s))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSecurityScanFallbackIsConservative(t *testing.T) {
	env := newEnv(t, nil)
	s := NewSecurityCompliance(env.deps)

	ev := events.New(events.PROpened, events.SourceSystem, 7, map[string]any{
		"mr_iid": float64(87),
		"diff":   "some diff",
	})
	out, err := s.Handle(context.Background(), ev, defaults(s))
	require.NoError(t, err)

	scan, ok := byType(out, events.SecurityScanComplete)
	require.True(t, ok)
	assert.Equal(t, false, scan.Data["passed"])
	assert.Equal(t, "unknown", scan.Data["overall_risk"])
}

func TestSecurityScanFallbackPatternCatchesInjectedSQL(t *testing.T) {
	env := newEnv(t, nil)
	s := NewSecurityCompliance(env.deps)

	ev := events.New(events.PRReadyForReview, events.SourceSystem, 7, map[string]any{
		"mr_iid": float64(87),
		"diff":   sampleDiff,
		"files":  []any{"src/auth/login.py", "src/api/tasks.py"},
	})
	out, err := s.Handle(context.Background(), ev, defaults(s))
	require.NoError(t, err)

	vuln, ok := byType(out, events.VulnerabilityFound)
	require.True(t, ok)
	assert.Equal(t, 1, vuln.Data["count"])
	assert.Equal(t, 1, vuln.Data["critical"])

	blocked, ok := byType(out, events.MergeBlocked)
	require.True(t, ok)
	assert.Contains(t, blocked.Data["reason"], "1 critical")

	scan, ok := byType(out, events.SecurityScanComplete)
	require.True(t, ok)
	assert.Equal(t, false, scan.Data["passed"])
	assert.Equal(t, "critical", scan.Data["overall_risk"])
}

func TestTestIntelligenceEmitsReport(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{`{
		"unit_tests": [{"name": "TestDeleteTask", "description": "uses bound params"}],
		"integration_tests": [{"name": "TestDeleteTaskEndToEnd", "description": "full request cycle"}],
		"edge_cases": ["task id zero"],
		"coverage_gaps": ["rollback path"],
		"priority_order": ["TestDeleteTask"]
	}`}})
	env.connectGitLab(t, 7)
	ti := NewTestIntelligence(env.deps)

	ev := events.New(events.PROpened, events.SourceSystem, 7, map[string]any{
		"mr_iid": float64(87),
		"diff":   "some diff",
	})
	out, err := ti.Handle(context.Background(), ev, defaults(ti))
	require.NoError(t, err)

	sugg, ok := byType(out, events.TestSuggestionsGenerated)
	require.True(t, ok)
	assert.Equal(t, 1, sugg.Data["unit_tests_count"])
	assert.Equal(t, 1, sugg.Data["integration_tests_count"])

	report, ok := byType(out, events.TestReportCreated)
	require.True(t, ok)
	assert.Equal(t, 2, report.Data["total_suggested"])

	require.Len(t, env.gitlab.notes, 1)
	assert.Contains(t, env.gitlab.notes[0], "TestDeleteTask")
}

const eligibleReviewReply = `{
	"complexity": "low",
	"risk_areas": [],
	"recommended_expertise": ["security"],
	"estimated_review_minutes": 15,
	"summary": "small focused change",
	"auto_merge_eligible": true
}`

func TestReviewCoordinationAssignsReviewers(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{eligibleReviewReply}})
	env.connectGitLab(t, 7)
	env.gitlab.members = []map[string]any{
		{"id": float64(1), "username": "intern", "name": "Intern", "access_level": float64(20)},
		{"id": float64(2), "username": "sec-ops", "name": "Security Lead", "access_level": float64(40)},
		{"id": float64(3), "username": "dev-a", "name": "Developer A", "access_level": float64(30)},
	}
	rc := NewReviewCoordination(env.deps)

	ev := events.New(events.PROpened, events.SourceSystem, 7, map[string]any{
		"mr_iid": float64(87),
		"diff":   "small diff",
		"files":  []any{"src/auth/login.py"},
	})
	out, err := rc.Handle(context.Background(), ev, defaults(rc))
	require.NoError(t, err)

	assigned, ok := byType(out, events.ReviewersAssigned)
	require.True(t, ok)
	// Security lead first (maintainer + expertise match), developer second.
	assert.Equal(t, []int64{2, 3}, assigned.Data["reviewers"])
	assert.Equal(t, true, assigned.Data["auto_merge_eligible"])

	require.Len(t, env.gitlab.notes, 1)
	assert.Contains(t, env.gitlab.notes[0], "Review Summary")
}

func TestReviewCoordinationAutoMergeConvergence(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{eligibleReviewReply}})
	env.connectGitLab(t, 7)
	rc := NewReviewCoordination(env.deps)

	cfg := defaults(rc)
	cfg["auto_merge"] = true

	opened := events.New(events.PROpened, events.SourceSystem, 7, map[string]any{
		"mr_iid": float64(87), "diff": "small diff",
	})
	_, err := rc.Handle(context.Background(), opened, cfg)
	require.NoError(t, err)

	scan := events.New(events.SecurityScanComplete, "security_compliance", 7, map[string]any{
		"mr_iid": float64(87), "passed": true,
	})
	out, err := rc.Handle(context.Background(), scan, cfg)
	require.NoError(t, err)
	assert.Empty(t, out, "tests not reported yet")

	tests := events.New(events.TestReportCreated, "test_intelligence", 7, map[string]any{
		"mr_iid": float64(87),
	})
	out, err = rc.Handle(context.Background(), tests, cfg)
	require.NoError(t, err)

	merged, ok := byType(out, events.PRAutoMerged)
	require.True(t, ok)
	assert.Equal(t, "auto-merge", merged.Data["merged_by"])
	assert.Equal(t, []int64{87}, env.gitlab.merged)
}

func TestReviewCoordinationNoAutoMergeWhenDisabled(t *testing.T) {
	env := newEnv(t, &scripted{replies: []string{eligibleReviewReply}})
	env.connectGitLab(t, 7)
	rc := NewReviewCoordination(env.deps)

	cfg := defaults(rc)
	opened := events.New(events.PROpened, events.SourceSystem, 7, map[string]any{
		"mr_iid": float64(87), "diff": "small diff",
	})
	_, err := rc.Handle(context.Background(), opened, cfg)
	require.NoError(t, err)

	scan := events.New(events.SecurityScanComplete, "security_compliance", 7, map[string]any{
		"mr_iid": float64(87), "passed": true,
	})
	_, err = rc.Handle(context.Background(), scan, cfg)
	require.NoError(t, err)

	tests := events.New(events.TestReportCreated, "test_intelligence", 7, map[string]any{
		"mr_iid": float64(87),
	})
	out, err := rc.Handle(context.Background(), tests, cfg)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, env.gitlab.merged)
}

func TestDeploymentOrchestratorHealthyDeploy(t *testing.T) {
	env := newEnv(t, nil)
	env.connectGitLab(t, 7)
	env.gitlab.commits = []map[string]any{
		{"message": "feat: add sessions", "author_name": "dev"},
		{"message": "fix: expiry handling", "author_name": "dev"},
	}
	d := NewDeploymentOrchestrator(env.deps)

	ev := events.New(events.MergeToMain, events.SourceSystem, 7, map[string]any{"ref": "main"})
	out, err := d.Handle(context.Background(), ev, defaults(d))
	require.NoError(t, err)

	started, ok := byType(out, events.DeployStarted)
	require.True(t, ok)
	assert.Equal(t, "main", started.Data["ref"])
	assert.Equal(t, string(events.MergeToMain), started.Data["trigger_event"])

	notes, ok := byType(out, events.ReleaseNotesGenerated)
	require.True(t, ok)
	assert.Equal(t, "Release with 2 commits", notes.Data["version_summary"])

	_, ok = byType(out, events.DeployComplete)
	assert.True(t, ok)
	_, ok = byType(out, events.RollbackTriggered)
	assert.False(t, ok)

	// One pipeline triggered for the deploy itself, none for rollback.
	require.Len(t, env.gitlab.pipelines, 1)
}

func TestDeploymentOrchestratorRollsBackOnSentryErrors(t *testing.T) {
	env := newEnv(t, nil)
	env.connectGitLab(t, 7)
	env.connect(t, 7, store.ServiceSentry, map[string]any{
		"org_slug": "shipit", "project_slug": "backend",
	})
	env.sentry.issues = []map[string]any{
		{"id": "1"}, {"id": "2"}, {"id": "3"}, {"id": "4"}, {"id": "5"},
	}
	env.gitlab.pipelineLog = []map[string]any{
		{"id": float64(400), "status": "failed"},
		{"id": float64(399), "status": "success"},
	}
	d := NewDeploymentOrchestrator(env.deps)

	ev := events.New(events.PRAutoMerged, "review_coordination", 7, map[string]any{"ref": "main"})
	out, err := d.Handle(context.Background(), ev, defaults(d))
	require.NoError(t, err)

	rollback, ok := byType(out, events.RollbackTriggered)
	require.True(t, ok)
	assert.Contains(t, rollback.Data["reason"], "Sentry issues")

	_, ok = byType(out, events.DeployComplete)
	assert.False(t, ok)

	// Deploy pipeline plus the rollback pipeline with ROLLBACK vars.
	require.Len(t, env.gitlab.pipelines, 2)
	assert.Equal(t, "true", env.gitlab.pipelines[1]["ROLLBACK"])
	assert.Equal(t, "399", env.gitlab.pipelines[1]["ROLLBACK_PIPELINE_ID"])
}

func TestDeploymentOrchestratorBlockedByReadiness(t *testing.T) {
	env := newEnv(t, nil)
	d := NewDeploymentOrchestrator(env.deps)

	ev := events.New(events.MergeToMain, events.SourceSystem, 7, map[string]any{
		"security_passed": false,
	})
	out, err := d.Handle(context.Background(), ev, defaults(d))
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, events.DeployFailed, out[0].Type)
	assert.Empty(t, env.gitlab.pipelines)
}

func TestAnalyticsInsightsGeneratesReport(t *testing.T) {
	env := newEnv(t, nil)
	env.deps.Metrics.Record("product_intelligence", metrics.OutcomeSuccess, 12.5)
	env.deps.Metrics.Record("security_compliance", metrics.OutcomeError, 0)
	a := NewAnalyticsInsights(env.deps)

	ev := events.New(events.MetricsCollected, events.SourceScheduler, 7, nil)
	out, err := a.Handle(context.Background(), ev, defaults(a))
	require.NoError(t, err)

	report, ok := byType(out, events.ReportGenerated)
	require.True(t, ok)
	collected, ok := report.Data["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), collected["total_events_processed"])
	assert.Equal(t, int64(1), collected["total_errors"])

	slack, ok := byType(out, events.SlackNotification)
	require.True(t, ok)
	assert.Contains(t, slack.Data["message"], "Analytics Report")

	_, ok = byType(out, events.BottleneckDetected)
	assert.False(t, ok, "fallback analysis reports no bottlenecks")
}

func TestAnalyticsInsightsSkipsIdleFleet(t *testing.T) {
	env := newEnv(t, nil)
	a := NewAnalyticsInsights(env.deps)

	ev := events.New(events.MetricsCollected, events.SourceScheduler, 7, nil)
	out, err := a.Handle(context.Background(), ev, defaults(a))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSlackNotifierDelivers(t *testing.T) {
	env := newEnv(t, nil)
	env.connect(t, 7, store.ServiceSlack, map[string]any{"default_channel": "eng-fleet"})
	sn := NewSlackNotifier(env.deps)

	ev := events.New(events.SlackNotification, "product_intelligence", 7, map[string]any{
		"message": "hello fleet",
	})
	out, err := sn.Handle(context.Background(), ev, defaults(sn))
	require.NoError(t, err)
	assert.Empty(t, out, "notifier is terminal")
	assert.Equal(t, []string{"eng-fleet"}, env.slack.channels)
	assert.Equal(t, []string{"hello fleet"}, env.slack.messages)
}

func TestSlackNotifierChannelOverride(t *testing.T) {
	env := newEnv(t, nil)
	env.connect(t, 7, store.ServiceSlack, map[string]any{"default_channel": "eng-fleet"})
	sn := NewSlackNotifier(env.deps)

	ev := events.New(events.SlackNotification, "product_intelligence", 7, map[string]any{
		"message": "deploy done",
		"channel": "releases",
	})
	_, err := sn.Handle(context.Background(), ev, defaults(sn))
	require.NoError(t, err)
	assert.Equal(t, []string{"releases"}, env.slack.channels)
}

func TestSlackNotifierSkipsWithoutConnection(t *testing.T) {
	env := newEnv(t, nil)
	sn := NewSlackNotifier(env.deps)

	ev := events.New(events.SlackNotification, "product_intelligence", 7, map[string]any{
		"message": "nobody hears this",
	})
	out, err := sn.Handle(context.Background(), ev, defaults(sn))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, env.slack.messages)
}

func TestSlackNotifierSkipsEmptyMessage(t *testing.T) {
	env := newEnv(t, nil)
	env.connect(t, 7, store.ServiceSlack, nil)
	sn := NewSlackNotifier(env.deps)

	ev := events.New(events.SlackNotification, "product_intelligence", 7, map[string]any{})
	out, err := sn.Handle(context.Background(), ev, defaults(sn))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, env.slack.messages)
}

func TestRegisterFleetOrder(t *testing.T) {
	env := newEnv(t, nil)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := agent.NewRegistry(log, metrics.NewStore(), store.NewMemory())

	require.NoError(t, RegisterFleet(reg, env.deps))

	want := []string{
		"product_intelligence",
		"design_sync",
		"code_orchestration",
		"security_compliance",
		"test_intelligence",
		"review_coordination",
		"deployment_orchestrator",
		"analytics_insights",
		"slack_notifier",
	}
	var got []string
	for _, h := range reg.All() {
		got = append(got, h.Name())
	}
	assert.Equal(t, want, got)
}

func TestDemoPayloadsCoverTriggerableAgents(t *testing.T) {
	demos := DemoPayloads()
	for _, name := range []string{
		"product_intelligence", "design_sync", "code_orchestration",
		"security_compliance", "test_intelligence", "review_coordination",
		"deployment_orchestrator", "analytics_insights",
	} {
		_, ok := demos[name]
		assert.True(t, ok, fmt.Sprintf("missing demo payload for %s", name))
	}
	assert.Contains(t, demos["security_compliance"]["diff"], "DELETE FROM tasks WHERE id =")
}
