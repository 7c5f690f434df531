package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shipit-ai/fleet/pkg/ai"
	"github.com/shipit-ai/fleet/pkg/diff"
)

// Analyzer wraps the completion layer behind typed analysis calls.
// Every call degrades to a deterministic fallback when no completer is
// configured or the model returns garbage, so agents keep functioning
// offline.
type Analyzer struct {
	completer ai.Completer
	log       *slog.Logger
}

// NewAnalyzer builds an analyzer. completer may be nil; every analysis
// then returns its fallback.
func NewAnalyzer(completer ai.Completer, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{completer: completer, log: log.With("component", "analyzer")}
}

// Story is one extracted user story.
type Story struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
}

// RequirementsAnalysis is the structured read of a ticket.
type RequirementsAnalysis struct {
	Summary              string   `json:"summary"`
	Stories              []Story  `json:"stories"`
	Complexity           string   `json:"complexity"`
	EstimatedEffortHours float64  `json:"estimated_effort_hours"`
	Tags                 []string `json:"tags"`
	RelatedTopics        []string `json:"related_topics"`
}

func (a *Analyzer) AnalyzeRequirements(ctx context.Context, ticket map[string]any) RequirementsAnalysis {
	fallback := RequirementsAnalysis{
		Summary:              str(ticket, "title"),
		Complexity:           "medium",
		EstimatedEffortHours: 4,
	}
	system := "You are a product intelligence agent. Analyze the ticket and extract " +
		"structured requirements. You MUST return valid JSON with these exact keys: " +
		"summary (string), stories (list of objects with title, description, " +
		"acceptance_criteria), complexity (one of: low, medium, high), " +
		"estimated_effort_hours (number), tags (list of strings), " +
		"related_topics (list of strings). Return ONLY JSON, no other text."
	prompt := fmt.Sprintf("Analyze this ticket:\nTitle: %s\nDescription: %s\nPriority: %s",
		str(ticket, "title"), str(ticket, "description"), str(ticket, "priority"))

	var out RequirementsAnalysis
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 2048}, &out); err != nil {
		a.fallbackWarn("requirements analysis", err)
		return fallback
	}
	if out.Complexity == "" {
		out.Complexity = "medium"
	}
	if out.EstimatedEffortHours <= 0 {
		out.EstimatedEffortHours = 4
	}
	return out
}

// ComponentSpec describes one UI component change.
type ComponentSpec struct {
	Name       string `json:"name"`
	CSSChanges string `json:"css_changes"`
	Props      string `json:"props"`
}

// ImplementationNotes translate a design change into engineering work.
type ImplementationNotes struct {
	ComponentSpecs        []ComponentSpec `json:"component_specs"`
	ImplementationSteps   []string        `json:"implementation_steps"`
	DesignTicketAlignment string          `json:"design_ticket_alignment"`
	Notes                 string          `json:"notes"`
}

func (a *Analyzer) GenerateImplementationNotes(ctx context.Context, designData, ticketData map[string]any) ImplementationNotes {
	fallback := ImplementationNotes{DesignTicketAlignment: "partial"}
	system := "You are a design-to-code translation agent. Compare design changes with " +
		"ticket requirements and generate implementation notes. You MUST return " +
		"valid JSON with these exact keys: component_specs (list of objects with " +
		"name, css_changes, props), implementation_steps (list of strings), " +
		"design_ticket_alignment (one of: matched, mismatched, partial), " +
		"notes (string). Return ONLY JSON, no other text."
	prompt := fmt.Sprintf("Design data: %s\nTicket data: %s", mustJSON(designData), mustJSON(ticketData))

	var out ImplementationNotes
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 3000}, &out); err != nil {
		a.fallbackWarn("implementation notes", err)
		return fallback
	}
	switch out.DesignTicketAlignment {
	case "matched", "mismatched", "partial":
	default:
		out.DesignTicketAlignment = "partial"
	}
	return out
}

// ScaffoldFile is one generated boilerplate file.
type ScaffoldFile struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// Boilerplate is the scaffolding generated for a new branch.
type Boilerplate struct {
	Files                      []ScaffoldFile `json:"files"`
	PRDescription              string         `json:"pr_description"`
	SuggestedReviewersCriteria string         `json:"suggested_reviewers_criteria"`
}

func (a *Analyzer) GenerateBoilerplate(ctx context.Context, requirements any, branch string) Boilerplate {
	system := "You are a code scaffolding agent. Generate file structure and boilerplate " +
		"based on requirements. You MUST return valid JSON with these exact keys: " +
		"files (list of objects with path, content, description), " +
		"pr_description (string - markdown PR body), " +
		"suggested_reviewers_criteria (string). Return ONLY JSON, no other text."
	prompt := fmt.Sprintf("Branch: %s\nRequirements: %s", branch, mustJSON(requirements))

	var out Boilerplate
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 4000}, &out); err != nil {
		a.fallbackWarn("boilerplate generation", err)
		return Boilerplate{}
	}
	kept := out.Files[:0]
	for _, f := range out.Files {
		if f.Path == "" {
			continue
		}
		if f.Description == "" {
			f.Description = f.Path
		}
		kept = append(kept, f)
	}
	out.Files = kept
	return out
}

// Vulnerability is one security finding.
type Vulnerability struct {
	Severity       string `json:"severity"`
	Type           string `json:"type"`
	File           string `json:"file"`
	Line           int    `json:"line"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// SecurityScanResult is the outcome of a diff scan.
type SecurityScanResult struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	OverallRisk     string          `json:"overall_risk"`
	Passed          bool            `json:"passed"`
	Summary         string          `json:"summary"`
}

const maxDiffChars = 8000

// SecurityScan analyzes a diff. On analysis failure the result is
// conservative: not passed, and whatever the deterministic pattern
// scan can see.
func (a *Analyzer) SecurityScan(ctx context.Context, rawDiff string, files []string) SecurityScanResult {
	system := "You are a security scanning agent. Analyze the code diff for vulnerabilities " +
		"including: secrets/credentials, SQL injection, XSS, OWASP top 10, insecure " +
		"dependencies, hardcoded passwords, command injection, path traversal. " +
		"You MUST return valid JSON with these exact keys: " +
		"vulnerabilities (list of objects with severity [critical/high/medium/low], " +
		"type, file, line, description, recommendation), " +
		"overall_risk (one of: low, medium, high, critical), " +
		"passed (boolean - false if any critical or high severity found), " +
		"summary (string). Return ONLY JSON, no other text."
	prompt := fmt.Sprintf("Files changed: %s\n\nDiff:\n%s", strings.Join(files, ", "), truncate(rawDiff, maxDiffChars))

	var out SecurityScanResult
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 3000}, &out); err != nil {
		a.fallbackWarn("security scan", err)
		return patternScanResult(rawDiff)
	}

	kept := out.Vulnerabilities[:0]
	for _, v := range out.Vulnerabilities {
		switch v.Severity {
		case "critical", "high", "medium", "low":
			kept = append(kept, v)
		}
	}
	out.Vulnerabilities = kept
	for _, v := range out.Vulnerabilities {
		if v.Severity == "critical" || v.Severity == "high" {
			out.Passed = false
			if out.OverallRisk == "low" || out.OverallRisk == "" {
				out.OverallRisk = "high"
			}
			break
		}
	}
	if out.OverallRisk == "" {
		out.OverallRisk = "low"
	}
	return out
}

// patternScanResult is the no-AI scan: deterministic pattern checks
// over the diff's added lines. An empty result still fails the scan;
// the patterns only catch the obvious.
func patternScanResult(rawDiff string) SecurityScanResult {
	findings := diff.Scan(diff.Parse(rawDiff))
	out := SecurityScanResult{
		OverallRisk: "unknown",
		Passed:      false,
		Summary:     "Security scan analysis failed - manual review required",
	}
	for _, f := range findings {
		out.Vulnerabilities = append(out.Vulnerabilities, Vulnerability{
			Severity:       f.Severity,
			Type:           f.Type,
			File:           f.File,
			Line:           f.Line,
			Description:    f.Description,
			Recommendation: f.Recommendation,
		})
		switch {
		case f.Severity == "critical":
			out.OverallRisk = "critical"
		case f.Severity == "high" && out.OverallRisk != "critical":
			out.OverallRisk = "high"
		}
	}
	if len(findings) > 0 {
		out.Summary = fmt.Sprintf("Pattern scan found %d issues - manual review required", len(findings))
	}
	return out
}

// TestCase is one suggested test.
type TestCase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	CodeHint    string `json:"code_hint,omitempty"`
}

// TestSuggestions are the proposed tests for a change.
type TestSuggestions struct {
	UnitTests        []TestCase `json:"unit_tests"`
	IntegrationTests []TestCase `json:"integration_tests"`
	EdgeCases        []string   `json:"edge_cases"`
	CoverageGaps     []string   `json:"coverage_gaps"`
	PriorityOrder    []string   `json:"priority_order"`
}

func (a *Analyzer) GenerateTestSuggestions(ctx context.Context, rawDiff string, files []string) TestSuggestions {
	system := "You are a test intelligence agent. Analyze code changes and suggest tests. " +
		"You MUST return valid JSON with these exact keys: " +
		"unit_tests (list of objects with name, description, file, code_hint), " +
		"integration_tests (list of objects with name, description), " +
		"edge_cases (list of strings), coverage_gaps (list of strings), " +
		"priority_order (list of test name strings). Return ONLY JSON, no other text."
	prompt := fmt.Sprintf("Files changed: %s\n\nDiff:\n%s", strings.Join(files, ", "), truncate(rawDiff, maxDiffChars))

	var out TestSuggestions
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 3000}, &out); err != nil {
		a.fallbackWarn("test suggestions", err)
		return fallbackTestSuggestions(rawDiff, files)
	}
	return out
}

// fallbackTestSuggestions proposes one unit test per changed file.
func fallbackTestSuggestions(rawDiff string, files []string) TestSuggestions {
	if len(files) == 0 {
		files = diff.Files(rawDiff)
	}
	var out TestSuggestions
	for _, path := range files {
		base := path
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		if i := strings.IndexByte(base, '.'); i >= 0 {
			base = base[:i]
		}
		name := "test_" + base + "_changes"
		out.UnitTests = append(out.UnitTests, TestCase{
			Name:        name,
			Description: "Cover the changed lines in " + path,
			File:        path,
		})
		out.PriorityOrder = append(out.PriorityOrder, name)
	}
	return out
}

// ReviewComplexity drives reviewer assignment and auto-merge
// eligibility.
type ReviewComplexity struct {
	Complexity             string   `json:"complexity"`
	RiskAreas              []string `json:"risk_areas"`
	RecommendedExpertise   []string `json:"recommended_expertise"`
	EstimatedReviewMinutes float64  `json:"estimated_review_minutes"`
	Summary                string   `json:"summary"`
	AutoMergeEligible      bool     `json:"auto_merge_eligible"`
}

func (a *Analyzer) AnalyzeReviewComplexity(ctx context.Context, diff string, fileCount int) ReviewComplexity {
	fallback := ReviewComplexity{Complexity: "medium", EstimatedReviewMinutes: 30}
	system := "You are a code review coordination agent. Analyze the PR for complexity, " +
		"risk areas, and recommended expertise. You MUST return valid JSON with " +
		"these exact keys: complexity (one of: low, medium, high), " +
		"risk_areas (list of strings), recommended_expertise (list of strings " +
		"like 'backend', 'frontend', 'database', 'security', 'devops'), " +
		"estimated_review_minutes (number), summary (string), " +
		"auto_merge_eligible (boolean - true only for low complexity with no " +
		"risk areas). Return ONLY JSON, no other text."
	prompt := fmt.Sprintf("Files changed: %d\n\nDiff:\n%s", fileCount, truncate(diff, 6000))

	var out ReviewComplexity
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 2048}, &out); err != nil {
		a.fallbackWarn("review complexity analysis", err)
		return fallback
	}
	switch out.Complexity {
	case "low", "medium", "high":
	default:
		out.Complexity = "medium"
	}
	// Never auto-merge a high complexity change.
	if out.Complexity == "high" {
		out.AutoMergeEligible = false
	}
	if out.EstimatedReviewMinutes <= 0 {
		out.EstimatedReviewMinutes = 30
	}
	return out
}

// Commit is one release-notes input.
type Commit struct {
	Message string `json:"message"`
	Author  string `json:"author"`
}

// ReleaseNotes summarize a deployment.
type ReleaseNotes struct {
	VersionSummary  string   `json:"version_summary"`
	Features        []string `json:"features"`
	Bugfixes        []string `json:"bugfixes"`
	BreakingChanges []string `json:"breaking_changes"`
	Notes           string   `json:"notes"`
}

// GenerateReleaseNotes summarizes commits. The fallback derives entries
// directly from the commit subjects.
func (a *Analyzer) GenerateReleaseNotes(ctx context.Context, commits []Commit) ReleaseNotes {
	system := "You are a release notes generator. Create user-facing release notes from " +
		"the commit history. You MUST return valid JSON with these exact keys: " +
		"version_summary (string - 1-2 sentence overview), " +
		"features (list of strings), bugfixes (list of strings), " +
		"breaking_changes (list of strings), notes (string). " +
		"Return ONLY JSON, no other text."
	limited := commits
	if len(limited) > 20 {
		limited = limited[:20]
	}
	prompt := fmt.Sprintf("Commits: %s", mustJSON(limited))

	var out ReleaseNotes
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 2048}, &out); err != nil {
		a.fallbackWarn("release notes", err)
		var features []string
		for i, c := range commits {
			if i == 10 {
				break
			}
			if subject, _, _ := strings.Cut(c.Message, "\n"); subject != "" {
				features = append(features, subject)
			}
		}
		return ReleaseNotes{
			VersionSummary: fmt.Sprintf("Release with %d commits", len(commits)),
			Features:       features,
			Notes:          "Auto-generated from commit log",
		}
	}
	return out
}

// Bottleneck is one detected process issue.
type Bottleneck struct {
	Area        string `json:"area"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Predictions are the forward-looking metrics estimates.
type Predictions struct {
	SprintCompletionPct float64 `json:"sprint_completion_pct"`
	VelocityTrend       string  `json:"velocity_trend"`
}

// MetricsAnalysis is the analytics agent's output.
type MetricsAnalysis struct {
	Bottlenecks      []Bottleneck `json:"bottlenecks"`
	Predictions      Predictions  `json:"predictions"`
	Recommendations  []string     `json:"recommendations"`
	ExecutiveSummary string       `json:"executive_summary"`
}

func (a *Analyzer) AnalyzeMetrics(ctx context.Context, metricsData map[string]any) MetricsAnalysis {
	system := "You are a project analytics agent. Analyze fleet and delivery metrics and " +
		"identify insights. You MUST return valid JSON with these exact keys: " +
		"bottlenecks (list of objects with area, description, severity), " +
		"predictions (object with sprint_completion_pct as number 0-100, " +
		"velocity_trend as one of: increasing, stable, decreasing), " +
		"recommendations (list of actionable strings), " +
		"executive_summary (string - 2-3 sentences). Return ONLY JSON, no other text."
	prompt := fmt.Sprintf("Metrics data:\n%s", mustJSON(metricsData))

	var out MetricsAnalysis
	if err := ai.CompleteJSON(ctx, a.completer, ai.Request{System: system, Prompt: prompt, MaxTokens: 2048}, &out); err != nil {
		a.fallbackWarn("metrics analysis", err)
		return MetricsAnalysis{
			Predictions:      Predictions{VelocityTrend: "stable"},
			ExecutiveSummary: "Analysis unavailable - showing raw metrics only.",
		}
	}
	if out.Predictions.SprintCompletionPct < 0 || out.Predictions.SprintCompletionPct > 100 {
		out.Predictions.SprintCompletionPct = 0
	}
	switch out.Predictions.VelocityTrend {
	case "increasing", "stable", "decreasing":
	default:
		out.Predictions.VelocityTrend = "stable"
	}
	return out
}

func (a *Analyzer) fallbackWarn(what string, err error) {
	if err == ai.ErrNoCompleter {
		a.log.Debug("no completer, using fallback", "analysis", what)
		return
	}
	a.log.Warn("analysis failed, using fallback", "analysis", what, "error", err)
}

func mustJSON(v any) string {
	buf, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(buf)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
