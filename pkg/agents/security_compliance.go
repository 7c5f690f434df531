package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

const maxFindingsComment = 60000

// SecurityCompliance scans every opened MR and pushed change for
// vulnerabilities, blocks merges on critical findings, and emits the
// compliance trail.
type SecurityCompliance struct {
	deps *Deps
}

var _ agent.Handler = (*SecurityCompliance)(nil)

func NewSecurityCompliance(deps *Deps) *SecurityCompliance {
	deps.normalize()
	return &SecurityCompliance{deps: deps}
}

func (s *SecurityCompliance) Name() string { return "security_compliance" }

func (s *SecurityCompliance) Description() string {
	return "Performs AI-based security scanning (SAST), dependency vulnerability checks, and generates compliance reports for code changes"
}

func (s *SecurityCompliance) SubscribedEvents() []events.Type {
	return []events.Type{events.PROpened, events.CodePushed}
}

func (s *SecurityCompliance) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"block_merge_on_critical": {
			Type:        agent.FieldBool,
			Description: "Post a blocking MR discussion when critical findings exist",
			Default:     true,
		},
	}
}

func (s *SecurityCompliance) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	mrIID := asInt64(ev.Data["mr_iid"])
	diff := str(ev.Data, "diff")
	files := strSlice(ev.Data["files"])
	s.deps.Log.Info("security scan", "agent", s.Name(), "mr_iid", mrIID, "project_id", ev.ProjectID)

	if diff == "" {
		s.deps.Log.Info("no diff content, skipping scan", "agent", s.Name())
		return nil, nil
	}

	scan := s.deps.Analyzer.SecurityScan(ctx, diff, files)

	var critical, high []Vulnerability
	for _, v := range scan.Vulnerabilities {
		switch v.Severity {
		case "critical":
			critical = append(critical, v)
		case "high":
			high = append(high, v)
		}
	}

	if mrIID != 0 && len(scan.Vulnerabilities) > 0 {
		s.postFindings(ctx, ev.ProjectID, mrIID, scan)
	}

	var out []events.Event
	blockOnCritical, _ := cfg["block_merge_on_critical"].(bool)
	if len(critical) > 0 && mrIID != 0 && blockOnCritical {
		s.blockMerge(ctx, ev.ProjectID, mrIID, critical)
		out = append(out,
			events.Followup(ev, events.MergeBlocked, s.Name(), map[string]any{
				"mr_iid":          mrIID,
				"reason":          fmt.Sprintf("%d critical vulnerabilities found", len(critical)),
				"vulnerabilities": critical,
			}),
			events.Followup(ev, events.SlackNotification, s.Name(), map[string]any{
				"message": fmt.Sprintf(
					"*MERGE BLOCKED* - MR !%d\n%d critical vulnerabilities found. Merge is blocked until resolved.",
					mrIID, len(critical)),
			}),
		)
	}

	if len(scan.Vulnerabilities) > 0 {
		out = append(out, events.Followup(ev, events.VulnerabilityFound, s.Name(), map[string]any{
			"mr_iid":          mrIID,
			"count":           len(scan.Vulnerabilities),
			"critical":        len(critical),
			"high":            len(high),
			"vulnerabilities": scan.Vulnerabilities,
		}))
	}

	out = append(out,
		events.Followup(ev, events.SecurityScanComplete, s.Name(), map[string]any{
			"mr_iid":              mrIID,
			"passed":              scan.Passed,
			"overall_risk":        scan.OverallRisk,
			"vulnerability_count": len(scan.Vulnerabilities),
			"summary":             scan.Summary,
		}),
		events.Followup(ev, events.ComplianceReportGenerated, s.Name(), map[string]any{
			"mr_iid":      mrIID,
			"scan_result": scan,
		}),
	)
	return out, nil
}

func (s *SecurityCompliance) postFindings(ctx context.Context, projectID, mrIID int64, scan SecurityScanResult) {
	gl, glID, ok := s.deps.gitlabFor(projectID)
	if !ok {
		return
	}

	var b strings.Builder
	b.WriteString("## Security Scan Results\n\n")
	fmt.Fprintf(&b, "**Overall Risk:** %s\n", scan.OverallRisk)
	status := "FAILED"
	if scan.Passed {
		status = "PASSED"
	}
	fmt.Fprintf(&b, "**Status:** %s\n\n", status)

	if len(scan.Vulnerabilities) > 0 {
		b.WriteString("### Vulnerabilities Found\n\n")
		vulns := scan.Vulnerabilities
		if len(vulns) > 10 {
			vulns = vulns[:10]
		}
		for _, v := range vulns {
			fmt.Fprintf(&b, "- **%s** - %s: %s\n  - File: `%s`\n  - Fix: %s\n\n",
				strings.ToUpper(v.Severity), v.Type, v.Description, v.File, v.Recommendation)
		}
	} else {
		b.WriteString("No vulnerabilities detected.\n")
	}

	comment := b.String()
	if len(comment) > maxFindingsComment {
		comment = comment[:maxFindingsComment] + "\n\n*...truncated*"
	}
	if err := gl.AddMergeRequestNote(ctx, glID, mrIID, comment); err != nil {
		s.deps.Log.Error("post security findings failed", "agent", s.Name(), "mr_iid", mrIID, "error", err)
	}
}

func (s *SecurityCompliance) blockMerge(ctx context.Context, projectID, mrIID int64, critical []Vulnerability) {
	gl, glID, ok := s.deps.gitlabFor(projectID)
	if !ok {
		return
	}

	var b strings.Builder
	b.WriteString("## MERGE BLOCKED - Critical Security Vulnerabilities\n\n")
	b.WriteString("This merge request has been blocked due to critical security issues that must be resolved before merging.\n\n")
	if len(critical) > 5 {
		critical = critical[:5]
	}
	for _, v := range critical {
		fmt.Fprintf(&b, "- **%s** in `%s`: %s\n  Recommendation: %s\n\n",
			v.Type, v.File, v.Description, v.Recommendation)
	}
	b.WriteString("\nResolve these issues and push a new commit to re-trigger the security scan.")

	if err := gl.AddMergeRequestNote(ctx, glID, mrIID, b.String()); err != nil {
		s.deps.Log.Error("post blocking comment failed", "agent", s.Name(), "mr_iid", mrIID, "error", err)
	}
}

func strSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
