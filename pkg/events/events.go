// Package events defines the event envelope and the dotted event-type
// taxonomy for the entire fleet. Every event flowing through the bus,
// the WebSocket stream, or the webhook ingestion endpoints uses the
// Event envelope; payload shapes are documented per type by the agent
// that consumes them.
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies an event for routing and display. Types follow a
// dotted <domain>.<subject>.<verb> taxonomy; a type string is stable
// and is never reused for a different meaning.
type Type string

// External producer events (webhook adapters).
const (
	JiraTicketCreated Type = "jira.ticket.created"
	JiraTicketUpdated Type = "jira.ticket.updated"

	CodePushed        Type = "gitlab.code.pushed"
	PROpened          Type = "gitlab.pr.opened"
	PRReadyForReview  Type = "gitlab.pr.ready_for_review"
	PRApproved        Type = "gitlab.pr.approved"
	MergeToMain       Type = "gitlab.merge.main"
	IssueAssigned     Type = "gitlab.issue.assigned"
	PipelineStarted   Type = "gitlab.pipeline.started"
	PipelineCompleted Type = "gitlab.pipeline.completed"
	PipelineFailed    Type = "gitlab.pipeline.failed"

	FigmaDesignChanged Type = "figma.design.changed"
)

// Agent-emitted events.
const (
	RequirementsAnalyzed Type = "agent.product.requirements_analyzed"
	ComplexityTagged     Type = "agent.product.complexity_tagged"
	StoriesExtracted     Type = "agent.product.stories_extracted"

	DesignCompared               Type = "agent.design.compared"
	ImplementationNotesGenerated Type = "agent.design.impl_notes"

	BranchCreated        Type = "agent.code.branch_created"
	BoilerplateGenerated Type = "agent.code.boilerplate_generated"
	PRTemplateCreated    Type = "agent.code.pr_template_created"

	SecurityScanComplete      Type = "agent.security.scan_complete"
	VulnerabilityFound        Type = "agent.security.vulnerability_found"
	MergeBlocked              Type = "agent.security.merge_blocked"
	ComplianceReportGenerated Type = "agent.security.compliance_report"

	TestSuggestionsGenerated Type = "agent.test.suggestions_generated"
	TestReportCreated        Type = "agent.test.report_created"
	CoverageReport           Type = "agent.test.coverage_report"

	ReviewersAssigned  Type = "agent.review.reviewers_assigned"
	ReviewReminderSent Type = "agent.review.reminder_sent"
	ReviewSLABreached  Type = "agent.review.sla_breached"
	PRAutoMerged       Type = "agent.review.auto_merged"

	DeployStarted         Type = "agent.deploy.started"
	DeployComplete        Type = "agent.deploy.complete"
	DeployFailed          Type = "agent.deploy.failed"
	RollbackTriggered     Type = "agent.deploy.rollback"
	ReleaseNotesGenerated Type = "agent.deploy.release_notes"

	MetricsCollected   Type = "agent.analytics.metrics_collected"
	ReportGenerated    Type = "agent.analytics.report_generated"
	BottleneckDetected Type = "agent.analytics.bottleneck_detected"
)

// Cross-cutting events.
const (
	SlackNotification Type = "notification.slack"

	// AgentError is reserved: the bus emits it when a handler fails,
	// times out, or a causal chain exceeds its depth budget. Payload:
	// data.agent, data.event_type, data.error, data.processing_ms.
	AgentError Type = "agent.error"
)

func (t Type) String() string { return string(t) }

// IsPrefix reports whether t is a prefix subscription (trailing dot),
// e.g. "agent.security." matches every agent.security.* event.
func (t Type) IsPrefix() bool {
	return strings.HasSuffix(string(t), ".")
}

// Matches reports whether an event type et satisfies subscription t,
// either exactly or by prefix.
func (t Type) Matches(et Type) bool {
	if t.IsPrefix() {
		return strings.HasPrefix(string(et), string(t))
	}
	return t == et
}

// Source names for events synthesized by the system rather than by an
// agent.
const (
	SourceSystem        = "system"
	SourceManualTrigger = "manual_trigger"
	SourceScheduler     = "scheduler"
	SourceBus           = "bus"
)

// Event is the immutable record of something that happened. The JSON
// shape is a stable wire contract rendered by the fleet UI; do not
// rename fields.
type Event struct {
	// ID is globally unique, assigned at publish time.
	ID string `json:"event_id"`

	// Type routes the event and names it for humans.
	Type Type `json:"type"`

	// SourceAgent is the producer: an agent name or a system source.
	SourceAgent string `json:"source_agent"`

	// ProjectID scopes the event; zero means fleet-global.
	ProjectID int64 `json:"project_id,omitempty"`

	// Data is the open, per-type payload. The bus is payload-agnostic.
	Data map[string]any `json:"data"`

	// Timestamp is creation time, set once.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links every event in one causal chain. Handlers
	// emitting follow-ups propagate the input's correlation id, or
	// mint one from the input event id when absent.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// New creates an event with a fresh ID and UTC timestamp. The bus also
// fills these on publish, so callers may build Event literals instead.
func New(t Type, source string, projectID int64, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		SourceAgent: source,
		ProjectID:   projectID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}

// Followup builds an event caused by parent: same project, correlation
// id propagated (minted from the parent's event id when the parent has
// none).
func Followup(parent Event, t Type, source string, data map[string]any) Event {
	ev := New(t, source, parent.ProjectID, data)
	ev.CorrelationID = parent.CorrelationID
	if ev.CorrelationID == "" {
		ev.CorrelationID = parent.ID
	}
	return ev
}
