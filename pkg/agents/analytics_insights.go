package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
)

// AnalyticsInsights turns the fleet's own telemetry into reports:
// per-agent throughput and latency plus recent event flow, analyzed
// for bottlenecks and delivery predictions.
type AnalyticsInsights struct {
	deps *Deps
}

var _ agent.Handler = (*AnalyticsInsights)(nil)

func NewAnalyticsInsights(deps *Deps) *AnalyticsInsights {
	deps.normalize()
	return &AnalyticsInsights{deps: deps}
}

func (a *AnalyticsInsights) Name() string { return "analytics_insights" }

func (a *AnalyticsInsights) Description() string {
	return "Collects velocity metrics, generates reports, detects bottlenecks, and provides AI-powered process improvement suggestions"
}

func (a *AnalyticsInsights) SubscribedEvents() []events.Type {
	return []events.Type{events.MetricsCollected}
}

func (a *AnalyticsInsights) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"history_window": {
			Type:        agent.FieldNumber,
			Description: "Recent events to include in the analysis window",
			Default:     float64(100),
		},
	}
}

func (a *AnalyticsInsights) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	a.deps.Log.Info("analytics collection", "agent", a.Name(), "project_id", ev.ProjectID)

	window := int(asInt64(cfg["history_window"]))
	if window <= 0 {
		window = 100
	}
	collected := a.collectMetrics(ev.ProjectID, window)
	if collected == nil {
		a.deps.Log.Info("no fleet metrics to analyze", "agent", a.Name())
		return nil, nil
	}

	analysis := a.deps.Analyzer.AnalyzeMetrics(ctx, collected)

	var out []events.Event
	if len(analysis.Bottlenecks) > 0 {
		out = append(out, events.Followup(ev, events.BottleneckDetected, a.Name(), map[string]any{
			"bottlenecks":     analysis.Bottlenecks,
			"recommendations": analysis.Recommendations,
		}))
	}

	out = append(out, events.Followup(ev, events.ReportGenerated, a.Name(), map[string]any{
		"metrics":      collected,
		"analysis":     analysis,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}))

	out = append(out, events.Followup(ev, events.SlackNotification, a.Name(), map[string]any{
		"message": analyticsSummary(analysis),
	}))
	return out, nil
}

// collectMetrics assembles the analysis input from the in-process
// stores: per-agent counters plus a type distribution over recent
// events. Returns nil when the fleet has not processed anything yet.
func (a *AnalyticsInsights) collectMetrics(projectID int64, window int) map[string]any {
	if a.deps.Metrics == nil {
		return nil
	}

	snapshots := a.deps.Metrics.SnapshotAll()
	perAgent := make(map[string]any, len(snapshots))
	var totalProcessed, totalErrors int64
	for name, m := range snapshots {
		perAgent[name] = map[string]any{
			"events_processed":  m.EventsProcessed,
			"errors":            m.Errors,
			"avg_processing_ms": m.AvgProcessingMS,
		}
		totalProcessed += m.EventsProcessed
		totalErrors += m.Errors
	}
	if totalProcessed == 0 {
		return nil
	}

	typeDist := map[string]int{}
	recentErrors := 0
	if a.deps.History != nil {
		for _, rec := range a.deps.History.List(projectID, window) {
			typeDist[string(rec.Type)]++
			if rec.Type == events.AgentError {
				recentErrors++
			}
		}
	}

	return map[string]any{
		"agents":                 perAgent,
		"total_events_processed": totalProcessed,
		"total_errors":           totalErrors,
		"recent_event_types":     typeDist,
		"recent_agent_errors":    recentErrors,
		"analysis_window_events": window,
	}
}

func analyticsSummary(analysis MetricsAnalysis) string {
	summary := analysis.ExecutiveSummary
	if summary == "" {
		summary = "No summary available"
	}
	trend := analysis.Predictions.VelocityTrend
	if trend == "" {
		trend = "stable"
	}
	return fmt.Sprintf(
		"*Analytics Report* :chart_with_upwards_trend:\n%s\n\nSprint completion: %.0f%%\nVelocity trend: %s\nBottlenecks: %d",
		summary, analysis.Predictions.SprintCompletionPct, trend, len(analysis.Bottlenecks))
}
