package agents

import (
	"context"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
	"github.com/shipit-ai/fleet/pkg/store"
)

// SlackNotifier is the terminal delivery agent: every other agent
// publishes notification.slack and this one posts it. It never emits
// follow-ups, so notification chains always end here.
type SlackNotifier struct {
	deps *Deps
}

var _ agent.Handler = (*SlackNotifier)(nil)

func NewSlackNotifier(deps *Deps) *SlackNotifier {
	deps.normalize()
	return &SlackNotifier{deps: deps}
}

func (s *SlackNotifier) Name() string { return "slack_notifier" }

func (s *SlackNotifier) Description() string {
	return "Delivers Slack notifications from all agents to connected workspaces"
}

func (s *SlackNotifier) SubscribedEvents() []events.Type {
	return []events.Type{events.SlackNotification}
}

func (s *SlackNotifier) ConfigSpec() agent.ConfigSpec {
	return agent.ConfigSpec{
		"default_channel": {
			Type:        agent.FieldString,
			Description: "Channel used when the event does not name one",
			Default:     "general",
		},
	}
}

func (s *SlackNotifier) Handle(ctx context.Context, ev events.Event, cfg agent.Config) ([]events.Event, error) {
	message := str(ev.Data, "message")
	if message == "" {
		s.deps.Log.Warn("empty slack message, skipping", "agent", s.Name())
		return nil, nil
	}

	conn, ok := s.deps.connection(ev.ProjectID, store.ServiceSlack)
	if !ok {
		s.deps.Log.Warn("no slack connection", "agent", s.Name(), "project_id", ev.ProjectID)
		return nil, nil
	}

	channel := str(ev.Data, "channel")
	if channel == "" {
		channel = str(conn.Config, "default_channel")
	}
	if channel == "" {
		channel, _ = cfg["default_channel"].(string)
	}
	if channel == "" {
		channel = "general"
	}

	slack := s.deps.NewSlack(conn.APIToken)
	if _, err := slack.PostMessage(ctx, channel, message, str(ev.Data, "thread_ts")); err != nil {
		s.deps.Log.Error("slack delivery failed",
			"agent", s.Name(), "channel", channel, "project_id", ev.ProjectID, "error", err)
		return nil, err
	}
	s.deps.Log.Info("slack message delivered", "agent", s.Name(), "channel", channel)
	return nil, nil
}
