package adapters

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackClient is the slack-go surface the notifier uses, narrowed for
// tests.
type SlackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// Slack posts fleet notifications through the Slack Web API.
type Slack struct {
	client SlackClient
}

var _ Pinger = (*Slack)(nil)

// NewSlack builds an adapter for a bot token.
func NewSlack(botToken string) *Slack {
	return &Slack{client: slack.New(botToken)}
}

// NewSlackWithClient injects a client, for tests.
func NewSlackWithClient(c SlackClient) *Slack {
	return &Slack{client: c}
}

// TestConnection runs auth.test against the token.
func (s *Slack) TestConnection(ctx context.Context) error {
	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	return nil
}

// PostMessage sends text to a channel, optionally threading under
// threadTS. It returns the message timestamp for later threading.
func (s *Slack) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := s.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post to %s: %w", channel, err)
	}
	return ts, nil
}
