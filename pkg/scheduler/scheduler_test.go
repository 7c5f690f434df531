package scheduler

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipit-ai/fleet/pkg/events"
)

type capturePublisher struct {
	published []events.Event
}

func (c *capturePublisher) Publish(ev events.Event) error {
	c.published = append(c.published, ev)
	return nil
}

func newTestScheduler() (*Scheduler, *capturePublisher) {
	pub := &capturePublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, pub), pub
}

func TestAddRejectsInvalidExpression(t *testing.T) {
	s, _ := newTestScheduler()
	err := s.AddMetricsReport("not a cron", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestAddRejectsMissingBuilder(t *testing.T) {
	s, _ := newTestScheduler()
	err := s.Add(Job{Name: "empty", Expr: "* * * * *"})
	require.Error(t, err)
}

func TestRunDuePublishesMatchingJobs(t *testing.T) {
	s, pub := newTestScheduler()
	require.NoError(t, s.AddMetricsReport("* * * * *", 7))
	require.NoError(t, s.Add(Job{
		Name: "never_in_january",
		Expr: "0 0 1 2 *",
		Build: func(now time.Time) events.Event {
			return events.New(events.MetricsCollected, events.SourceScheduler, 8, nil)
		},
	}))

	// A minute where only the every-minute job is due.
	at := time.Date(2026, time.March, 3, 10, 30, 0, 0, time.UTC)
	s.runDue(at)

	require.Len(t, pub.published, 1)
	got := pub.published[0]
	assert.Equal(t, events.MetricsCollected, got.Type)
	assert.Equal(t, events.SourceScheduler, got.SourceAgent)
	assert.Equal(t, int64(7), got.ProjectID)
	assert.Equal(t, "scheduled", got.Data["trigger"])
}

func TestRunDueHourlyBoundary(t *testing.T) {
	s, pub := newTestScheduler()
	require.NoError(t, s.AddMetricsReport("0 * * * *", 7))

	s.runDue(time.Date(2026, time.March, 3, 10, 30, 0, 0, time.UTC))
	assert.Empty(t, pub.published)

	s.runDue(time.Date(2026, time.March, 3, 11, 0, 0, 0, time.UTC))
	require.Len(t, pub.published, 1)
}
