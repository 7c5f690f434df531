// Package scheduler publishes periodic fleet events on a cron
// schedule, driving the analytics agent without any external trigger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/shipit-ai/fleet/pkg/events"
)

// Publisher is the bus surface the scheduler needs.
type Publisher interface {
	Publish(ev events.Event) error
}

// Job is one cron entry: when due, build fires and the event is
// published.
type Job struct {
	Name  string
	Expr  string
	Build func(now time.Time) events.Event
}

// Scheduler checks its jobs once per minute against their cron
// expressions. Ticks are aligned to minute boundaries so an expression
// is evaluated exactly once per matching minute.
type Scheduler struct {
	log  *slog.Logger
	bus  Publisher
	gron *gronx.Gronx

	mu   sync.Mutex
	jobs []Job

	done chan struct{}
	once sync.Once
}

// New creates a scheduler. Jobs are added before Start.
func New(log *slog.Logger, bus Publisher) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:  log.With("component", "scheduler"),
		bus:  bus,
		gron: gronx.New(),
		done: make(chan struct{}),
	}
}

// Add registers a job. The cron expression is validated up front.
func (s *Scheduler) Add(job Job) error {
	if !s.gron.IsValid(job.Expr) {
		return fmt.Errorf("invalid cron expression %q for job %s", job.Expr, job.Name)
	}
	if job.Build == nil {
		return fmt.Errorf("job %s has no event builder", job.Name)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// AddMetricsReport schedules a metrics collection event for projectID
// on expr, feeding the analytics agent.
func (s *Scheduler) AddMetricsReport(expr string, projectID int64) error {
	return s.Add(Job{
		Name: "metrics_report",
		Expr: expr,
		Build: func(now time.Time) events.Event {
			return events.New(events.MetricsCollected, events.SourceScheduler, projectID, map[string]any{
				"trigger":      "scheduled",
				"scheduled_at": now.UTC().Format(time.RFC3339),
			})
		},
	})
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the tick loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Scheduler) loop(ctx context.Context) {
	// First tick at the next minute boundary, then every minute.
	now := time.Now()
	next := now.Truncate(time.Minute).Add(time.Minute)
	timer := time.NewTimer(next.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case tick := <-timer.C:
			s.runDue(tick)
			now = time.Now()
			next = now.Truncate(time.Minute).Add(time.Minute)
			timer.Reset(next.Sub(now))
		}
	}
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		due, err := s.gron.IsDue(job.Expr, now)
		if err != nil {
			s.log.Error("cron evaluation failed", "job", job.Name, "expr", job.Expr, "error", err)
			continue
		}
		if !due {
			continue
		}
		ev := job.Build(now)
		if err := s.bus.Publish(ev); err != nil {
			s.log.Error("scheduled publish failed", "job", job.Name, "error", err)
			continue
		}
		s.log.Info("scheduled event published", "job", job.Name, "type", ev.Type)
	}
}
