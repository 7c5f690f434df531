// Package metrics keeps process-lifetime bookkeeping for the fleet:
// per-agent dispatch counters and latency, and the bounded event
// history backing the UI event log.
package metrics

import (
	"sync"
	"time"
)

// Outcome classifies one completed handler invocation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
)

// AgentMetrics is the snapshot shape surfaced to the control API.
// EventsProcessed and Errors are monotonically non-decreasing within a
// process lifetime; AvgProcessingMS is the running mean over
// successful dispatches.
type AgentMetrics struct {
	EventsProcessed int64      `json:"events_processed"`
	Errors          int64      `json:"errors"`
	AvgProcessingMS float64    `json:"avg_processing_ms"`
	LastRun         *time.Time `json:"last_run,omitempty"`
}

type agentEntry struct {
	mu      sync.Mutex
	metrics AgentMetrics
}

// Store tracks metrics per agent. The outer map is guarded by an
// RWMutex; each agent entry carries its own mutex so concurrent
// recordings for unrelated agents never contend.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*agentEntry
}

// NewStore creates an empty metrics store.
func NewStore() *Store {
	return &Store{agents: make(map[string]*agentEntry)}
}

func (s *Store) entry(agent string) *agentEntry {
	s.mu.RLock()
	e, ok := s.agents[agent]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.agents[agent]; ok {
		return e
	}
	e = &agentEntry{}
	s.agents[agent] = e
	return e
}

// Record stores the outcome of one completed dispatch. On success the
// running average is updated with new_avg = old_avg + (sample-old_avg)/n
// where n is the updated processed count.
func (s *Store) Record(agent string, outcome Outcome, processingMS float64) {
	e := s.entry(agent)
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch outcome {
	case OutcomeSuccess:
		e.metrics.EventsProcessed++
		n := float64(e.metrics.EventsProcessed)
		e.metrics.AvgProcessingMS += (processingMS - e.metrics.AvgProcessingMS) / n
	case OutcomeError:
		e.metrics.Errors++
	}
	e.metrics.LastRun = &now
}

// Snapshot returns a copy of one agent's metrics. Unknown agents yield
// a zero snapshot.
func (s *Store) Snapshot(agent string) AgentMetrics {
	s.mu.RLock()
	e, ok := s.agents[agent]
	s.mu.RUnlock()
	if !ok {
		return AgentMetrics{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.metrics
	if m.LastRun != nil {
		t := *m.LastRun
		m.LastRun = &t
	}
	return m
}

// SnapshotAll returns a copy of every agent's metrics.
func (s *Store) SnapshotAll() map[string]AgentMetrics {
	s.mu.RLock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make(map[string]AgentMetrics, len(names))
	for _, name := range names {
		out[name] = s.Snapshot(name)
	}
	return out
}
