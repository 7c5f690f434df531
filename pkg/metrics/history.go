package metrics

import (
	"sync"

	"github.com/shipit-ai/fleet/pkg/events"
)

// DefaultHistorySize bounds the number of retained events per project
// and globally.
const DefaultHistorySize = 1000

// ringLog is a bounded append-only log. Eviction drops the oldest
// entry once capacity is reached.
type ringLog struct {
	buf   []events.Event
	start int
	size  int
}

func newRingLog(capacity int) *ringLog {
	return &ringLog{buf: make([]events.Event, capacity)}
}

func (r *ringLog) append(ev events.Event) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// newestFirst copies up to limit entries in reverse insertion order.
func (r *ringLog) newestFirst(limit int) []events.Event {
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]events.Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.start + r.size - 1 - i) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// History retains a bounded, queryable log of events, keyed by project
// and globally. Ties in ordering are broken by insertion order, not by
// event timestamp: concurrent handlers record out-of-order timestamps
// under load.
type History struct {
	mu         sync.RWMutex
	capacity   int
	global     *ringLog
	perProject map[int64]*ringLog
}

// NewHistory creates a history store retaining up to capacity events
// per project (and globally). capacity <= 0 uses DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity:   capacity,
		global:     newRingLog(capacity),
		perProject: make(map[int64]*ringLog),
	}
}

// Append stores the event globally and under its project key.
func (h *History) Append(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global.append(ev)
	if ev.ProjectID == 0 {
		return
	}
	log, ok := h.perProject[ev.ProjectID]
	if !ok {
		log = newRingLog(h.capacity)
		h.perProject[ev.ProjectID] = log
	}
	log.append(ev)
}

// List returns up to limit most recent events for a project, newest
// first. projectID 0 reads the global log.
func (h *History) List(projectID int64, limit int) []events.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if projectID == 0 {
		return h.global.newestFirst(limit)
	}
	log, ok := h.perProject[projectID]
	if !ok {
		return []events.Event{}
	}
	return log.newestFirst(limit)
}
