// Package bus implements the in-process dispatcher: a single FIFO
// intake loop fanning events out to subscribed agents, with
// per-invocation timeouts, fault isolation, chain-depth guarding, and
// named fan-out taps for live streaming.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shipit-ai/fleet/pkg/agent"
	"github.com/shipit-ai/fleet/pkg/events"
	"github.com/shipit-ai/fleet/pkg/metrics"
)

var (
	// ErrBusClosed is returned by Publish after Close.
	ErrBusClosed = errors.New("event bus closed")

	// ErrMissingType is returned for events published without a type.
	ErrMissingType = errors.New("event type required")
)

const (
	defaultHandlerTimeout = 30 * time.Second
	defaultMaxChainDepth  = 16
	tapBuffer             = 64
)

// item is the internal dispatch envelope. depth counts republish hops
// along one causal chain.
type item struct {
	ev    events.Event
	depth int
}

// tap is a named subscriber channel receiving copies of every
// published event. Slow taps drop; the dispatch path never blocks on
// an observer.
type tap struct {
	name string
	ch   chan events.Event
}

// Option configures a Bus.
type Option func(*Bus)

// WithHandlerTimeout overrides the per-invocation handler deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.handlerTimeout = d
		}
	}
}

// WithMaxChainDepth overrides the causal chain depth budget.
func WithMaxChainDepth(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxChainDepth = n
		}
	}
}

// WithDemoPayloads supplies the per-agent default payloads merged into
// manual trigger events.
func WithDemoPayloads(payloads map[string]map[string]any) Option {
	return func(b *Bus) { b.demoPayloads = payloads }
}

// Bus routes published events to subscribed agents. Publish never
// blocks on handler work: events land in an unbounded FIFO queue and a
// single dispatch loop drains it, handing each (event, agent) pair to
// the agent's serial work queue. One agent sees its events in publish
// order; different agents run in parallel.
type Bus struct {
	log      *slog.Logger
	registry *agent.Registry
	metrics  *metrics.Store
	history  *metrics.History
	routes   *routeTable

	handlerTimeout time.Duration
	maxChainDepth  int
	demoPayloads   map[string]map[string]any

	mu          sync.Mutex
	queue       []item
	dispatching bool
	wake        chan struct{}
	closed      bool
	running     bool

	// inflight counts queued-or-running handler invocations; idle is
	// broadcast on every transition that could complete a drain. Both
	// are owned by mu.
	inflight int
	idle     *sync.Cond
	pending  map[string][]item
	draining map[string]bool

	taps   []*tap
	tapsMu sync.RWMutex

	loopDone chan struct{}
}

// New builds a bus over the registry's roster. The routing table is
// compiled once; the roster is static after startup.
func New(log *slog.Logger, reg *agent.Registry, ms *metrics.Store, hist *metrics.History, opts ...Option) *Bus {
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{
		log:            log.With("component", "bus"),
		registry:       reg,
		metrics:        ms,
		history:        hist,
		routes:         buildRoutes(reg.All()),
		handlerTimeout: defaultHandlerTimeout,
		maxChainDepth:  defaultMaxChainDepth,
		wake:           make(chan struct{}, 1),
		pending:        make(map[string][]item),
		draining:       make(map[string]bool),
		loopDone:       make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the dispatch loop. It returns immediately; the loop
// runs until ctx is cancelled or Close is called.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running || b.closed {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.log.Info("event bus started",
		"handler_timeout", b.handlerTimeout.String(),
		"max_chain_depth", b.maxChainDepth)
	go b.loop(ctx)
}

// IsRunning reports whether the dispatch loop is active.
func (b *Bus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Publish validates and enqueues an event for dispatch. It fills the
// envelope (ID, timestamp, empty data map), records the event in
// history, and fans it out to taps. Publish never blocks on handler
// work and never fails because a handler will fail.
func (b *Bus) Publish(ev events.Event) error {
	if ev.Type == "" {
		return ErrMissingType
	}
	return b.enqueue(ev, 0)
}

func (b *Bus) enqueue(ev events.Event, depth int) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.queue = append(b.queue, item{ev: ev, depth: depth})
	b.mu.Unlock()

	b.observe(ev)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// observe records the event in history and copies it to taps.
func (b *Bus) observe(ev events.Event) {
	if b.history != nil {
		b.history.Append(ev)
	}
	b.tapsMu.RLock()
	for _, t := range b.taps {
		select {
		case t.ch <- ev:
		default: // drop if slow
		}
	}
	b.tapsMu.RUnlock()
}

// SubscribeTap creates a named tap receiving copies of every published
// event. The channel is buffered; slow consumers miss events rather
// than stalling dispatch.
func (b *Bus) SubscribeTap(name string) <-chan events.Event {
	b.tapsMu.Lock()
	defer b.tapsMu.Unlock()
	t := &tap{name: name, ch: make(chan events.Event, tapBuffer)}
	b.taps = append(b.taps, t)
	return t.ch
}

func (b *Bus) loop(ctx context.Context) {
	defer close(b.loopDone)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				b.setStopped()
				return
			}
			select {
			case <-ctx.Done():
				b.setStopped()
				return
			case <-b.wake:
			}
			b.mu.Lock()
		}
		it := b.queue[0]
		b.queue = b.queue[1:]
		b.dispatching = true
		b.mu.Unlock()

		// inflight is bumped inside dispatch before the flag drops, so
		// WaitIdle never observes a popped-but-untracked event.
		b.dispatch(ctx, it)

		b.mu.Lock()
		b.dispatching = false
		b.idle.Broadcast()
		b.mu.Unlock()
	}
}

func (b *Bus) setStopped() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// dispatch fans one event out to its subscribers. Each invocation is
// appended to the agent's serial work queue: events reach one agent in
// publish order, and one slow agent never delays the others. The loop
// moves on to the next queued event immediately.
func (b *Bus) dispatch(ctx context.Context, it item) {
	targets := b.routes.route(it.ev.Type)
	if len(targets) == 0 {
		return
	}
	for _, name := range targets {
		if !b.registry.IsEnabled(it.ev.ProjectID, name) {
			continue
		}
		h, err := b.registry.Get(name)
		if err != nil {
			continue
		}
		b.mu.Lock()
		b.inflight++
		b.pending[name] = append(b.pending[name], it)
		if !b.draining[name] {
			b.draining[name] = true
			go b.drainAgent(ctx, h, name)
		}
		b.mu.Unlock()
	}
}

// drainAgent works one agent's queue until it is empty. At most one
// drainAgent goroutine runs per agent at a time.
func (b *Bus) drainAgent(ctx context.Context, h agent.Handler, name string) {
	for {
		b.mu.Lock()
		queue := b.pending[name]
		if len(queue) == 0 {
			b.draining[name] = false
			b.mu.Unlock()
			return
		}
		it := queue[0]
		b.pending[name] = queue[1:]
		b.mu.Unlock()

		b.invoke(ctx, h, it)

		b.mu.Lock()
		b.inflight--
		b.idle.Broadcast()
		b.mu.Unlock()
	}
}

// invoke runs one handler against one event, enforcing the timeout,
// recording metrics, and republishing emissions or the agent.error.
func (b *Bus) invoke(ctx context.Context, h agent.Handler, it item) {
	name := h.Name()
	cfg := b.registry.ConfigFor(it.ev.ProjectID, name)

	hctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	type result struct {
		emitted []events.Event
		err     error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		emitted, err := h.Handle(hctx, it.ev, cfg)
		done <- result{emitted, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-hctx.Done():
		res.err = fmt.Errorf("handler timed out after %s", b.handlerTimeout)
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if res.err != nil {
		b.metrics.Record(name, metrics.OutcomeError, elapsed)
		b.log.Error("agent handler failed",
			"agent", name, "event_type", it.ev.Type.String(),
			"event_id", it.ev.ID, "error", res.err)
		b.publishError(it, name, res.err, elapsed)
		return
	}

	b.metrics.Record(name, metrics.OutcomeSuccess, elapsed)
	b.registry.RecordRun(it.ev.ProjectID, name)
	b.log.Info("agent handled event",
		"agent", name, "event_type", it.ev.Type.String(),
		"event_id", it.ev.ID, "emitted", len(res.emitted),
		"processing_ms", elapsed)

	// A breach terminates the whole batch: one terminal agent.error
	// per parent event, however many follow-ups were refused.
	if len(res.emitted) > 0 && it.depth+1 > b.maxChainDepth {
		b.terminalError(it, fmt.Sprintf("chain depth %d exceeded", b.maxChainDepth), name)
		return
	}
	for _, out := range res.emitted {
		b.republish(it, out, name)
	}
}

// republish chains a handler emission back into the bus, propagating
// the correlation id. The caller has already cleared the depth budget.
func (b *Bus) republish(parent item, ev events.Event, source string) {
	if ev.SourceAgent == "" {
		ev.SourceAgent = source
	}
	if ev.ProjectID == 0 {
		ev.ProjectID = parent.ev.ProjectID
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = parent.ev.CorrelationID
		if ev.CorrelationID == "" {
			ev.CorrelationID = parent.ev.ID
		}
	}
	if err := b.enqueue(ev, parent.depth+1); err != nil {
		b.log.Warn("dropped follow-up event", "event_type", ev.Type.String(), "error", err)
	}
}

// publishError emits the agent.error follow-up for a failed
// invocation.
func (b *Bus) publishError(parent item, agentName string, err error, processingMS float64) {
	ev := events.Followup(parent.ev, events.AgentError, events.SourceBus, map[string]any{
		"agent":         agentName,
		"event_type":    parent.ev.Type.String(),
		"error":         err.Error(),
		"processing_ms": processingMS,
	})
	depth := parent.depth + 1
	if depth > b.maxChainDepth {
		b.terminalError(parent, fmt.Sprintf("chain depth %d exceeded", b.maxChainDepth), agentName)
		return
	}
	if eerr := b.enqueue(ev, depth); eerr != nil {
		b.log.Warn("dropped agent.error event", "agent", agentName, "error", eerr)
	}
}

// terminalError records a depth-budget breach in history and taps
// without re-entering the dispatch queue, so a runaway chain ends
// here.
func (b *Bus) terminalError(parent item, reason, agentName string) {
	ev := events.Followup(parent.ev, events.AgentError, events.SourceBus, map[string]any{
		"agent":      agentName,
		"event_type": parent.ev.Type.String(),
		"error":      reason,
	})
	b.log.Error("event chain terminated", "agent", agentName, "reason", reason,
		"correlation_id", ev.CorrelationID)
	b.observe(ev)
}

// Trigger synthesizes the agent's primary subscribed event type for a
// manual run. Demo payload defaults are merged under caller-supplied
// data; the caller's keys win.
func (b *Bus) Trigger(projectID int64, agentName string, data map[string]any) (events.Event, error) {
	h, err := b.registry.Get(agentName)
	if err != nil {
		return events.Event{}, err
	}
	subs := h.SubscribedEvents()
	if len(subs) == 0 {
		return events.Event{}, fmt.Errorf("agent %s has no subscriptions to trigger", agentName)
	}

	payload := map[string]any{}
	for k, v := range b.demoPayloads[agentName] {
		payload[k] = v
	}
	for k, v := range data {
		payload[k] = v
	}

	ev := events.New(subs[0], events.SourceManualTrigger, projectID, payload)
	if err := b.Publish(ev); err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

// idleLocked reports whether no event is queued, popped, or being
// handled. Caller holds b.mu.
func (b *Bus) idleLocked() bool {
	return len(b.queue) == 0 && !b.dispatching && b.inflight == 0
}

// WaitIdle blocks until the queue is drained and no handler is in
// flight, or ctx expires. Intended for shutdown and tests.
func (b *Bus) WaitIdle(ctx context.Context) error {
	// Wake the cond wait on cancellation; Wait itself cannot observe
	// the context.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.idle.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.idleLocked() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.idle.Wait()
	}
	return nil
}

// Close stops intake, lets the loop drain, and closes tap channels.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	wasRunning := b.running
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	if wasRunning {
		<-b.loopDone
	}
	b.mu.Lock()
	for b.inflight > 0 {
		b.idle.Wait()
	}
	b.mu.Unlock()

	b.tapsMu.Lock()
	for _, t := range b.taps {
		close(t.ch)
	}
	b.taps = nil
	b.tapsMu.Unlock()
	b.log.Info("event bus closed")
}
