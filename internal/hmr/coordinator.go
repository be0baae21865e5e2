package hmr

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Subscribe and QueueUpdate once Close has run.
// After Close, BroadcastError does nothing and Consume reports every id
// as unknown, since Close clears all pending updates.
var ErrClosed = errors.New("ionify: hmr coordinator closed")

// Coordinator is the hot-update fanout hub: it owns every subscriber
// Sink and every PendingUpdate, grounded on kai-playground/backend's
// SessionManager (map + mutex + per-entry lifecycle) generalized from
// HTTP sandbox sessions to HMR subscriber sinks.
type Coordinator struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]*Sink
	pending     map[string]*PendingUpdate
	nextID      uint64
	closed      bool
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		subscribers: make(map[uuid.UUID]*Sink),
		pending:     make(map[string]*PendingUpdate),
	}
}

// Subscribe registers a new Sink and sends it the initial "ready"
// event.
func (c *Coordinator) Subscribe() (*Sink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	sink := newSink()
	c.subscribers[sink.id] = sink
	sink.ch <- WireEvent{Type: "ready", Payload: "ok"}
	return sink, nil
}

// Unsubscribe deregisters and closes sink's channel. It is safe to
// call more than once.
func (c *Coordinator) Unsubscribe(id uuid.UUID) {
	c.mu.Lock()
	sink, ok := c.subscribers[id]
	if ok {
		delete(c.subscribers, id)
	}
	c.mu.Unlock()

	if ok {
		sink.closeOnce()
	}
}

// QueueUpdate assigns a monotonic id to modules, stores the
// PendingUpdate, and broadcasts a no-payload "update" summary to every
// subscriber, in the order QueueUpdate calls themselves are made (the
// whole operation runs under one lock so two concurrent callers cannot
// interleave their subscribers' view of event order).
func (c *Coordinator) QueueUpdate(modules []ModuleUpdate) (*PendingUpdate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	pu := &PendingUpdate{ID: id, Modules: modules, CreatedAt: time.Now()}
	c.pending[id] = pu

	ev := WireEvent{Type: "update", ID: id, Modules: summarize(modules)}
	c.broadcastLocked(ev)

	return pu, nil
}

// BroadcastError sends an "error" event to every subscriber, e.g. after
// a transform failure during apply.
func (c *Coordinator) BroadcastError(id, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.broadcastLocked(WireEvent{Type: "error", ID: id, Message: message})
}

// broadcastLocked must be called with c.mu held. It drops, rather than
// blocks on, any sink whose buffer is full.
func (c *Coordinator) broadcastLocked(ev WireEvent) {
	var stalled []*Sink
	for _, sink := range c.subscribers {
		select {
		case sink.ch <- ev:
		default:
			stalled = append(stalled, sink)
		}
	}
	for _, sink := range stalled {
		delete(c.subscribers, sink.id)
	}
	for _, sink := range stalled {
		sink.closeOnce()
	}
}

// Consume removes and returns the PendingUpdate for id exactly once;
// ok is false on an unknown or already-consumed id.
func (c *Coordinator) Consume(id string) (*PendingUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pu, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return pu, ok
}

// Close ends every sink and clears pending updates. It is idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subscribers
	c.subscribers = make(map[uuid.UUID]*Sink)
	c.pending = make(map[string]*PendingUpdate)
	c.mu.Unlock()

	for _, sink := range subs {
		sink.closeOnce()
	}
}
