package hmr

import (
	"sync"

	"github.com/google/uuid"
)

// sinkBufferSize bounds how many undelivered events a sink may queue
// before the coordinator drops it, per spec.md §9 ("do not buffer
// unbounded messages per sink").
const sinkBufferSize = 32

// Sink is a write-only per-subscriber event channel, keyed by a
// generated id so the coordinator can address it independently of
// whatever transport (SSE connection, in-process test harness) drains
// it.
type Sink struct {
	id   uuid.UUID
	ch   chan WireEvent
	once sync.Once
}

func newSink() *Sink {
	return &Sink{id: uuid.New(), ch: make(chan WireEvent, sinkBufferSize)}
}

// ID returns the sink's subscriber id.
func (s *Sink) ID() uuid.UUID { return s.id }

// Events returns the channel a subscriber's transport loop should
// range over. It is closed when the coordinator drops or shuts down
// this sink.
func (s *Sink) Events() <-chan WireEvent { return s.ch }

func (s *Sink) closeOnce() {
	s.once.Do(func() { close(s.ch) })
}
