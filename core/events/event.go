package events

import (
	"sync"

	"rwacredit/core/types"
)

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the event stream,
// indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during a single transaction so they can be
// published only after the transaction commits.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	return b.events
}

// Reset discards buffered events.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.events = nil
}

// Committed wraps an already-stamped event so it can be re-emitted after
// commit.
type Committed struct {
	Payload *types.Event
}

func (c Committed) EventType() string {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Type
}

func (c Committed) Event() *types.Event { return c.Payload }

// Hub fans committed events out to any number of subscribers. Slow
// subscribers drop events rather than blocking the ledger.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan *types.Event
	sinks  []Emitter
	onDrop func()
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan *types.Event)}
}

// AddSink registers a synchronous emitter invoked for every event.
func (h *Hub) AddSink(sink Emitter) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// OnDrop registers a callback invoked whenever a slow subscriber misses an
// event.
func (h *Hub) OnDrop(fn func()) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

// Subscribe registers a buffered channel subscriber. The returned cancel
// function must be called to release the subscription.
func (h *Hub) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements the Emitter interface.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sink := range h.sinks {
		sink.Emit(Committed{Payload: payload.Clone()})
	}
	for _, ch := range h.subs {
		select {
		case ch <- payload.Clone():
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}
