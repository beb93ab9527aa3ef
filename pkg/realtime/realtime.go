// Package realtime provides an in-process publish/subscribe hub used to
// fan out newly staged Nostr events to multiple listeners (e.g. `listen`
// CLI sessions or pkg/deck WebSocket connections watching a live stage).
//
// Adapted directly from the teacher's pkg/realtime.FirehoseHub: same
// registry shape, same best-effort/drop-on-full-buffer semantics, same
// concurrency-safety guarantees. BlockEvent becomes event.Event; the
// InternalEvent wrapper's single "block" type becomes "event" — there is
// only ever one kind of Nostr event envelope here, so the Type field is
// kept for forward compatibility with future envelope kinds but is
// always "event" today.
package realtime

import (
	"sync"

	"github.com/sandwichfarm/cassette/pkg/event"
)

// Envelope is the hub's delivery unit, kept distinct from event.Event so
// a future envelope kind (e.g. a heartbeat) can be added without
// changing every channel's element type.
type Envelope struct {
	Type  string      `json:"type"`
	Event event.Event `json:"event"`
}

// Hub is an in-memory fan-out dispatcher. Each registered listener
// receives events via its own buffered channel; a full buffer drops the
// event for that listener only, so one slow consumer never backpressures
// staging or the other listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan Envelope
	nextID    uint64
	bufSize   int
}

// NewHub constructs a hub with the given per-listener buffer size. A
// non-positive bufSize defaults to 32.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		listeners: make(map[uint64]chan Envelope),
		bufSize:   bufSize,
	}
}

// Register adds a new listener and returns its id and receive-only
// channel. Callers must Unregister(id) when done.
func (h *Hub) Register() (uint64, <-chan Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Envelope, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes the listener with the given id and closes its
// channel. Safe to call multiple times; unknown ids are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Publish delivers e to every registered listener, best effort.
func (h *Hub) Publish(e event.Event) {
	envelope := Envelope{Type: "event", Event: e}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- envelope:
		default:
			// Drop for this slow listener only.
		}
	}
}

// Size returns the current number of active listeners (approximate).
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
