// Package subscription implements the per-cassette SubscriptionTable and
// state machine described in spec.md §4.6: a subscription is a named,
// restartable cursor over a lazily-computed candidate set, driven one
// event per send() call.
//
// Grounded on the teacher's pkg/realtime.FirehoseHub — a concurrency-safe
// per-listener registry — restructured from FirehoseHub's push fan-out
// model to the pull, single-cursor-per-id model spec.md requires.
package subscription

import (
	"reflect"
	"sync"
	"time"

	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/filter"
)

// Phase is a subscription's position in the state machine of spec.md §4.6.
type Phase int

const (
	Streaming Phase = iota
	Drained
	Closed
)

func (p Phase) String() string {
	switch p {
	case Streaming:
		return "streaming"
	case Drained:
		return "drained"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is one open (or just-closed) REQ. Cursor is a persistent
// index into a precomputed candidate slice rather than a suspended
// coroutine, per spec.md §9 — send() must be run-to-completion.
type Subscription struct {
	ID        string
	Filters   []filter.Filter
	Cursor    int
	Phase     Phase
	CreatedAt time.Time

	candidates []*event.Event // nil until the first Next() call (lazy)
}

// Table is the per-cassette-instance map from subscription id to its
// Subscription. The zero value is not usable; use New.
type Table struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// New creates an empty subscription table.
func New() *Table {
	return &Table{subs: make(map[string]*Subscription)}
}

// Open installs or reinstalls a subscription for a REQ frame. If a
// subscription with this id already exists and carries byte-for-byte
// identical filters, it is returned unchanged — this is what lets a host
// drive a drain loop by repeating the same REQ payload (spec.md §4.6's
// "subsequent calls with the same REQ body advance the cursor"). Any
// other case (new id, or an existing id with different filters) replaces
// it with a fresh Streaming subscription at cursor 0, silently dropping
// the old cursor.
func (t *Table) Open(subID string, filters []filter.Filter) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.subs[subID]; ok && existing.Phase != Closed && sameFilters(existing.Filters, filters) {
		return existing
	}

	sub := &Subscription{
		ID:        subID,
		Filters:   filters,
		Phase:     Streaming,
		CreatedAt: time.Now(),
	}
	t.subs[subID] = sub
	return sub
}

// Get returns the subscription for subID, if any. Close removes a
// subscription from the table, so Get never returns a closed one.
func (t *Table) Get(subID string) (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.subs[subID]
	return s, ok
}

// Close removes subID from the table and reports whether it had been
// open. Per spec.md §4.6, a CLOSE for a subscription id never opened is
// the caller's cue to emit "unknown subscription".
func (t *Table) Close(subID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.subs[subID]
	delete(t.subs, subID)
	return ok
}

// Next advances sub's cursor and returns the next candidate event. query
// computes the full candidate set the first time Next is called on a
// fresh subscription (the "compute lazily" requirement of spec.md §4.6);
// subsequent calls reuse the cached slice. ok is false once the cursor
// has run past the end, at which point Phase becomes Drained.
func (s *Subscription) Next(query func([]filter.Filter) []*event.Event) (*event.Event, bool) {
	if s.candidates == nil {
		s.candidates = query(s.Filters)
	}
	if s.Cursor >= len(s.candidates) {
		s.Phase = Drained
		return nil, false
	}
	e := s.candidates[s.Cursor]
	s.Cursor++
	if s.Cursor >= len(s.candidates) {
		s.Phase = Drained
	}
	return e, true
}

func sameFilters(a, b []filter.Filter) bool {
	return reflect.DeepEqual(a, b)
}
