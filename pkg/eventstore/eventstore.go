// Package eventstore owns the compile-time-frozen, read-only collection
// of events embedded in a cassette (spec.md §4.4): build-time
// normalization (replaceable/addressable collapse, dedup, primary sort)
// and the lookup primitives pkg/filter's query planner uses.
//
// Grounded on the teacher's pkg/storage/generic.go (build indexes once
// over a frozen batch) and pkg/core/registry.go (map-based lookup
// registries), generalized from ergs' free-form metadata store to
// NIP-01's fixed event shape and its replaceable-kind rules, which have
// no teacher analog and come from spec.md §4.4 directly.
package eventstore

import (
	"sort"

	"github.com/sandwichfarm/cassette/pkg/event"
)

// tagKey is the (name, value) pair an inverted tag index is keyed by.
type tagKey struct {
	name  string
	value string
}

// Store is the immutable, indexed event set a cassette queries against.
// Once Build returns a Store, nothing in this package mutates it again.
type Store struct {
	primary  []*event.Event
	byID     map[string]*event.Event
	byAuthor map[string][]*event.Event
	byKind   map[int32][]*event.Event
	byTag    map[tagKey][]*event.Event
}

// Build normalizes a raw event batch into a Store following spec.md
// §4.4's five build-time steps: validate, collapse replaceable/
// addressable kinds, dedup by id, sort into primary order, and index.
//
// Events that fail validation are excluded from the Store and reported
// in errs; Build itself never aborts — callers decide what an invalid
// event means for them (pkg/builder validates and drops invalid events
// before rendering, and returns ValidationError only when none survive).
func Build(events []event.Event) (*Store, []error) {
	var errs []error
	valid := make([]*event.Event, 0, len(events))
	for i := range events {
		e := events[i]
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, &e)
	}

	collapsed := collapseReplaceable(valid)
	collapsed = collapseAddressable(collapsed)
	deduped := dedupByID(collapsed)

	sort.Slice(deduped, func(i, j int) bool {
		return primaryLess(deduped[i], deduped[j])
	})

	s := &Store{
		primary:  deduped,
		byID:     make(map[string]*event.Event, len(deduped)),
		byAuthor: make(map[string][]*event.Event),
		byKind:   make(map[int32][]*event.Event),
		byTag:    make(map[tagKey][]*event.Event),
	}
	for _, e := range deduped {
		s.byID[e.ID] = e
		s.byAuthor[e.Pubkey] = append(s.byAuthor[e.Pubkey], e)
		s.byKind[e.Kind] = append(s.byKind[e.Kind], e)
		seen := make(map[tagKey]bool)
		for _, t := range e.Tags {
			if !t.Indexable() {
				continue
			}
			k := tagKey{name: t.Name(), value: t.Value()}
			if seen[k] {
				continue // one event, one tag-pair index entry even with repeated rows
			}
			seen[k] = true
			s.byTag[k] = append(s.byTag[k], e)
		}
	}

	return s, errs
}

// primaryLess orders by (created_at DESC, id DESC), the canonical
// ordering spec.md §4.4 calls "primary order".
func primaryLess(a, b *event.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// collapseReplaceable keeps, for kinds {0, 3, 41} and [10000,20000), only
// the newest event per pubkey (primary-order tiebreak).
func collapseReplaceable(events []*event.Event) []*event.Event {
	latest := make(map[string]*event.Event) // pubkey -> newest
	var passthrough []*event.Event
	for _, e := range events {
		if !event.Replaceable(e.Kind) {
			passthrough = append(passthrough, e)
			continue
		}
		key := replaceableKey(e)
		cur, ok := latest[key]
		if !ok || primaryLess(e, cur) {
			latest[key] = e
		}
	}
	for _, e := range latest {
		passthrough = append(passthrough, e)
	}
	return passthrough
}

func replaceableKey(e *event.Event) string {
	// Kind participates in the key so kind 0 and kind 3 events from the
	// same pubkey don't collide with each other.
	return e.Pubkey + "\x00" + itoa(e.Kind)
}

// collapseAddressable keeps, for [30000,40000), only the newest event per
// (pubkey, kind, d-tag value).
func collapseAddressable(events []*event.Event) []*event.Event {
	latest := make(map[string]*event.Event)
	var passthrough []*event.Event
	for _, e := range events {
		if !event.Addressable(e.Kind) {
			passthrough = append(passthrough, e)
			continue
		}
		key := e.Pubkey + "\x00" + itoa(e.Kind) + "\x00" + e.DTag()
		cur, ok := latest[key]
		if !ok || primaryLess(e, cur) {
			latest[key] = e
		}
	}
	for _, e := range latest {
		passthrough = append(passthrough, e)
	}
	return passthrough
}

func dedupByID(events []*event.Event) []*event.Event {
	seen := make(map[string]bool, len(events))
	out := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

func itoa(k int32) string {
	// Avoid pulling in strconv for one call site; kinds are small
	// non-negative integers in practice but int32 is the declared width.
	if k == 0 {
		return "0"
	}
	neg := k < 0
	if neg {
		k = -k
	}
	var buf [12]byte
	i := len(buf)
	for k > 0 {
		i--
		buf[i] = byte('0' + k%10)
		k /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ByID looks up an event by its exact, full id.
func (s *Store) ByID(id string) (*event.Event, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// IterAll returns every event in primary order.
func (s *Store) IterAll() []*event.Event {
	return s.primary
}

// IterByAuthorPrefix returns, in primary order, every event whose pubkey
// has the given prefix. A full 64-char prefix is an O(1) index lookup;
// shorter prefixes fall back to a primary-order scan, since the
// by-author index is keyed by exact pubkey (spec.md's query-plan
// heuristic is a performance hint, not a contract — the predicate is
// always rechecked regardless of which path is taken).
func (s *Store) IterByAuthorPrefix(prefix string) []*event.Event {
	if len(prefix) == 64 {
		return s.byAuthor[prefix]
	}
	var out []*event.Event
	for _, e := range s.primary {
		if hasPrefix(e.Pubkey, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// IterByIDPrefix returns, in primary order, every event whose id has the
// given prefix. A full 64-char prefix is an O(1) index lookup (returning
// at most one event, since ids are unique); shorter prefixes fall back to
// a primary-order scan.
func (s *Store) IterByIDPrefix(prefix string) []*event.Event {
	if len(prefix) == 64 {
		if e, ok := s.byID[prefix]; ok {
			return []*event.Event{e}
		}
		return nil
	}
	var out []*event.Event
	for _, e := range s.primary {
		if hasPrefix(e.ID, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// IterByKind returns, in primary order, every event of the given kind.
func (s *Store) IterByKind(kind int32) []*event.Event {
	return s.byKind[kind]
}

// IterByTag returns, in primary order, every event carrying an
// indexable tag row (name, value).
func (s *Store) IterByTag(name, value string) []*event.Event {
	return s.byTag[tagKey{name: name, value: value}]
}

// Len reports the number of events in the store.
func (s *Store) Len() int {
	return len(s.primary)
}

func hasPrefix(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}
