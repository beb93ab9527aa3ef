package filter

import (
	"sort"

	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/eventstore"
)

// Engine evaluates a REQ/COUNT's filter list against an EventStore,
// producing the ordered, id-deduplicated candidate sequence spec.md
// §4.5 describes, or an exact count for COUNT.
//
// Open Question resolution (spec.md §9, recorded in DESIGN.md): limits
// are tracked per filter, not REQ-wide — each filter in a multi-filter
// REQ counts only the events it itself matched toward its own Limit
// before the filters' results are unioned and id-deduplicated.
type Engine struct {
	store *eventstore.Store
}

// NewEngine builds an Engine over store.
func NewEngine(store *eventstore.Store) *Engine {
	return &Engine{store: store}
}

// Query returns the ordered, deduplicated union of every filter's
// matches, honoring each filter's independent Limit.
func (eng *Engine) Query(filters []Filter) []*event.Event {
	seen := make(map[string]bool)
	var out []*event.Event
	for i := range filters {
		matched := eng.matchFilter(&filters[i])
		for _, e := range matched {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessPrimary(out[i], out[j]) })
	return out
}

// Count returns the exact cardinality of the id-deduplicated union of
// every filter's matches, ignoring Limit (spec.md §4.5: COUNT always
// reports the true cardinality of the matched set, and Approximate is
// always false for cassettes). Property P10 ties this to Query via
// draining a REQ with no limit applied.
func (eng *Engine) Count(filters []Filter) int {
	seen := make(map[string]bool)
	n := 0
	for i := range filters {
		for _, e := range eng.matchFilterUnlimited(&filters[i]) {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			n++
		}
	}
	return n
}

// matchFilter returns one filter's matches in primary order, truncated
// to its own Limit if present.
func (eng *Engine) matchFilter(f *Filter) []*event.Event {
	matched := eng.matchFilterUnlimited(f)
	if f.Limit != nil && len(matched) > *f.Limit {
		matched = matched[:*f.Limit]
	}
	return matched
}

func (eng *Engine) matchFilterUnlimited(f *Filter) []*event.Event {
	pool := candidates(f, eng.store)
	out := make([]*event.Event, 0, len(pool))
	for _, e := range pool {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}
