// Package filter implements the NIP-01 filter object and the matching
// engine described in spec.md §4.5: per-filter predicates, NIP-119
// AND-tag semantics, the OR-across-filters / dedup-by-id union, and
// COUNT.
//
// Grounded on the teacher's pkg/search/service.go: SearchParams there is
// a parameter object that drives a storage query with pagination and
// aggregation; Filter plays the same role here, generalized from ergs'
// free-text query to NIP-01's structured field/tag grammar.
package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/eventstore"
)

// Filter is one NIP-01 filter object, extended with NIP-119 AND-tag keys.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int32
	Since   *int64
	Until   *int64
	// Limit is nil when the key is absent (no limit); a pointer to 0
	// means the key was present with value 0, which spec.md defines as
	// "return nothing".
	Limit   *int
	Tags    map[string][]string // "#X" OR-set, keyed by tag name X
	AndTags map[string][]string // "&X" AND-set, keyed by tag name X
}

// ParseError reports a filter whose value types don't match NIP-01's
// grammar (spec.md §4.5's FilterParseError).
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid filter: %s: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes one raw filter object. Unrecognized keys are ignored
// without error, per spec.md §4.5. Keys of the wrong shape (e.g. "kinds"
// not an array of integers) produce a *ParseError.
func Parse(raw json.RawMessage) (Filter, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Filter{}, &ParseError{Key: "<root>", Err: err}
	}

	f := Filter{}

	if v, ok := obj["ids"]; ok {
		if err := json.Unmarshal(v, &f.IDs); err != nil {
			return Filter{}, &ParseError{Key: "ids", Err: err}
		}
	}
	if v, ok := obj["authors"]; ok {
		if err := json.Unmarshal(v, &f.Authors); err != nil {
			return Filter{}, &ParseError{Key: "authors", Err: err}
		}
	}
	if v, ok := obj["kinds"]; ok {
		if err := json.Unmarshal(v, &f.Kinds); err != nil {
			return Filter{}, &ParseError{Key: "kinds", Err: err}
		}
	}
	if v, ok := obj["since"]; ok {
		var since int64
		if err := json.Unmarshal(v, &since); err != nil {
			return Filter{}, &ParseError{Key: "since", Err: err}
		}
		f.Since = &since
	}
	if v, ok := obj["until"]; ok {
		var until int64
		if err := json.Unmarshal(v, &until); err != nil {
			return Filter{}, &ParseError{Key: "until", Err: err}
		}
		f.Until = &until
	}
	if v, ok := obj["limit"]; ok {
		var limit int
		if err := json.Unmarshal(v, &limit); err != nil {
			return Filter{}, &ParseError{Key: "limit", Err: err}
		}
		if limit < 0 {
			return Filter{}, &ParseError{Key: "limit", Err: fmt.Errorf("must be non-negative, got %d", limit)}
		}
		f.Limit = &limit
	}

	for key, v := range obj {
		switch {
		case strings.HasPrefix(key, "#") && len(key) == 2:
			var values []string
			if err := json.Unmarshal(v, &values); err != nil {
				return Filter{}, &ParseError{Key: key, Err: err}
			}
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[key[1:]] = values
		case strings.HasPrefix(key, "&") && len(key) == 2:
			var values []string
			if err := json.Unmarshal(v, &values); err != nil {
				return Filter{}, &ParseError{Key: key, Err: err}
			}
			if f.AndTags == nil {
				f.AndTags = make(map[string][]string)
			}
			f.AndTags[key[1:]] = values
		}
		// Any other unrecognized key (including malformed "#"/"&" keys
		// whose name isn't a single letter) is silently ignored.
	}

	return f, nil
}

// Match reports whether e satisfies every constraint present in f.
// Absent keys impose no constraint. This is the single source of truth
// for filter semantics: both the indexed query plan in Engine and any
// fallback full scan re-check every candidate against Match, since the
// indexes are single-dimensional (spec.md §4.5).
func (f *Filter) Match(e *event.Event) bool {
	if len(f.IDs) > 0 && !anyPrefix(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !anyPrefix(f.Authors, e.Pubkey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	if f.Limit != nil && *f.Limit == 0 {
		return false // explicit limit:0 means "return nothing"
	}
	for name, values := range f.Tags {
		if !eventHasAnyTagValue(e, name, values) {
			return false
		}
	}
	for name, values := range f.AndTags {
		if !eventHasAllTagValues(e, name, values) {
			return false
		}
	}
	return true
}

func anyPrefix(prefixes []string, s string) bool {
	for _, p := range prefixes {
		if len(p) <= len(s) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

func containsKind(kinds []int32, k int32) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func eventHasAnyTagValue(e *event.Event, name string, values []string) bool {
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}
	for _, t := range e.Tags {
		if t.Name() == name && want[t.Value()] {
			return true
		}
	}
	return false
}

func eventHasAllTagValues(e *event.Event, name string, values []string) bool {
	have := make(map[string]bool)
	for _, t := range e.Tags {
		if t.Name() == name {
			have[t.Value()] = true
		}
	}
	for _, v := range values {
		if !have[v] {
			return false
		}
	}
	return true
}

// candidates returns the candidate pool for a single filter, following
// the query-plan heuristic of spec.md §4.5: probe the narrowest available
// index. The pool is not rechecked here; callers recheck Match on every
// candidate since every index is single-dimensional.
func candidates(f *Filter, store *eventstore.Store) []*event.Event {
	var pool []*event.Event
	switch {
	case len(f.IDs) > 0 && len(f.IDs) <= 16:
		for _, prefix := range f.IDs {
			pool = append(pool, store.IterByIDPrefix(prefix)...)
		}
	case len(f.Authors) > 0 && len(f.Authors) <= 16:
		for _, prefix := range f.Authors {
			pool = append(pool, store.IterByAuthorPrefix(prefix)...)
		}
	case len(f.Kinds) > 0 && len(f.Kinds) <= 16:
		for _, k := range f.Kinds {
			pool = append(pool, store.IterByKind(k)...)
		}
	case len(f.Tags) == 1 && len(f.AndTags) == 0:
		for name, values := range f.Tags {
			for _, v := range values {
				pool = append(pool, store.IterByTag(name, v)...)
			}
		}
	case len(f.AndTags) == 1 && len(f.Tags) == 0:
		for name, values := range f.AndTags {
			if len(values) > 0 {
				pool = append(pool, store.IterByTag(name, values[0])...)
			}
		}
	default:
		return store.IterAll()
	}
	return dedupStable(pool)
}

func dedupStable(events []*event.Event) []*event.Event {
	seen := make(map[string]bool, len(events))
	out := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	// the probed index already yields primary order for a single
	// source; when multiple prefixes/values were unioned above, resort.
	sort.Slice(out, func(i, j int) bool { return lessPrimary(out[i], out[j]) })
	return out
}

func lessPrimary(a, b *event.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}
