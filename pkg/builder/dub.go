package builder

import (
	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/filter"
)

// Dub implements CassetteBuilder's merge operation (spec.md §4.7): take
// N input event batches (one per source cassette or staged batch),
// optionally apply a filter, dedup by id across all of them, and run
// the ordinary Build pipeline over the union. Renormalization —
// including replaceable/addressable collapse — happens inside
// eventstore.Build during the rendered guest's own init(), exactly as
// it would for a single-source build; Dub's only extra responsibility
// is cross-input dedup before that point.
func Dub(inputs [][]event.Event, f *filter.Filter, meta Meta, opts Options) (*Result, error) {
	return Build(mergeInputs(inputs, f), meta, opts)
}

// mergeInputs flattens inputs into a single id-deduplicated slice, first
// seen wins, optionally narrowed by f.
func mergeInputs(inputs [][]event.Event, f *filter.Filter) []event.Event {
	seen := make(map[string]bool)
	var merged []event.Event
	for _, batch := range inputs {
		for _, e := range batch {
			if seen[e.ID] {
				continue
			}
			if f != nil && !f.Match(&e) {
				continue
			}
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	return merged
}

// defaultSupportedNIPs is the NIP set every cassette built by this
// repository supports: NIP-01 (core protocol), NIP-12 (indexable
// tags), NIP-16 (replaceable events), NIP-45 (COUNT), NIP-119 (AND-tag
// filters).
var defaultSupportedNIPs = []int{1, 12, 16, 45, 119}
