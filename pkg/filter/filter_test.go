package filter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/eventstore"
)

func hx(seed byte) string {
	var b strings.Builder
	for i := 0; i < 64; i++ {
		b.WriteByte("0123456789abcdef"[(int(seed)+i)%16])
	}
	return b.String()
}

func sig() string { return strings.Repeat("ab", 64) }

func ev(id, pubkey string, kind int32, createdAt int64, tags []event.Tag) event.Event {
	return event.Event{ID: id, Pubkey: pubkey, Kind: kind, CreatedAt: createdAt, Tags: tags, Content: "x", Sig: sig()}
}

func mustParse(t *testing.T, raw string) Filter {
	t.Helper()
	f, err := Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return f
}

func TestParseRejectsWrongShape(t *testing.T) {
	_, err := Parse(json.RawMessage(`{"kinds":"not-an-array"}`))
	require.Error(t, err)
}

func TestParseIgnoresUnknownKeys(t *testing.T) {
	f, err := Parse(json.RawMessage(`{"kinds":[1],"made_up_key":123}`))
	require.NoError(t, err)
	assert.Len(t, f.Kinds, 1)
}

// S2: kind filter excludes.
func TestS2KindFilterExcludes(t *testing.T) {
	e1 := ev(hx(1), hx(10), 1, 100, nil)
	e2 := ev(hx(2), hx(10), 7, 200, nil)
	store, errs := eventstore.Build([]event.Event{e1, e2})
	require.Empty(t, errs)
	eng := NewEngine(store)

	f := mustParse(t, `{"kinds":[1]}`)
	got := eng.Query([]Filter{f})
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

// S3 / P9: AND-tag (NIP-119).
func TestS3AndTag(t *testing.T) {
	e1 := ev(hx(1), hx(10), 1, 100, []event.Tag{{"t", "a"}, {"t", "b"}})
	e2 := ev(hx(2), hx(10), 1, 200, []event.Tag{{"t", "a"}})
	store, errs := eventstore.Build([]event.Event{e1, e2})
	require.Empty(t, errs)
	eng := NewEngine(store)

	f := mustParse(t, `{"&t":["a","b"]}`)
	got := eng.Query([]Filter{f})
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

func TestORTagAcrossValues(t *testing.T) {
	e1 := ev(hx(1), hx(10), 1, 100, []event.Tag{{"t", "a"}})
	e2 := ev(hx(2), hx(10), 1, 200, []event.Tag{{"t", "b"}})
	e3 := ev(hx(3), hx(10), 1, 150, []event.Tag{{"t", "c"}})
	store, errs := eventstore.Build([]event.Event{e1, e2, e3})
	require.Empty(t, errs)
	eng := NewEngine(store)

	got := eng.Query([]Filter{mustParse(t, `{"#t":["a","b"]}`)})
	assert.Len(t, got, 2)
}

// S4: replaceable collapse is an eventstore concern (tested there); here
// we confirm the filter engine sees only the collapsed set.
func TestS4FilterSeesCollapsedSet(t *testing.T) {
	pub := hx(20)
	older := ev(hx(1), pub, 0, 100, nil)
	newer := ev(hx(2), pub, 0, 200, nil)
	store, errs := eventstore.Build([]event.Event{older, newer})
	require.Empty(t, errs)
	eng := NewEngine(store)

	got := eng.Query([]Filter{mustParse(t, `{"kinds":[0],"authors":["`+pub+`"]}`)})
	require.Len(t, got, 1)
	assert.Equal(t, int64(200), got[0].CreatedAt)
}

// S5 / P10: COUNT agreement.
func TestS5Count(t *testing.T) {
	var events []event.Event
	for i := 0; i < 5; i++ {
		events = append(events, ev(hx(byte(i)), hx(10), 1, int64(100+i), nil))
	}
	for i := 0; i < 2; i++ {
		events = append(events, ev(hx(byte(5+i)), hx(10), 7, int64(200+i), nil))
	}
	store, errs := eventstore.Build(events)
	require.Empty(t, errs)
	eng := NewEngine(store)

	f := mustParse(t, `{"kinds":[1]}`)
	count := eng.Count([]Filter{f})
	assert.Equal(t, 5, count)
	drained := eng.Query([]Filter{f})
	assert.Len(t, drained, count, "P10 violated: count and drain disagree")
}

func TestMultiFilterIndependentLimits(t *testing.T) {
	var kind1, kind7 []event.Event
	for i := 0; i < 5; i++ {
		kind1 = append(kind1, ev(hx(byte(i)), hx(10), 1, int64(100+i), nil))
	}
	for i := 0; i < 5; i++ {
		kind7 = append(kind7, ev(hx(byte(5+i)), hx(10), 7, int64(300+i), nil))
	}
	all := append(append([]event.Event{}, kind1...), kind7...)
	store, errs := eventstore.Build(all)
	require.Empty(t, errs)
	eng := NewEngine(store)

	f1 := mustParse(t, `{"kinds":[1],"limit":2}`)
	f2 := mustParse(t, `{"kinds":[7],"limit":3}`)
	got := eng.Query([]Filter{f1, f2})
	assert.Len(t, got, 5, "expected 2+3=5 events from independent per-filter limits")
}

func TestExplicitZeroLimitReturnsNothing(t *testing.T) {
	e := ev(hx(1), hx(10), 1, 100, nil)
	store, errs := eventstore.Build([]event.Event{e})
	require.Empty(t, errs)
	eng := NewEngine(store)

	got := eng.Query([]Filter{mustParse(t, `{"limit":0}`)})
	assert.Empty(t, got)
}

func TestNoFiltersMatchesNothing(t *testing.T) {
	e := ev(hx(1), hx(10), 1, 100, nil)
	store, errs := eventstore.Build([]event.Event{e})
	require.Empty(t, errs)
	eng := NewEngine(store)

	got := eng.Query(nil)
	assert.Empty(t, got)
}

func TestORAcrossFiltersDedupesByID(t *testing.T) {
	e := ev(hx(1), hx(10), 1, 100, []event.Tag{{"t", "a"}})
	store, errs := eventstore.Build([]event.Event{e})
	require.Empty(t, errs)
	eng := NewEngine(store)

	f1 := mustParse(t, `{"kinds":[1]}`)
	f2 := mustParse(t, `{"#t":["a"]}`)
	got := eng.Query([]Filter{f1, f2})
	assert.Len(t, got, 1, "expected a single deduplicated match")
}
