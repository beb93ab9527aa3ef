package subscription

import (
	"encoding/json"
	"testing"

	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/filter"
)

func mustFilter(t *testing.T, raw string) filter.Filter {
	t.Helper()
	f, err := filter.Parse(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	return f
}

func fakeEvents(n int) []*event.Event {
	out := make([]*event.Event, n)
	for i := range out {
		out[i] = &event.Event{ID: string(rune('a' + i))}
	}
	return out
}

// TestDrainIdempotence is property P6: repeated send(REQ) calls with an
// identical payload eventually produce EOSE and continue to thereafter.
func TestDrainIdempotence(t *testing.T) {
	table := New()
	f := mustFilter(t, `{}`)
	events := fakeEvents(2)
	query := func([]filter.Filter) []*event.Event { return events }

	sub := table.Open("s1", []filter.Filter{f})
	e1, ok := sub.Next(query)
	if !ok || e1 != events[0] {
		t.Fatalf("expected first event, got %v ok=%v", e1, ok)
	}
	if sub.Phase != Streaming {
		t.Fatalf("expected Streaming after first event, got %s", sub.Phase)
	}

	// Simulate the host repeating the same REQ payload: Open again with
	// identical filters must return the SAME subscription (cursor intact).
	sub2 := table.Open("s1", []filter.Filter{f})
	if sub2 != sub {
		t.Fatal("Open with identical filters must not replace the subscription")
	}

	e2, ok := sub2.Next(query)
	if !ok || e2 != events[1] {
		t.Fatalf("expected second event, got %v ok=%v", e2, ok)
	}
	if sub2.Phase != Drained {
		t.Fatalf("expected Drained after last event, got %s", sub2.Phase)
	}

	// Further Next() calls must keep reporting exhaustion (EOSE every time).
	for i := 0; i < 3; i++ {
		if _, ok := sub2.Next(query); ok {
			t.Fatal("expected drained subscription to never yield another event")
		}
		if sub2.Phase != Drained {
			t.Fatalf("expected Phase to remain Drained, got %s", sub2.Phase)
		}
	}
}

// TestCloseIdempotence is property P7.
func TestCloseIdempotence(t *testing.T) {
	table := New()
	f := mustFilter(t, `{}`)
	table.Open("s1", []filter.Filter{f})

	if ok := table.Close("s1"); !ok {
		t.Fatal("expected Close to report the subscription existed")
	}
	if ok := table.Close("s1"); ok {
		t.Fatal("expected second Close to report unknown subscription")
	}

	// A fresh REQ on the same id after CLOSE starts a new subscription.
	sub := table.Open("s1", []filter.Filter{f})
	if sub.Cursor != 0 || sub.Phase != Streaming {
		t.Fatalf("expected fresh subscription after re-REQ, got cursor=%d phase=%s", sub.Cursor, sub.Phase)
	}
}

func TestOpenReplacesOnDifferentFilters(t *testing.T) {
	table := New()
	f1 := mustFilter(t, `{"kinds":[1]}`)
	f2 := mustFilter(t, `{"kinds":[7]}`)

	sub := table.Open("s1", []filter.Filter{f1})
	events := fakeEvents(1)
	sub.Next(func([]filter.Filter) []*event.Event { return events })

	sub2 := table.Open("s1", []filter.Filter{f2})
	if sub2 == sub {
		t.Fatal("expected Open with different filters to install a fresh subscription")
	}
	if sub2.Cursor != 0 || sub2.Phase != Streaming {
		t.Fatalf("expected fresh cursor/phase, got cursor=%d phase=%s", sub2.Cursor, sub2.Phase)
	}
}

func TestGetUnknownSubscription(t *testing.T) {
	table := New()
	if _, ok := table.Get("nope"); ok {
		t.Fatal("expected unknown subscription lookup to fail")
	}
}
