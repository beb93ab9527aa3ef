package stage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/realtime"
)

func openTestStore(t *testing.T, hub *realtime.Hub) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.db")
	s, err := Open(path, hub)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func hx(seed byte) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = "0123456789abcdef"[(int(seed)+i)%16]
	}
	return string(out)
}

func sig() string {
	out := make([]byte, 128)
	for i := range out {
		out[i] = 'a'
	}
	return string(out)
}

func ev(id, pubkey string, kind int32, createdAt int64) event.Event {
	return event.Event{ID: id, Pubkey: pubkey, Kind: kind, CreatedAt: createdAt, Content: "x", Sig: sig()}
}

func TestAddInsertsAndCounts(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	events := []event.Event{
		ev(hx(1), hx(10), 1, 100),
		ev(hx(2), hx(11), 1, 200),
	}

	inserted, err := s.Add(ctx, events)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
}

func TestAddDedupesByID(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	e := ev(hx(1), hx(10), 1, 100)
	if _, err := s.Add(ctx, []event.Event{e}); err != nil {
		t.Fatalf("first Add: %v", err)
	}

	inserted, err := s.Add(ctx, []event.Event{e})
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected 0 newly inserted on resume, got %d", inserted)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count to remain 1, got %d", n)
	}
}

func TestAddEmptyBatchIsNoop(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	inserted, err := s.Add(ctx, nil)
	if err != nil {
		t.Fatalf("Add(nil): %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected 0 inserted for empty batch, got %d", inserted)
	}
}

func TestAllReturnsStagedEvents(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	want := []event.Event{
		ev(hx(1), hx(10), 1, 100),
		ev(hx(2), hx(11), 7, 200),
	}
	if _, err := s.Add(ctx, want); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}

	seen := make(map[string]bool)
	for _, e := range got {
		seen[e.ID] = true
	}
	for _, e := range want {
		if !seen[e.ID] {
			t.Fatalf("expected event %s in All() result", e.ID)
		}
	}
}

func TestAddPublishesOnlyNewlyInsertedEvents(t *testing.T) {
	hub := realtime.NewHub(8)
	s := openTestStore(t, hub)
	ctx := context.Background()

	listenerID, ch := hub.Register()
	defer hub.Unregister(listenerID)

	e := ev(hx(1), hx(10), 1, 100)
	if _, err := s.Add(ctx, []event.Event{e}); err != nil {
		t.Fatalf("first Add: %v", err)
	}

	select {
	case env := <-ch:
		if env.Event.ID != e.ID {
			t.Fatalf("expected published event %s, got %s", e.ID, env.Event.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a publish for the newly inserted event")
	}

	// Re-adding the same event must not publish again.
	if _, err := s.Add(ctx, []event.Event{e}); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	select {
	case env := <-ch:
		t.Fatalf("unexpected publish on duplicate insert: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}
