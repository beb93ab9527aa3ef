package realtime

import (
	"testing"
	"time"

	"github.com/sandwichfarm/cassette/pkg/event"
)

func testEvent(id string) event.Event {
	return event.Event{ID: id, Pubkey: id, Kind: 1, CreatedAt: 1, Content: "x"}
}

func TestPublishDeliversToRegisteredListener(t *testing.T) {
	hub := NewHub(4)
	id, ch := hub.Register()
	defer hub.Unregister(id)

	hub.Publish(testEvent("a"))

	select {
	case env := <-ch:
		if env.Type != "event" || env.Event.ID != "a" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("expected envelope delivered to listener")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(4)
	id, ch := hub.Register()
	hub.Unregister(id)

	hub.Publish(testEvent("a"))

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after Unregister")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(4)
	id, _ := hub.Register()
	hub.Unregister(id)
	hub.Unregister(id) // must not panic on unknown/already-removed id
}

func TestPublishDropsForSlowListenerWithoutBlocking(t *testing.T) {
	hub := NewHub(1)
	id, ch := hub.Register()
	defer hub.Unregister(id)

	// Fill the buffer, then publish again: the second publish must be
	// dropped for this listener rather than blocking the call.
	hub.Publish(testEvent("a"))
	hub.Publish(testEvent("b"))

	env := <-ch
	if env.Event.ID != "a" {
		t.Fatalf("expected first buffered event 'a', got %s", env.Event.ID)
	}
	select {
	case env := <-ch:
		t.Fatalf("expected no second event delivered, got %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishFansOutToEveryListener(t *testing.T) {
	hub := NewHub(4)
	id1, ch1 := hub.Register()
	id2, ch2 := hub.Register()
	defer hub.Unregister(id1)
	defer hub.Unregister(id2)

	hub.Publish(testEvent("shared"))

	for _, ch := range []<-chan Envelope{ch1, ch2} {
		select {
		case env := <-ch:
			if env.Event.ID != "shared" {
				t.Fatalf("expected 'shared', got %s", env.Event.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("expected delivery to every registered listener")
		}
	}
}

func TestSizeTracksRegisteredListeners(t *testing.T) {
	hub := NewHub(4)
	if hub.Size() != 0 {
		t.Fatalf("expected 0 listeners initially, got %d", hub.Size())
	}

	id, _ := hub.Register()
	if hub.Size() != 1 {
		t.Fatalf("expected 1 listener after Register, got %d", hub.Size())
	}

	hub.Unregister(id)
	if hub.Size() != 0 {
		t.Fatalf("expected 0 listeners after Unregister, got %d", hub.Size())
	}
}

func TestNewHubDefaultsNonPositiveBufSize(t *testing.T) {
	hub := NewHub(0)
	if hub.bufSize != 32 {
		t.Fatalf("expected default buffer size 32, got %d", hub.bufSize)
	}
}
