package runtime

import (
	"strings"
	"testing"

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

func newTestRuntime(t *testing.T, events []event.Event) *Runtime {
	t.Helper()
	store, errs := eventstore.Build(events)
	if len(errs) != 0 {
		t.Fatalf("unexpected build errors: %v", errs)
	}
	return New(store, Info{Name: "test", SupportedNIPs: []int{1, 12, 45, 119}}, ReadOnly)
}

// TestS1FilterlessDrain is scenario S1: ["REQ","s1",{}] drains one EVENT
// then EOSE, and repeating it keeps returning EOSE (P6).
func TestS1FilterlessDrain(t *testing.T) {
	e := ev(hx(1), hx(10), 1, 100, nil)
	rt := newTestRuntime(t, []event.Event{e})

	out1 := rt.Dispatch([]byte(`["REQ","s1",{}]`))
	if !strings.Contains(string(out1), `"EVENT"`) || !strings.Contains(string(out1), e.ID) {
		t.Fatalf("expected EVENT frame, got %s", out1)
	}

	out2 := rt.Dispatch([]byte(`["REQ","s1",{}]`))
	if !strings.Contains(string(out2), `"EOSE"`) {
		t.Fatalf("expected EOSE frame, got %s", out2)
	}

	for i := 0; i < 3; i++ {
		out := rt.Dispatch([]byte(`["REQ","s1",{}]`))
		if !strings.Contains(string(out), `"EOSE"`) {
			t.Fatalf("P6 violated: expected EOSE on repeat %d, got %s", i, out)
		}
	}
}

// TestS2KindFilter is scenario S2.
func TestS2KindFilter(t *testing.T) {
	e1 := ev(hx(1), hx(10), 1, 100, nil)
	e2 := ev(hx(2), hx(10), 7, 200, nil)
	rt := newTestRuntime(t, []event.Event{e1, e2})

	out1 := rt.Dispatch([]byte(`["REQ","s1",{"kinds":[1]}]`))
	if !strings.Contains(string(out1), e1.ID) {
		t.Fatalf("expected e1 event, got %s", out1)
	}
	out2 := rt.Dispatch([]byte(`["REQ","s1",{"kinds":[1]}]`))
	if !strings.Contains(string(out2), `"EOSE"`) {
		t.Fatalf("expected EOSE after single match drained, got %s", out2)
	}
}

// TestS3AndTag is scenario S3.
func TestS3AndTag(t *testing.T) {
	e1 := ev(hx(1), hx(10), 1, 100, []event.Tag{{"t", "a"}, {"t", "b"}})
	e2 := ev(hx(2), hx(10), 1, 200, []event.Tag{{"t", "a"}})
	rt := newTestRuntime(t, []event.Event{e1, e2})

	out1 := rt.Dispatch([]byte(`["REQ","s1",{"&t":["a","b"]}]`))
	if !strings.Contains(string(out1), e1.ID) {
		t.Fatalf("expected e1, got %s", out1)
	}
	out2 := rt.Dispatch([]byte(`["REQ","s1",{"&t":["a","b"]}]`))
	if !strings.Contains(string(out2), `"EOSE"`) {
		t.Fatalf("expected EOSE, got %s", out2)
	}
}

// TestS4ReplaceableCollapse is scenario S4.
func TestS4ReplaceableCollapse(t *testing.T) {
	pub := hx(20)
	older := ev(hx(1), pub, 0, 100, nil)
	newer := ev(hx(2), pub, 0, 200, nil)
	rt := newTestRuntime(t, []event.Event{older, newer})

	out1 := rt.Dispatch([]byte(`["REQ","s1",{"kinds":[0],"authors":["` + pub + `"]}]`))
	if !strings.Contains(string(out1), newer.ID) || strings.Contains(string(out1), older.ID) {
		t.Fatalf("expected only the newer collapsed event, got %s", out1)
	}
	out2 := rt.Dispatch([]byte(`["REQ","s1",{"kinds":[0],"authors":["` + pub + `"]}]`))
	if !strings.Contains(string(out2), `"EOSE"`) {
		t.Fatalf("expected EOSE, got %s", out2)
	}
}

// TestS5CountAgreement is scenario S5 / property P10.
func TestS5CountAgreement(t *testing.T) {
	var events []event.Event
	for i := 0; i < 4; i++ {
		events = append(events, ev(hx(byte(i)), hx(10), 1, int64(100+i), nil))
	}
	rt := newTestRuntime(t, events)

	countOut := rt.Dispatch([]byte(`["COUNT","s1",{"kinds":[1]}]`))
	if !strings.Contains(string(countOut), `"count":4`) {
		t.Fatalf("expected count:4, got %s", countOut)
	}

	drained := 0
	for {
		out := rt.Dispatch([]byte(`["REQ","s1",{"kinds":[1]}]`))
		if strings.Contains(string(out), `"EOSE"`) {
			break
		}
		drained++
	}
	if drained != 4 {
		t.Fatalf("P10 violated: count said 4, drained %d", drained)
	}
}

// TestS6CloseIdempotence is scenario S6 / property P7.
func TestS6CloseIdempotence(t *testing.T) {
	e := ev(hx(1), hx(10), 1, 100, nil)
	rt := newTestRuntime(t, []event.Event{e})

	rt.Dispatch([]byte(`["REQ","s1",{}]`))
	closedOut := rt.Dispatch([]byte(`["CLOSE","s1"]`))
	if !strings.Contains(string(closedOut), `"CLOSED"`) {
		t.Fatalf("expected CLOSED, got %s", closedOut)
	}

	noticeOut := rt.Dispatch([]byte(`["CLOSE","s1"]`))
	if !strings.Contains(string(noticeOut), `unknown subscription`) {
		t.Fatalf("expected unknown subscription NOTICE, got %s", noticeOut)
	}
}

func TestMalformedFilterProducesNotice(t *testing.T) {
	rt := newTestRuntime(t, nil)
	out := rt.Dispatch([]byte(`["REQ","s1",{"kinds":"nope"}]`))
	if !strings.Contains(string(out), `"NOTICE"`) {
		t.Fatalf("expected NOTICE for malformed filter, got %s", out)
	}
	if _, ok := rt.subs.Get("s1"); ok {
		t.Fatal("malformed filter must not install a subscription")
	}
}

func TestUnknownVerbProducesNotice(t *testing.T) {
	rt := newTestRuntime(t, nil)
	out := rt.Dispatch([]byte(`["PING"]`))
	if !strings.Contains(string(out), `"NOTICE"`) || !strings.Contains(string(out), "PING") {
		t.Fatalf("expected NOTICE naming the verb, got %s", out)
	}
}

func TestAuthIsNoticed(t *testing.T) {
	rt := newTestRuntime(t, nil)
	out := rt.Dispatch([]byte(`["AUTH","challenge-string"]`))
	if !strings.Contains(string(out), `"NOTICE"`) {
		t.Fatalf("expected NOTICE for AUTH, got %s", out)
	}
}

func TestEventVerbRejectedByReadOnlyCassette(t *testing.T) {
	rt := newTestRuntime(t, nil)
	e := ev(hx(1), hx(10), 1, 100, nil)
	body, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := rt.Dispatch([]byte(`["EVENT",` + string(body) + `]`))
	if !strings.Contains(string(out), `"NOTICE"`) {
		t.Fatalf("expected NOTICE rejecting EVENT, got %s", out)
	}
}

func TestInfoReportsEventCount(t *testing.T) {
	e := ev(hx(1), hx(10), 1, 100, nil)
	rt := newTestRuntime(t, []event.Event{e})
	if rt.Info().EventCount != 1 {
		t.Fatalf("expected event count 1, got %d", rt.Info().EventCount)
	}
}

// TestInfoCarriesBuildTimeFields locks down spec.md §6.3's minimum
// info() field set: software/version/limitation/event_kinds/created_at
// must survive from the Info a builder constructs through to what
// Runtime.Info() returns, not just name/description/event_count.
func TestInfoCarriesBuildTimeFields(t *testing.T) {
	e1 := ev(hx(1), hx(10), 1, 100, nil)
	e2 := ev(hx(2), hx(10), 7, 200, nil)
	store, errs := eventstore.Build([]event.Event{e1, e2})
	if len(errs) != 0 {
		t.Fatalf("unexpected build errors: %v", errs)
	}

	info := Info{
		Name:          "test",
		Software:      "https://github.com/sandwichfarm/cassette",
		Version:       "0.1.0",
		SupportedNIPs: []int{1, 12, 45, 119},
		Limitation:    Limitation{MaxMessageLength: 65536, MaxSubscriptions: 20, MaxFilters: 10, MaxLimit: 5000},
		EventKinds:    []int32{1, 7},
		CreatedAt:     1700000000,
	}
	rt := New(store, info, ReadOnly)
	got := rt.Info()

	if got.Software != info.Software {
		t.Fatalf("Software = %q, want %q", got.Software, info.Software)
	}
	if got.Version != info.Version {
		t.Fatalf("Version = %q, want %q", got.Version, info.Version)
	}
	if got.Limitation != info.Limitation {
		t.Fatalf("Limitation = %+v, want %+v", got.Limitation, info.Limitation)
	}
	if got.CreatedAt != info.CreatedAt {
		t.Fatalf("CreatedAt = %d, want %d", got.CreatedAt, info.CreatedAt)
	}
	if len(got.EventKinds) != 2 {
		t.Fatalf("EventKinds = %v, want [1 7]", got.EventKinds)
	}
	if got.EventCount != 2 {
		t.Fatalf("EventCount = %d, want 2 (recomputed from the store, not the Info passed in)", got.EventCount)
	}
}

func TestMalformedFrameProducesNotice(t *testing.T) {
	rt := newTestRuntime(t, nil)
	out := rt.Dispatch([]byte(`not json at all`))
	if !strings.Contains(string(out), `"NOTICE"`) {
		t.Fatalf("expected NOTICE for malformed frame, got %s", out)
	}
}
