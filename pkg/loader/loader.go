// Package loader implements the HostLoader side of the cassette ABI
// (spec.md §6): instantiate a compiled cassette .wasm artifact, drive its
// send()/info() exports, and enforce the alloc/dealloc discipline and
// drain-loop idiom a conforming host must follow.
//
// Two backends implement the Loader interface declared here: this
// package's own wazero-backed loader (the default, a pure-Go WASM
// runtime requiring no cgo) and pkg/loader/wasmtime (a Cranelift-JIT
// backed alternate). Both are grounded field-for-field on the real
// upstream sandwichfarm/cassette Go host bindings retrieved in the
// example pack, adapted to read/write through pkg/memproto instead of
// re-implementing MSGB parsing in each backend.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// SendResult is the result of one Loader.Send call. REQ frames, which
// drain a subscription across several underlying send() calls, populate
// Multiple; every other verb populates Single.
type SendResult struct {
	IsSingle bool
	Single   string
	Multiple []string
}

// Loader is the host-side contract every cassette backend implements.
// Close releases the underlying WASM runtime/store.
type Loader interface {
	// Send processes one NIP-01 message. For REQ, it drains the guest's
	// send()-per-event loop (spec.md §6.2 step 4) until EOSE or CLOSED;
	// for every other verb it performs exactly one call-response round
	// trip.
	Send(message string) (*SendResult, error)

	// Info returns the cassette's info() document verbatim.
	Info() (string, error)

	// SendFrame performs exactly one send() round trip, with no
	// drain-loop aggregation. The `play` command uses this directly, to
	// print each EVENT/EOSE frame as the guest produces it rather than
	// collect them into one in-memory batch first.
	SendFrame(message string) (string, error)

	Close(ctx context.Context) error
}

// EventTracker deduplicates EVENT frames within one logical REQ session,
// the host-side obligation of spec.md §6.2 step 6 ("the guest may
// re-emit on a re-REQ with the same sub_id").
type EventTracker struct {
	mu  sync.Mutex
	ids map[string]bool
}

// NewEventTracker creates an empty tracker.
func NewEventTracker() *EventTracker {
	return &EventTracker{ids: make(map[string]bool)}
}

// Reset clears every id the tracker has seen. DrainREQ calls it at the
// start of every REQ drain.
func (t *EventTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = make(map[string]bool)
}

// AddAndCheck records id and reports whether it was new.
func (t *EventTracker) AddAndCheck(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ids[id] {
		return false
	}
	t.ids[id] = true
	return true
}

// IsREQ inspects a raw outbound message and reports whether it is a REQ
// frame, along with its subscription id. Exported so both backends (and
// any future one) share a single parse of "is this message a REQ".
func IsREQ(message string) (subID string, ok bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(message), &raw); err != nil || len(raw) < 2 {
		return "", false
	}
	var head string
	if err := json.Unmarshal(raw[0], &head); err != nil || head != "REQ" {
		return "", false
	}
	var sub string
	if err := json.Unmarshal(raw[1], &sub); err != nil {
		return "", false
	}
	return sub, true
}

// DrainREQ implements spec.md §6.2 step 4 and §6.4's loop idiom: call
// sendOne repeatedly with the same payload until EOSE or CLOSED, or
// until sendOne reports an empty response (the null-pointer stop rule of
// step 5), deduplicating EVENT frames against tracker along the way.
func DrainREQ(message, subID string, tracker *EventTracker, sendOne func(string) (string, error)) ([]string, error) {
	tracker.Reset()
	var results []string
	hasTerminal := false

	for {
		response, err := sendOne(message)
		if err != nil {
			return nil, err
		}
		if response == "" {
			break
		}

		for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
			kept, terminal := filterLine(line, tracker)
			if kept == "" {
				continue
			}
			results = append(results, kept)
			if terminal {
				hasTerminal = true
			}
		}
		if hasTerminal {
			break
		}
	}

	if !hasTerminal {
		eose, _ := json.Marshal([]any{"EOSE", subID})
		results = append(results, string(eose))
	}
	return results, nil
}

// filterLine parses one outbound frame line, dropping malformed lines
// and duplicate EVENTs (per EventTracker), and reports whether the line
// is a session terminator (EOSE or CLOSED).
func filterLine(line string, tracker *EventTracker) (kept string, terminal bool) {
	var parsed []json.RawMessage
	if err := json.Unmarshal([]byte(line), &parsed); err != nil || len(parsed) == 0 {
		return "", false
	}
	var verb string
	if err := json.Unmarshal(parsed[0], &verb); err != nil {
		return "", false
	}

	switch verb {
	case "EVENT":
		if len(parsed) >= 3 {
			var ev map[string]any
			if err := json.Unmarshal(parsed[2], &ev); err == nil {
				if id, ok := ev["id"].(string); ok && !tracker.AddAndCheck(id) {
					return "", false
				}
			}
		}
		return line, false
	case "EOSE", "CLOSED":
		return line, true
	case "NOTICE", "OK", "AUTH":
		return line, false
	default:
		return "", false
	}
}

// ErrMissingExport is returned when a required cassette export is absent.
type ErrMissingExport struct {
	Name string
}

func (e *ErrMissingExport) Error() string {
	return fmt.Sprintf("loader: required export %q not found", e.Name)
}
