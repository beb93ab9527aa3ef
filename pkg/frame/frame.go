// Package frame implements the NIP-01 wire encoding described in
// spec.md §4.3: JSON-array frames in both directions, newline-joined
// when several frames share one send() call, and tolerant parsing of the
// inbound side.
//
// Shape is grounded on the real upstream cassette host bindings retrieved
// in the example pack (other_examples/sandwichfarm-cassette bindings-go
// loader): its processResults splits on '\n' and switches on the frame's
// first element exactly as this package's Split and ParseInbound do.
package frame

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sandwichfarm/cassette/pkg/event"
)

// Verb identifies the head of an inbound frame.
type Verb string

const (
	REQ     Verb = "REQ"
	CLOSE   Verb = "CLOSE"
	COUNT   Verb = "COUNT"
	EVENT   Verb = "EVENT"
	AUTH    Verb = "AUTH"
	Unknown Verb = ""
)

// Inbound is a parsed incoming frame. Only the fields relevant to Verb
// are populated.
type Inbound struct {
	Verb Verb

	// SubID is populated for REQ, CLOSE, and COUNT.
	SubID string

	// RawFilters holds the filter objects of a REQ or COUNT frame,
	// left unparsed so pkg/filter owns filter-specific parsing and
	// error messages.
	RawFilters []json.RawMessage

	// RawEvent holds the event object of an EVENT frame.
	RawEvent json.RawMessage

	// UnknownVerb preserves the original head of a frame this package
	// doesn't recognize, per spec.md §4.3's requirement that the
	// NOTICE response name the offending verb.
	UnknownVerb string
}

// ParseInbound parses a single line of input as a NIP-01 frame. Top-level
// whitespace is tolerated. A non-array root, or an array with no head
// element, is a hard parse error the caller should surface as a NOTICE;
// an array headed by a string this package doesn't recognize is NOT an
// error — it parses successfully into Inbound{Verb: Unknown, UnknownVerb: head}
// so the caller can echo that verb back in its own NOTICE.
func ParseInbound(line []byte) (Inbound, error) {
	trimmed := strings.TrimSpace(string(line))
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Inbound{}, fmt.Errorf("frame: root is not a JSON array: %w", err)
	}
	if len(raw) == 0 {
		return Inbound{}, fmt.Errorf("frame: empty array")
	}

	var head string
	if err := json.Unmarshal(raw[0], &head); err != nil {
		return Inbound{}, fmt.Errorf("frame: head element is not a string: %w", err)
	}

	switch Verb(head) {
	case REQ, COUNT:
		if len(raw) < 2 {
			return Inbound{}, fmt.Errorf("frame: %s requires a subscription id", head)
		}
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return Inbound{}, fmt.Errorf("frame: %s subscription id is not a string: %w", head, err)
		}
		return Inbound{Verb: Verb(head), SubID: subID, RawFilters: raw[2:]}, nil
	case CLOSE:
		if len(raw) < 2 {
			return Inbound{}, fmt.Errorf("frame: CLOSE requires a subscription id")
		}
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return Inbound{}, fmt.Errorf("frame: CLOSE subscription id is not a string: %w", err)
		}
		return Inbound{Verb: CLOSE, SubID: subID}, nil
	case EVENT:
		if len(raw) < 2 {
			return Inbound{}, fmt.Errorf("frame: EVENT requires an event object")
		}
		return Inbound{Verb: EVENT, RawEvent: raw[1]}, nil
	case AUTH:
		return Inbound{Verb: AUTH}, nil
	default:
		return Inbound{Verb: Unknown, UnknownVerb: head}, nil
	}
}

// Split breaks an outbound payload into its newline-separated frames, the
// batching convention of spec.md §4.3. Empty lines are dropped so a
// trailing or stray newline never produces a phantom frame.
func Split(payload []byte) [][]byte {
	lines := strings.Split(string(payload), "\n")
	out := make([][]byte, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		out = append(out, []byte(l))
	}
	return out
}

// Join concatenates outbound frames with a single '\n' separator and no
// trailing newline.
func Join(frames ...[]byte) []byte {
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = string(f)
	}
	return []byte(strings.Join(parts, "\n"))
}

func encodeArray(elems ...any) []byte {
	b, err := json.Marshal(elems)
	if err != nil {
		// elems are always json.Marshal-able primitives/Events; a
		// failure here means a bug in this package, not bad input.
		panic(fmt.Sprintf("frame: encoding %v: %v", elems, err))
	}
	return b
}

// EncodeEvent builds ["EVENT", subID, ev].
func EncodeEvent(subID string, ev *event.Event) []byte {
	return encodeArray(string(EVENT), subID, ev)
}

// EncodeEOSE builds ["EOSE", subID].
func EncodeEOSE(subID string) []byte {
	return encodeArray("EOSE", subID)
}

// CountPayload is the object NIP-45 COUNT replies carry.
type CountPayload struct {
	Count       int  `json:"count"`
	Approximate bool `json:"approximate"`
}

// EncodeCount builds ["COUNT", subID, {"count": n, "approximate": false}].
// Cassettes always report an exact count, so Approximate is always false;
// the field is emitted for protocol compatibility with relays that can't
// be exact (spec.md §4.5).
func EncodeCount(subID string, count int) []byte {
	return encodeArray("COUNT", subID, CountPayload{Count: count, Approximate: false})
}

// EncodeNotice builds ["NOTICE", message].
func EncodeNotice(message string) []byte {
	return encodeArray("NOTICE", message)
}

// EncodeClosed builds ["CLOSED", subID, message].
func EncodeClosed(subID, message string) []byte {
	return encodeArray("CLOSED", subID, message)
}

// EncodeOK builds ["OK", eventID, success, message] for writable cassettes.
func EncodeOK(eventID string, success bool, message string) []byte {
	return encodeArray("OK", eventID, success, message)
}
