// Package runtime implements CassetteRuntime (spec.md §4.6): the single
// send() dispatch point that parses an inbound NIP-01 frame, drives
// SubscriptionTable and FilterEngine, and returns the outbound frame(s)
// for that one call.
//
// This package has no WebAssembly dependency of its own — it is the pure
// Go core the guest template (pkg/builder) wraps with //go:wasmexport
// entry points, and that pkg/deck's in-process tests can drive
// directly without a compiled wasm artifact at all. This split mirrors
// the teacher's pkg/core: a plugin-agnostic registry that cmd/ and
// pkg/api both wrap, never importing a concrete datasource itself.
package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/eventstore"
	"github.com/sandwichfarm/cassette/pkg/filter"
	"github.com/sandwichfarm/cassette/pkg/frame"
	"github.com/sandwichfarm/cassette/pkg/subscription"
)

// Limitation is the info() document's operational-limits sub-object,
// per spec.md §6.3 (max_message_length/max_subscriptions/max_filters/
// max_limit). A zero Limitation marshals every field as absent rather
// than as an explicit 0, since "no recorded limit" and "limit of zero"
// are different claims.
type Limitation struct {
	MaxMessageLength int `json:"max_message_length,omitempty"`
	MaxSubscriptions int `json:"max_subscriptions,omitempty"`
	MaxFilters       int `json:"max_filters,omitempty"`
	MaxLimit         int `json:"max_limit,omitempty"`
}

// Info is the NIP-11-flavored document a cassette's info() export
// returns: static metadata recorded at build time (spec.md §4.7's
// "meta is a JSON literal returned by info()"), plus event_count, which
// Runtime.New recomputes against the actual compiled batch regardless
// of what the builder wrote into it.
type Info struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Pubkey        string     `json:"pubkey,omitempty"`
	Contact       string     `json:"contact,omitempty"`
	Software      string     `json:"software,omitempty"`
	Version       string     `json:"version,omitempty"`
	SupportedNIPs []int      `json:"supported_nips"`
	Limitation    Limitation `json:"limitation"`
	EventCount    int        `json:"event_count"`
	EventKinds    []int32    `json:"event_kinds,omitempty"`
	CreatedAt     int64      `json:"created_at,omitempty"`
}

// Writable selects how this cassette's runtime answers EVENT frames: a
// read-only runtime returns NOTICE, a writable one validates the event
// and returns OK with success false. Neither stores the event.
type Writable bool

const (
	ReadOnly Writable = false
)

// Runtime is one cassette instance's send()/info() implementation. It is
// single-threaded and cooperatively synchronous, per spec.md §6.3: a
// caller owning a *Runtime must serialize its own calls into Dispatch.
type Runtime struct {
	store    *eventstore.Store
	engine   *filter.Engine
	subs     *subscription.Table
	info     Info
	writable Writable
}

// New builds a Runtime around a frozen, already-indexed event store and
// the metadata the builder recorded for this cassette.
func New(store *eventstore.Store, info Info, writable Writable) *Runtime {
	info.EventCount = store.Len()
	return &Runtime{
		store:    store,
		engine:   filter.NewEngine(store),
		subs:     subscription.New(),
		info:     info,
		writable: writable,
	}
}

// Info returns the metadata document info() serializes.
func (r *Runtime) Info() Info {
	return r.info
}

// Dispatch implements one send() call: parse line as a single inbound
// frame, apply the per-call contract of spec.md §4.6 step 3, and return
// the single outbound frame. A malformed frame — non-JSON-array root, or an array
// whose head isn't a string — produces a NOTICE rather than an error
// return, since the ABI has no channel for returning a Go error: every
// call to send() must produce some wire-legal bytes.
func (r *Runtime) Dispatch(line []byte) []byte {
	in, err := frame.ParseInbound(line)
	if err != nil {
		return frame.EncodeNotice(fmt.Sprintf("invalid message: %v", err))
	}

	switch in.Verb {
	case frame.REQ:
		return r.handleREQ(in)
	case frame.COUNT:
		return r.handleCOUNT(in)
	case frame.CLOSE:
		return r.handleCLOSE(in)
	case frame.EVENT:
		return r.handleEVENT(in)
	case frame.AUTH:
		return frame.EncodeNotice("AUTH not required")
	default:
		return frame.EncodeNotice(fmt.Sprintf("unknown verb: %s", in.UnknownVerb))
	}
}

// handleREQ implements spec.md §4.6's REQ step: (re)install the
// subscription, then emit exactly one frame — the next EVENT if the
// cursor has one, otherwise EOSE. A malformed filter is a
// FilterParseError: it is surfaced as NOTICE and the subscription is not
// installed (or re-installed), per spec.md §4.5.
func (r *Runtime) handleREQ(in frame.Inbound) []byte {
	filters, err := parseFilters(in.RawFilters)
	if err != nil {
		return frame.EncodeNotice(err.Error())
	}

	sub := r.subs.Open(in.SubID, filters)
	e, ok := sub.Next(r.engine.Query)
	if !ok {
		return frame.EncodeEOSE(in.SubID)
	}
	return frame.EncodeEvent(in.SubID, e)
}

// handleCOUNT implements NIP-45 COUNT: filters are evaluated directly
// against FilterEngine.Count without installing a subscription (spec.md
// §4.5 — COUNT never touches SubscriptionTable).
func (r *Runtime) handleCOUNT(in frame.Inbound) []byte {
	filters, err := parseFilters(in.RawFilters)
	if err != nil {
		return frame.EncodeNotice(err.Error())
	}
	count := r.engine.Count(filters)
	return frame.EncodeCount(in.SubID, count)
}

// handleCLOSE implements property P7: closing a known subscription
// produces CLOSED; closing an unknown (or already-closed) one produces
// the "unknown subscription" NOTICE spec.md §4.6's state diagram names.
func (r *Runtime) handleCLOSE(in frame.Inbound) []byte {
	if r.subs.Close(in.SubID) {
		return frame.EncodeClosed(in.SubID, "closed by client")
	}
	return frame.EncodeNotice(fmt.Sprintf("unknown subscription: %s", in.SubID))
}

// handleEVENT implements spec.md §4.3's "EVENT accepted by writable
// cassettes only; read-only cassettes return NOTICE" rule.
func (r *Runtime) handleEVENT(in frame.Inbound) []byte {
	if !bool(r.writable) {
		return frame.EncodeNotice("event submission not supported by this cassette")
	}
	var e event.Event
	if err := e.UnmarshalJSON(in.RawEvent); err != nil {
		return frame.EncodeNotice(fmt.Sprintf("invalid event: %v", err))
	}
	if err := e.Validate(); err != nil {
		return frame.EncodeOK(e.ID, false, err.Error())
	}
	return frame.EncodeOK(e.ID, false, "writable cassettes are not yet supported")
}

func parseFilters(raw []json.RawMessage) ([]filter.Filter, error) {
	out := make([]filter.Filter, len(raw))
	for i, r := range raw {
		f, err := filter.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		out[i] = f
	}
	return out, nil
}
