// Package event defines the NIP-01 event record and the handful of
// predicates the rest of the cassette needs to index and filter it.
//
// An Event is a value type: once decoded by UnmarshalJSON it is never
// mutated. Tag rows preserve insertion order because order is part of a
// signed event's identity even though the filter engine never depends on
// it directly.
package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Tag is a single ordered tag row, e.g. ["e", "<id>", "<relay>"].
type Tag []string

// Name is the first element of the row, or "" for a malformed empty row.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value is the second element of the row ("" if absent).
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Indexable reports whether this tag's name is a single ASCII letter,
// the NIP-12 rule for which tags get an inverted (name, value) index.
// Both cases are indexed ("e" and "E" are distinct indexable names).
func (t Tag) Indexable() bool {
	n := t.Name()
	return len(n) == 1 && isASCIILetter(n[0])
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Event is the NIP-01 event record. Unknown top-level JSON fields
// encountered by UnmarshalJSON are retained in Extra for faithful replay but are
// never consulted by the filter engine.
type Event struct {
	ID        string         `json:"id"`
	Pubkey    string         `json:"pubkey"`
	CreatedAt int64          `json:"created_at"`
	Kind      int32          `json:"kind"`
	Tags      []Tag          `json:"tags"`
	Content   string         `json:"content"`
	Sig       string         `json:"sig"`
	Extra     map[string]any `json:"-"`
}

// MarshalJSON re-emits the canonical NIP-01 event shape, folding any
// retained unknown fields back in alongside the known ones.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+7)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["id"] = e.ID
	out["pubkey"] = e.Pubkey
	out["created_at"] = e.CreatedAt
	out["kind"] = e.Kind
	tags := make([][]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = []string(t)
	}
	out["tags"] = tags
	out["content"] = e.Content
	out["sig"] = e.Sig
	return json.Marshal(out)
}

// UnmarshalJSON parses a raw NIP-01 event, retaining unrecognized fields
// in Extra. It does not validate; call Validate separately so callers can
// choose whether a malformed event aborts a whole build or is skipped.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("event: not a JSON object: %w", err)
	}

	known := map[string]bool{
		"id": true, "pubkey": true, "created_at": true, "kind": true,
		"tags": true, "content": true, "sig": true,
	}

	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &e.ID); err != nil {
			return fmt.Errorf("event: id: %w", err)
		}
	}
	if v, ok := raw["pubkey"]; ok {
		if err := json.Unmarshal(v, &e.Pubkey); err != nil {
			return fmt.Errorf("event: pubkey: %w", err)
		}
	}
	if v, ok := raw["created_at"]; ok {
		if err := json.Unmarshal(v, &e.CreatedAt); err != nil {
			return fmt.Errorf("event: created_at: %w", err)
		}
	}
	if v, ok := raw["kind"]; ok {
		if err := json.Unmarshal(v, &e.Kind); err != nil {
			return fmt.Errorf("event: kind: %w", err)
		}
	}
	if v, ok := raw["tags"]; ok {
		var rows [][]string
		if err := json.Unmarshal(v, &rows); err != nil {
			return fmt.Errorf("event: tags: %w", err)
		}
		e.Tags = make([]Tag, len(rows))
		for i, r := range rows {
			e.Tags[i] = Tag(r)
		}
	}
	if v, ok := raw["content"]; ok {
		if err := json.Unmarshal(v, &e.Content); err != nil {
			return fmt.Errorf("event: content: %w", err)
		}
	}
	if v, ok := raw["sig"]; ok {
		if err := json.Unmarshal(v, &e.Sig); err != nil {
			return fmt.Errorf("event: sig: %w", err)
		}
	}

	for k, v := range raw {
		if known[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("event: extra field %q: %w", k, err)
		}
		e.Extra[k] = val
	}

	return nil
}

// Validate checks the invariants spec.md §3 requires of a well-formed
// event: 32-byte hex id and pubkey, 64-byte hex sig, non-negative
// created_at, and every tag row having a non-empty name.
func (e *Event) Validate() error {
	if err := validateHex("id", e.ID, 32); err != nil {
		return err
	}
	if err := validateHex("pubkey", e.Pubkey, 32); err != nil {
		return err
	}
	if err := validateHex("sig", e.Sig, 64); err != nil {
		return err
	}
	if e.CreatedAt < 0 {
		return fmt.Errorf("event %s: created_at must be non-negative, got %d", e.ID, e.CreatedAt)
	}
	for i, t := range e.Tags {
		if len(t) == 0 || t.Name() == "" {
			return fmt.Errorf("event %s: tag row %d has an empty name", e.ID, i)
		}
	}
	return nil
}

func validateHex(field, v string, byteLen int) error {
	if len(v) != byteLen*2 {
		return fmt.Errorf("event: %s must be %d hex chars, got %d", field, byteLen*2, len(v))
	}
	if _, err := hex.DecodeString(v); err != nil {
		return fmt.Errorf("event: %s is not valid hex: %w", field, err)
	}
	return nil
}

// DTag returns the value of the first "d" tag row, or "" if none is
// present, per the addressable-kind key defined in spec.md §4.4 step 2.
func (e *Event) DTag() string {
	for _, t := range e.Tags {
		if t.Name() == "d" {
			return t.Value()
		}
	}
	return ""
}

// Replaceable reports whether kind is one of the NIP-01/NIP-16
// replaceable kinds: 0, 3, 41, or in [10000, 20000).
func Replaceable(kind int32) bool {
	if kind == 0 || kind == 3 || kind == 41 {
		return true
	}
	return kind >= 10000 && kind < 20000
}

// Addressable reports whether kind is a parameterized-replaceable kind,
// i.e. in [30000, 40000).
func Addressable(kind int32) bool {
	return kind >= 30000 && kind < 40000
}
