package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func hex64(b byte) string { return strings.Repeat(string([]byte{hexDigit(b >> 4), hexDigit(b & 0xf)}), 32) }

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

func sampleEvent() Event {
	return Event{
		ID:        hex64(0xaa),
		Pubkey:    hex64(0xbb),
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      []Tag{{"t", "a"}, {"e", "deadbeef"}},
		Content:   "hello",
		Sig:       strings.Repeat("cd", 64),
	}
}

func TestValidateGoodEvent(t *testing.T) {
	e := sampleEvent()
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
}

func TestValidateRejectsBadHex(t *testing.T) {
	e := sampleEvent()
	e.ID = "not-hex"
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for non-hex id")
	}
}

func TestValidateRejectsNegativeCreatedAt(t *testing.T) {
	e := sampleEvent()
	e.CreatedAt = -1
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for negative created_at")
	}
}

func TestValidateRejectsEmptyTagName(t *testing.T) {
	e := sampleEvent()
	e.Tags = []Tag{{}}
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for empty tag row")
	}
}

func TestTagIndexable(t *testing.T) {
	cases := []struct {
		tag  Tag
		want bool
	}{
		{Tag{"e", "x"}, true},
		{Tag{"E", "x"}, true},
		{Tag{"client", "x"}, false},
		{Tag{"", "x"}, false},
	}
	for _, c := range cases {
		if got := c.tag.Indexable(); got != c.want {
			t.Errorf("Tag(%v).Indexable() = %v, want %v", c.tag, got, c.want)
		}
	}
}

func TestDTagDefaultsEmpty(t *testing.T) {
	e := sampleEvent()
	if e.DTag() != "" {
		t.Fatalf("expected empty d-tag, got %q", e.DTag())
	}
	e.Tags = append(e.Tags, Tag{"d", "my-article"})
	if e.DTag() != "my-article" {
		t.Fatalf("expected d-tag 'my-article', got %q", e.DTag())
	}
}

func TestReplaceableAndAddressable(t *testing.T) {
	if !Replaceable(0) || !Replaceable(3) || !Replaceable(41) || !Replaceable(15000) {
		t.Fatal("expected kinds 0,3,41,15000 to be replaceable")
	}
	if Replaceable(1) || Replaceable(30001) {
		t.Fatal("kinds 1 and 30001 must not be replaceable")
	}
	if !Addressable(30001) || Addressable(1) || Addressable(40000) {
		t.Fatal("addressable range must be [30000,40000)")
	}
}

func TestJSONRoundTripPreservesExtra(t *testing.T) {
	raw := `{"id":"` + hex64(0xaa) + `","pubkey":"` + hex64(0xbb) + `","created_at":100,"kind":1,"tags":[["t","a"]],"content":"hi","sig":"` + strings.Repeat("cd", 64) + `","extra_field":"kept"}`
	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Extra["extra_field"] != "kept" {
		t.Fatalf("expected unknown field retained, got %v", e.Extra)
	}
	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var roundtrip map[string]any
	if err := json.Unmarshal(out, &roundtrip); err != nil {
		t.Fatalf("unmarshal roundtrip: %v", err)
	}
	if roundtrip["extra_field"] != "kept" {
		t.Fatalf("expected extra_field preserved in output, got %v", roundtrip)
	}
}
