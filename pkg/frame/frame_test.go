package frame

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseInboundREQ(t *testing.T) {
	in, err := ParseInbound([]byte(`  ["REQ", "s1", {"kinds":[1]}, {"kinds":[7]}]  `))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if in.Verb != REQ || in.SubID != "s1" || len(in.RawFilters) != 2 {
		t.Fatalf("unexpected parse result: %+v", in)
	}
}

func TestParseInboundCLOSE(t *testing.T) {
	in, err := ParseInbound([]byte(`["CLOSE","s1"]`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if in.Verb != CLOSE || in.SubID != "s1" {
		t.Fatalf("unexpected parse result: %+v", in)
	}
}

func TestParseInboundCOUNT(t *testing.T) {
	in, err := ParseInbound([]byte(`["COUNT","s1",{"kinds":[1]}]`))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if in.Verb != COUNT || in.SubID != "s1" || len(in.RawFilters) != 1 {
		t.Fatalf("unexpected parse result: %+v", in)
	}
}

func TestParseInboundUnknownVerbIsNotAnError(t *testing.T) {
	in, err := ParseInbound([]byte(`["WEIRD","x"]`))
	if err != nil {
		t.Fatalf("unknown verb must not be a parse error: %v", err)
	}
	if in.Verb != Unknown || in.UnknownVerb != "WEIRD" {
		t.Fatalf("expected unknown verb preserved, got %+v", in)
	}
}

func TestParseInboundRejectsNonArrayRoot(t *testing.T) {
	if _, err := ParseInbound([]byte(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected error for non-array root")
	}
}

func TestParseInboundRejectsEmptyArray(t *testing.T) {
	if _, err := ParseInbound([]byte(`[]`)); err == nil {
		t.Fatal("expected error for empty array")
	}
}

func TestSplitDropsEmptyLines(t *testing.T) {
	joined := Join(EncodeEvent("s1", nil), EncodeEOSE("s1"))
	frames := Split(append([]byte("\n"), append(joined, '\n', '\n')...))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %v", len(frames), frames)
	}
}

func TestJoinNoTrailingNewline(t *testing.T) {
	joined := Join(EncodeEOSE("s1"))
	if strings.HasSuffix(string(joined), "\n") {
		t.Fatal("Join must not add a trailing newline")
	}
}

func TestEncodeCountShape(t *testing.T) {
	out := EncodeCount("s1", 5)
	var arr []json.RawMessage
	if err := json.Unmarshal(out, &arr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(arr) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(arr))
	}
	var payload CountPayload
	if err := json.Unmarshal(arr[2], &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Count != 5 || payload.Approximate {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestEncodeClosedAndNotice(t *testing.T) {
	closed := string(EncodeClosed("s1", "closed by client"))
	if closed != `["CLOSED","s1","closed by client"]` {
		t.Fatalf("unexpected CLOSED encoding: %s", closed)
	}
	notice := string(EncodeNotice("unknown subscription: s1"))
	if notice != `["NOTICE","unknown subscription: s1"]` {
		t.Fatalf("unexpected NOTICE encoding: %s", notice)
	}
}
