// Package memproto implements the wire format described in spec.md §4.1
// for strings crossing the host/guest WebAssembly boundary: the MSGB
// length-prefixed preface a guest uses on its return path, and the
// bare-pointer convention used on the host-to-guest path.
//
// This package holds only the byte-level encode/decode logic. It is
// deliberately runtime-agnostic: the host loaders in pkg/loader adapt
// wazero's and wasmtime-go's distinct memory APIs to the GuestMemory
// interface below so this logic is written, and tested, exactly once.
package memproto

import (
	"encoding/binary"
	"fmt"
)

// Signature is the 4-byte ASCII preface identifying an MSGB-framed
// return value.
const Signature = "MSGB"

// headerLen is the MSGB preface length: 4 signature bytes + 4 length bytes.
const headerLen = 8

// EncodeMSGB wraps payload with the MSGB preface: "MSGB" followed by the
// little-endian u32 length of payload, followed by payload itself.
func EncodeMSGB(payload []byte) []byte {
	out := make([]byte, headerLen+len(payload))
	copy(out, Signature)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[headerLen:], payload)
	return out
}

// DecodeMSGB recognizes the MSGB preface in data and returns the payload
// it frames. ok is false if data is too short to hold a header, doesn't
// start with the MSGB signature, or declares a length that would run past
// the end of data.
func DecodeMSGB(data []byte) (payload []byte, ok bool) {
	if len(data) < headerLen || string(data[0:4]) != Signature {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(data[4:8])
	end := headerLen + int(n)
	if end < headerLen || end > len(data) {
		return nil, false
	}
	return data[headerLen:end], true
}

// GuestMemory is the minimal slice of a WebAssembly linear-memory API this
// package needs to read a returned string. Both wazero's api.Memory and a
// thin wrapper around wasmtime's Memory.UnsafeData satisfy it (see
// pkg/loader).
type GuestMemory interface {
	// Read returns byteCount bytes starting at offset, or ok=false if
	// the range is out of bounds.
	Read(offset, byteCount uint32) (data []byte, ok bool)
}

// ReadString reads the string a guest export returned at ptr. If the
// bytes at ptr carry the MSGB preface, its embedded length is used
// verbatim (the host.md §4.1 "host that recognizes MSGB" case). Otherwise
// it falls back to scanning for a NUL terminator within allocSize bytes
// (the recorded get_allocation_size for ptr), per the same section's
// fallback rule for hosts that don't special-case MSGB.
//
// ptr == 0 is the documented empty-result sentinel: ReadString returns
// ("", nil) without touching memory.
func ReadString(mem GuestMemory, ptr uint32, allocSize uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}

	if header, ok := mem.Read(ptr, headerLen); ok {
		if full, ok := readFramedFrom(mem, ptr, header); ok {
			return string(full), nil
		}
	}

	if allocSize == 0 {
		return "", nil
	}
	raw, ok := mem.Read(ptr, allocSize)
	if !ok {
		return "", fmt.Errorf("memproto: read %d bytes at ptr %d out of bounds", allocSize, ptr)
	}
	if i := indexNUL(raw); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

func readFramedFrom(mem GuestMemory, ptr uint32, header []byte) ([]byte, bool) {
	if string(header[0:4]) != Signature {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(header[4:8])
	payload, ok := mem.Read(ptr+headerLen, n)
	if !ok {
		return nil, false
	}
	return payload, true
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
