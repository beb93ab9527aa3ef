package builder

import "github.com/sandwichfarm/cassette/pkg/runtime"

// Meta is the cassette metadata CassetteBuilder embeds into the
// rendered guest. Its JSON shape mirrors runtime.Info field-for-field
// so the guest's init() can json.Unmarshal it directly into an Info.
// render overwrites EventKinds from the actual compiled batch, so a
// caller supplying it here has it ignored; event_count is not part of
// Meta at all, since Runtime.New sets it from the compiled store.
type Meta struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Pubkey        string              `json:"pubkey,omitempty"`
	Contact       string              `json:"contact,omitempty"`
	Software      string              `json:"software,omitempty"`
	Version       string              `json:"version,omitempty"`
	Created       int64               `json:"created_at,omitempty"`
	SupportedNIPs []int               `json:"supported_nips"`
	Limitation    runtime.Limitation  `json:"limitation"`
	EventKinds    []int32             `json:"event_kinds,omitempty"`
}

// Options controls CassetteBuilder.Build beyond the event/meta inputs.
type Options struct {
	// OutputDir is the directory the final artifact(s) are written into.
	OutputDir string
	// OutputName is the artifact's base name, without extension.
	OutputName string
	// Writable makes the cassette answer EVENT frames with an OK frame
	// instead of a NOTICE. That OK always reports failure: a submitted
	// event is validated but never stored. Defaults to false (read-only).
	Writable bool
	// Compress additionally writes a <OutputName>.wasm.zst sidecar.
	Compress bool
	// GoBinary is the Go toolchain executable invoked to compile the
	// guest. Defaults to "go".
	GoBinary string
	// ModuleRoot is the local filesystem path to this repository's own
	// go.mod, used as the rendered guest module's replace target so the
	// build resolves pkg/event, pkg/eventstore, pkg/runtime etc. against
	// the checkout the builder itself was compiled from, rather than
	// requiring them to be separately published. Auto-detected from the
	// working directory upward when empty.
	ModuleRoot string
}
