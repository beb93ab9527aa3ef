// Package wasmtimeloader is the alternate Loader backend (spec.md §6):
// the same host contract as pkg/loader's default wazero implementation,
// backed instead by wasmtime-go's Cranelift JIT. This is the file the
// bytecodealliance/wasmtime-go dependency was retrieved for — it mirrors
// the real upstream sandwichfarm/cassette Go bindings almost field for
// field, rewritten to read/write through pkg/memproto instead of
// reimplementing MSGB parsing locally.
package wasmtimeloader

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v23"

	"github.com/sandwichfarm/cassette/pkg/loader"
	"github.com/sandwichfarm/cassette/pkg/memproto"
)

// Loader is the wasmtime-backed implementation of loader.Loader.
type Loader struct {
	engine  *wasmtime.Engine
	store   *wasmtime.Store
	memory  *wasmtime.Memory
	exports map[string]*wasmtime.Func
	tracker *loader.EventTracker
}

type memoryAdapter struct {
	mem   *wasmtime.Memory
	store *wasmtime.Store
}

func (m memoryAdapter) Read(offset, byteCount uint32) ([]byte, bool) {
	data := m.mem.UnsafeData(m.store)
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(data)) {
		return nil, false
	}
	out := make([]byte, byteCount)
	copy(out, data[offset:end])
	return out, true
}

// Load loads a cassette .wasm module from path.
func Load(path string) (*Loader, error) {
	engine := wasmtime.NewEngine()
	module, err := wasmtime.NewModuleFromFile(engine, path)
	if err != nil {
		return nil, fmt.Errorf("wasmtimeloader: loading module: %w", err)
	}

	store := wasmtime.NewStore(engine)
	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return nil, fmt.Errorf("wasmtimeloader: instantiating module: %w", err)
	}

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("wasmtimeloader: module exports no memory")
	}

	exports := make(map[string]*wasmtime.Func)
	for _, name := range []string{"send", "info", "alloc_buffer", "dealloc_string", "get_allocation_size"} {
		if fn := instance.GetFunc(store, name); fn != nil {
			exports[name] = fn
		}
	}
	for _, required := range []string{"send", "alloc_buffer"} {
		if _, ok := exports[required]; !ok {
			return nil, &loader.ErrMissingExport{Name: required}
		}
	}

	return &Loader{
		engine:  engine,
		store:   store,
		memory:  memExport.Memory(),
		exports: exports,
		tracker: loader.NewEventTracker(),
	}, nil
}

// Close is a no-op: wasmtime's Go bindings release engine/store
// resources via the Go garbage collector's finalizers, there is no
// explicit handle to release (unlike wazero's runtime.Close).
func (l *Loader) Close(context.Context) error { return nil }

// Send implements loader.Loader.Send.
func (l *Loader) Send(message string) (*loader.SendResult, error) {
	if subID, ok := loader.IsREQ(message); ok {
		results, err := loader.DrainREQ(message, subID, l.tracker, l.sendOnce)
		if err != nil {
			return nil, err
		}
		return &loader.SendResult{Multiple: results}, nil
	}
	response, err := l.sendOnce(message)
	if err != nil {
		return nil, err
	}
	return &loader.SendResult{IsSingle: true, Single: response}, nil
}

// SendFrame performs exactly one send() round trip, bypassing the
// drain-loop aggregation Send applies to REQ.
func (l *Loader) SendFrame(message string) (string, error) {
	return l.sendOnce(message)
}

func (l *Loader) sendOnce(message string) (string, error) {
	msgPtr, err := l.writeString(message)
	if err != nil {
		return "", err
	}

	sendFn := l.exports["send"]
	result, err := sendFn.Call(l.store, int32(msgPtr), int32(len(message)))
	l.deallocString(msgPtr)
	if err != nil {
		return "", fmt.Errorf("wasmtimeloader: calling send: %w", err)
	}

	resultPtr := uint32(result.(int32))
	if resultPtr == 0 {
		return "", nil
	}

	allocSize := l.allocationSize(resultPtr)
	response, err := memproto.ReadString(memoryAdapter{l.memory, l.store}, resultPtr, allocSize)
	l.deallocString(resultPtr)
	if err != nil {
		return "", fmt.Errorf("wasmtimeloader: reading send result: %w", err)
	}
	return response, nil
}

// Info implements loader.Loader.Info.
func (l *Loader) Info() (string, error) {
	infoFn, ok := l.exports["info"]
	if !ok {
		return `{"supported_nips":[]}`, nil
	}
	result, err := infoFn.Call(l.store)
	if err != nil {
		return "", fmt.Errorf("wasmtimeloader: calling info: %w", err)
	}
	ptr := uint32(result.(int32))
	if ptr == 0 {
		return `{"supported_nips":[]}`, nil
	}
	allocSize := l.allocationSize(ptr)
	out, err := memproto.ReadString(memoryAdapter{l.memory, l.store}, ptr, allocSize)
	l.deallocString(ptr)
	return out, err
}

func (l *Loader) writeString(s string) (uint32, error) {
	allocFn := l.exports["alloc_buffer"]
	result, err := allocFn.Call(l.store, int32(len(s)))
	if err != nil {
		return 0, fmt.Errorf("wasmtimeloader: calling alloc_buffer: %w", err)
	}
	ptr := uint32(result.(int32))
	if ptr == 0 && len(s) > 0 {
		return 0, fmt.Errorf("wasmtimeloader: alloc_buffer(%d) returned null", len(s))
	}
	data := l.memory.UnsafeData(l.store)
	copy(data[ptr:], s)
	return ptr, nil
}

func (l *Loader) deallocString(ptr uint32) {
	if ptr == 0 {
		return
	}
	deallocFn, ok := l.exports["dealloc_string"]
	if !ok {
		return
	}
	size := l.allocationSize(ptr)
	_, _ = deallocFn.Call(l.store, int32(ptr), int32(size))
}

func (l *Loader) allocationSize(ptr uint32) uint32 {
	sizeFn, ok := l.exports["get_allocation_size"]
	if !ok {
		return 0
	}
	result, err := sizeFn.Call(l.store, int32(ptr))
	if err != nil {
		return 0
	}
	return uint32(result.(int32))
}
