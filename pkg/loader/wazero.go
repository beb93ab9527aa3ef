package loader

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/sandwichfarm/cassette/pkg/memproto"
)

// WazeroLoader is the default Loader backend: a pure-Go WebAssembly
// runtime, requiring no cgo toolchain on the host. Cassettes are
// compiled GOOS=wasip1 GOARCH=wasm (spec.md §4.1's Go realization of the
// guest target), so the WASI preview1 snapshot is instantiated alongside
// the module even though a read-only cassette's guest code never touches
// the filesystem or network.
type WazeroLoader struct {
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	tracker *EventTracker
}

// memoryAdapter satisfies memproto.GuestMemory over wazero's api.Memory,
// whose Read signature already matches the interface exactly.
type memoryAdapter struct {
	mem api.Memory
}

func (m memoryAdapter) Read(offset, byteCount uint32) ([]byte, bool) {
	return m.mem.Read(offset, byteCount)
}

// LoadWazero compiles and instantiates the cassette at path.
func LoadWazero(ctx context.Context, path string) (*WazeroLoader, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: reading %s: %w", path, err)
	}

	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("loader: instantiating WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("loader: compiling module: %w", err)
	}

	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithStdout(os.Stdout).WithStderr(os.Stderr))
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("loader: instantiating module: %w", err)
	}

	mem := mod.Memory()
	if mem == nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("loader: module exports no memory")
	}

	for _, required := range []string{"send", "info", "alloc_buffer"} {
		if mod.ExportedFunction(required) == nil {
			runtime.Close(ctx)
			return nil, &ErrMissingExport{Name: required}
		}
	}

	return &WazeroLoader{
		runtime: runtime,
		module:  mod,
		memory:  mem,
		tracker: NewEventTracker(),
	}, nil
}

// Close releases the underlying wazero runtime.
func (l *WazeroLoader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// Send implements Loader.Send: one round trip for every non-REQ verb,
// or a full drain loop (spec.md §6.2 step 4) for REQ.
func (l *WazeroLoader) Send(message string) (*SendResult, error) {
	if subID, ok := IsREQ(message); ok {
		results, err := DrainREQ(message, subID, l.tracker, l.sendOnce)
		if err != nil {
			return nil, err
		}
		return &SendResult{Multiple: results}, nil
	}

	response, err := l.sendOnce(message)
	if err != nil {
		return nil, err
	}
	return &SendResult{IsSingle: true, Single: response}, nil
}

// sendOnce writes message into guest memory, calls send(ptr, len), reads
// the response, and deallocates both the inbound buffer and the
// returned pointer, following spec.md §6.2 step 3's per-call discipline.
func (l *WazeroLoader) sendOnce(message string) (string, error) {
	ctx := context.Background()

	msgPtr, err := l.writeString(ctx, message)
	if err != nil {
		return "", err
	}

	sendFn := l.module.ExportedFunction("send")
	results, err := sendFn.Call(ctx, uint64(msgPtr), uint64(len(message)))
	l.deallocString(ctx, msgPtr)
	if err != nil {
		return "", fmt.Errorf("loader: calling send: %w", err)
	}

	resultPtr := uint32(results[0])
	if resultPtr == 0 {
		return "", nil
	}

	allocSize := l.allocationSize(ctx, resultPtr)
	response, err := memproto.ReadString(memoryAdapter{l.memory}, resultPtr, allocSize)
	l.deallocString(ctx, resultPtr)
	if err != nil {
		return "", fmt.Errorf("loader: reading send result: %w", err)
	}
	return response, nil
}

// SendFrame performs exactly one send() round trip, bypassing the
// drain-loop aggregation Send applies to REQ.
func (l *WazeroLoader) SendFrame(message string) (string, error) {
	return l.sendOnce(message)
}

// Info calls the cassette's info() export and returns its raw JSON body.
func (l *WazeroLoader) Info() (string, error) {
	ctx := context.Background()
	infoFn := l.module.ExportedFunction("info")
	if infoFn == nil {
		return `{"supported_nips":[]}`, nil
	}
	results, err := infoFn.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("loader: calling info: %w", err)
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return `{"supported_nips":[]}`, nil
	}
	allocSize := l.allocationSize(ctx, ptr)
	out, err := memproto.ReadString(memoryAdapter{l.memory}, ptr, allocSize)
	l.deallocString(ctx, ptr)
	return out, err
}

func (l *WazeroLoader) writeString(ctx context.Context, s string) (uint32, error) {
	allocFn := l.module.ExportedFunction("alloc_buffer")
	results, err := allocFn.Call(ctx, uint64(len(s)))
	if err != nil {
		return 0, fmt.Errorf("loader: calling alloc_buffer: %w", err)
	}
	ptr := uint32(results[0])
	if ptr == 0 && len(s) > 0 {
		return 0, fmt.Errorf("loader: alloc_buffer(%d) returned null", len(s))
	}
	if !l.memory.Write(ptr, []byte(s)) {
		return 0, fmt.Errorf("loader: writing %d bytes at %d out of bounds", len(s), ptr)
	}
	return ptr, nil
}

func (l *WazeroLoader) deallocString(ctx context.Context, ptr uint32) {
	if ptr == 0 {
		return
	}
	deallocFn := l.module.ExportedFunction("dealloc_string")
	if deallocFn == nil {
		return
	}
	size := l.allocationSize(ctx, ptr)
	_, _ = deallocFn.Call(ctx, uint64(ptr), uint64(size))
}

func (l *WazeroLoader) allocationSize(ctx context.Context, ptr uint32) uint32 {
	sizeFn := l.module.ExportedFunction("get_allocation_size")
	if sizeFn == nil {
		return 0
	}
	results, err := sizeFn.Call(ctx, uint64(ptr))
	if err != nil {
		return 0
	}
	return uint32(results[0])
}
