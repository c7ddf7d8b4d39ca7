// Package hostbridge provides host/guest linear-memory interop on top of wazero.
//
// A host application loads a WebAssembly module, supplies memory, global and
// function imports, calls exported functions with typed scalars and exchanges
// data through a fixed-capacity buffer that lives in guest linear memory.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	hostbridge/          Root package with Value, ValueType and Memory interfaces
//	├── runtime/         High-level API and the guest buffer exchange protocol
//	├── engine/          wazero binding: stores, imports, instances, calls
//	├── memory/          Generation-stamped, bounds-checked memory views
//	├── codec/           Terminated and length-prefixed buffer encodings
//	├── wasm/            Minimal wasm binary encoder and import/export reader
//	├── manifest/        YAML guest manifests for the CLI
//	├── metrics/         Prometheus call metrics
//	└── errors/          Structured error types for diagnostics
//
// # Quick Start
//
// Pass a string through a guest buffer:
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, wasmBytes, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	buf, err := inst.Buffer(runtime.BufferSpec{
//	    PointerExport: "get_wasm_memory_buffer_pointer",
//	    Capacity:      1024,
//	    Input:         codec.LengthPrefixed,
//	    Output:        codec.Terminated,
//	})
//	res, err := buf.Exchange(ctx, "add_wasm_is_cool", []byte("Did you know"))
//	fmt.Println(string(res.Data)) // "Did you know Wasm is cool!"
//
// # Memory Model
//
// Linear memory belongs to the guest instance. The host only borrows views,
// and every view is stamped with the store generation at acquisition. Any
// guest call advances the generation because a call may grow memory and
// relocate its backing buffer, so a view read or written after a call fails
// with a stale_view error instead of touching freed memory. Re-acquire views
// after every call.
//
// # Thread Safety
//
// Calls into one store run to completion before control returns to the host.
// Stores, instances and views are NOT safe for concurrent use.
package hostbridge
