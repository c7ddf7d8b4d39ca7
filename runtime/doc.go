// Package runtime provides the high-level API for host/guest data exchange.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Load a core module, optionally with export signatures
//	mod, err := rt.Load(ctx, wasmBytes, "add-one: func(x: s32) -> s32")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create an instance
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	// Call exported functions
//	result, err := inst.Call(ctx, "add_one", 24)
//	fmt.Println(result) // 25
//
// # Host Functions
//
// Register Go functions as guest imports before the first instantiation:
//
//	// Register a typed function
//	rt.RegisterFunc("env", "add_to_counter",
//	    func(ctx context.Context, n int32) int32 {
//	        counter += n
//	        return counter
//	    })
//
//	// Or implement the Host interface for a full namespace
//	rt.RegisterHost(&Counter{})
//
//	// Abort the calling guest
//	rt.RegisterInterrupt("env", "interrupt_execution", 1)
//
// The first instantiation seals the runtime's imports; later registrations
// fail.
//
// # Type Mapping
//
// Go scalars map to core value types:
//
//	Go Type          Core Type
//	───────────────────────────
//	int32/uint32     i32
//	int64/uint64     i64
//	float32          f32
//	float64          f64
//
// With signatures, results are lifted to the declared WIT type (u8 returns
// uint8, bool returns bool, and so on).
//
// # Guest Buffers
//
// Many guests keep a fixed buffer in linear memory and export its address.
// GuestBuffer writes a payload there, calls an export with the payload
// length and decodes what the export left behind:
//
//	buf, err := inst.Buffer(runtime.BufferSpec{
//	    PointerExport: "get_wasm_memory_buffer_pointer",
//	    Capacity:      100,
//	    Input:         codec.LengthPrefixed,
//	    Output:        codec.Terminated,
//	})
//	res, err := buf.Exchange(ctx, "add_wasm_is_cool", []byte("Did you know"))
//	fmt.Println(string(res.Data)) // Did you know Wasm is cool!
//
// The pointer and the memory view are fetched again for every operation.
//
// # Thread Safety
//
// Runtime, Module and Instance are NOT thread-safe. Use one runtime per
// goroutine, or synchronize externally.
//
// # Resource Management
//
// Always close instances when done. Closing the runtime releases every
// instance it created.
package runtime
