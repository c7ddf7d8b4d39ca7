// Package guests assembles the tutorial guest modules used by tests, the
// examples and the CLI demo. Every guest is a real wasm binary built with
// the wasm package; nothing is precompiled.
package guests

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-hostbridge/wasm"
)

// Passing-data layout.
const (
	// BufferOffset is where the guest buffer starts in linear memory.
	BufferOffset = 1024
	// DefaultCapacity is the buffer size of PassingData(0).
	DefaultCapacity = 100
	// SuffixOffset holds the terminated suffix appended by add_wasm_is_cool.
	SuffixOffset = 2048
	// Suffix is appended, followed by a terminator, by add_wasm_is_cool.
	Suffix = " Wasm is cool!"
)

// suffixSize counts the terminator.
const suffixSize = len(Suffix) + 1

var (
	i32     = []wasm.ValType{wasm.I32}
	i32i32  = []wasm.ValType{wasm.I32, wasm.I32}
	noTypes []wasm.ValType
)

// HelloWorld exports add_one and its camelCase alias addOne, a memory, and a
// mutable global "calls" counting add_one invocations.
func HelloWorld() []byte {
	m := &wasm.Module{
		Types:    []wasm.FuncType{{Params: i32, Results: i32}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{Type: wasm.I32, Mutable: true}, Init: wasm.I32ConstExpr(0)},
		},
		Code: []wasm.FuncBody{
			new(wasm.Code).
				GlobalGet(0).I32Const(1).I32Add().GlobalSet(0).
				LocalGet(0).I32Const(1).I32Add().
				Body(),
		},
		Exports: []wasm.Export{
			{Name: "add_one", Kind: wasm.ExternFunc, Index: 0},
			{Name: "addOne", Kind: wasm.ExternFunc, Index: 0},
			{Name: "memory", Kind: wasm.ExternMemory, Index: 0},
			{Name: "calls", Kind: wasm.ExternGlobal, Index: 0},
		},
	}
	return m.Encode()
}

// PassingData owns a buffer of capacity bytes at BufferOffset. A zero
// capacity means DefaultCapacity.
//
// get_wasm_memory_buffer_pointer (aliases getBufferPointer and
// get_buffer_pointer) returns the buffer offset. add_wasm_is_cool(n) appends
// Suffix and a terminator after the first n bytes and returns n+15, the
// number of bytes now meaningful in the buffer. It traps when the result
// would not fit.
func PassingData(capacity uint32) []byte {
	capacity = checkCapacity(capacity)
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Results: i32},
			{Params: i32, Results: i32},
		},
		Funcs:    []uint32{0, 1},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{
			new(wasm.Code).I32Const(BufferOffset).Body(),
			appendSuffixBody(capacity, func(c *wasm.Code) *wasm.Code { return c.I32Const(BufferOffset) }),
		},
		Exports: append(bufferExports(0, 1), wasm.Export{Name: "memory", Kind: wasm.ExternMemory, Index: 0}),
		Data:    []wasm.DataSegment{suffixSegment()},
	}
	return m.Encode()
}

// PassingDataImportedMemory behaves like PassingData but imports its memory
// as env.memory (at least one page) instead of defining it.
func PassingDataImportedMemory(capacity uint32) []byte {
	capacity = checkCapacity(capacity)
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Results: i32},
			{Params: i32, Results: i32},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "memory", Kind: wasm.ExternMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}},
		},
		Funcs: []uint32{0, 1},
		Code: []wasm.FuncBody{
			new(wasm.Code).I32Const(BufferOffset).Body(),
			appendSuffixBody(capacity, func(c *wasm.Code) *wasm.Code { return c.I32Const(BufferOffset) }),
		},
		Exports: bufferExports(0, 1),
		Data:    []wasm.DataSegment{suffixSegment()},
	}
	return m.Encode()
}

// MemoryBase imports env.memory and the immutable i32 global
// env.__memory_base. Its buffer of capacity bytes starts at the base, so the
// host decides where the guest's data lives. Exports get_buffer_pointer,
// add_wasm_is_cool and add_one.
func MemoryBase(capacity uint32) []byte {
	capacity = checkCapacity(capacity)
	base := func(c *wasm.Code) *wasm.Code { return c.GlobalGet(0) }
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Results: i32},
			{Params: i32, Results: i32},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "memory", Kind: wasm.ExternMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}},
			{Module: "env", Name: "__memory_base", Kind: wasm.ExternGlobal, Global: &wasm.GlobalType{Type: wasm.I32}},
		},
		Funcs: []uint32{0, 1, 1},
		Code: []wasm.FuncBody{
			base(new(wasm.Code)).Body(),
			appendSuffixBody(capacity, base),
			new(wasm.Code).LocalGet(0).I32Const(1).I32Add().Body(),
		},
		Exports: []wasm.Export{
			{Name: "get_buffer_pointer", Kind: wasm.ExternFunc, Index: 0},
			{Name: "add_wasm_is_cool", Kind: wasm.ExternFunc, Index: 1},
			{Name: "add_one", Kind: wasm.ExternFunc, Index: 2},
		},
		Data: []wasm.DataSegment{suffixSegment()},
	}
	return m.Encode()
}

// HostCounter imports env.get_counter and env.add_to_counter.
// increment_counter_loop(n) reads the counter once, then calls
// add_to_counter(1) n times and returns the last value it returned.
func HostCounter() []byte {
	const (
		getCounter = iota
		addToCounter
		loop
	)
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Results: i32},
			{Params: i32, Results: i32},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "get_counter", Kind: wasm.ExternFunc, TypeIdx: 0},
			{Module: "env", Name: "add_to_counter", Kind: wasm.ExternFunc, TypeIdx: 1},
		},
		Funcs: []uint32{1},
		Code: []wasm.FuncBody{
			new(wasm.Code).
				Call(getCounter).LocalSet(1).
				Block().
				Loop().
				LocalGet(0).I32Const(1).I32LtS().BrIf(1).
				I32Const(1).Call(addToCounter).LocalSet(1).
				LocalGet(0).I32Const(1).I32Sub().LocalSet(0).
				Br(0).
				End().
				End().
				LocalGet(1).
				Body(wasm.I32),
		},
		Exports: []wasm.Export{
			{Name: "increment_counter_loop", Kind: wasm.ExternFunc, Index: loop},
		},
	}
	return m.Encode()
}

// EarlyExit imports env.interrupt_execution and env.should_not_be_called.
// exit_early calls the first, then the second, then returns 24.
func EarlyExit() []byte {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{},
			{Results: i32},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "interrupt_execution", Kind: wasm.ExternFunc, TypeIdx: 0},
			{Module: "env", Name: "should_not_be_called", Kind: wasm.ExternFunc, TypeIdx: 0},
		},
		Funcs: []uint32{1},
		Code: []wasm.FuncBody{
			new(wasm.Code).Call(0).Call(1).I32Const(24).Body(),
		},
		Exports: []wasm.Export{
			{Name: "exit_early", Kind: wasm.ExternFunc, Index: 2},
		},
	}
	return m.Encode()
}

// HandlingErrors exports throw_wasm_error, which executes unreachable, and
// divide(a, b), a signed division that traps when b is zero.
func HandlingErrors() []byte {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{},
			{Params: i32i32, Results: i32},
		},
		Funcs: []uint32{0, 1},
		Code: []wasm.FuncBody{
			new(wasm.Code).Unreachable().Body(),
			new(wasm.Code).LocalGet(0).LocalGet(1).I32DivS().Body(),
		},
		Exports: []wasm.Export{
			{Name: "throw_wasm_error", Kind: wasm.ExternFunc, Index: 0},
			{Name: "divide", Kind: wasm.ExternFunc, Index: 1},
		},
	}
	return m.Encode()
}

// MissingImport imports env.missing_fn, which no tutorial host provides.
func MissingImport() []byte {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: noTypes, Results: noTypes}},
		Imports: []wasm.Import{
			{Module: "env", Name: "missing_fn", Kind: wasm.ExternFunc, TypeIdx: 0},
		},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{
			new(wasm.Code).Call(0).Body(),
		},
		Exports: []wasm.Export{
			{Name: "run", Kind: wasm.ExternFunc, Index: 1},
		},
	}
	return m.Encode()
}

// MaxPages is the maximum memory size of Growable.
const MaxPages = 16

// Growable has a one page memory that grow(n) extends by n pages, returning
// the previous size or -1. size() returns the size in pages.
// get_buffer_pointer and add_wasm_is_cool behave as in PassingData, so a
// host can observe its buffer across a relocation.
func Growable() []byte {
	maxPages := uint32(MaxPages)
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Results: i32},
			{Params: i32, Results: i32},
		},
		Funcs:    []uint32{0, 1, 1, 0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: &maxPages}}},
		Code: []wasm.FuncBody{
			new(wasm.Code).I32Const(BufferOffset).Body(),
			appendSuffixBody(DefaultCapacity, func(c *wasm.Code) *wasm.Code { return c.I32Const(BufferOffset) }),
			new(wasm.Code).LocalGet(0).MemoryGrow().Body(),
			new(wasm.Code).MemorySize().Body(),
		},
		Exports: []wasm.Export{
			{Name: "get_buffer_pointer", Kind: wasm.ExternFunc, Index: 0},
			{Name: "add_wasm_is_cool", Kind: wasm.ExternFunc, Index: 1},
			{Name: "grow", Kind: wasm.ExternFunc, Index: 2},
			{Name: "size", Kind: wasm.ExternFunc, Index: 3},
			{Name: "memory", Kind: wasm.ExternMemory, Index: 0},
		},
		Data: []wasm.DataSegment{suffixSegment()},
	}
	return m.Encode()
}

// WASIGreeting is what hello writes to stdout in WASIEcho.
const WASIGreeting = "hello from wasi\n"

const (
	wasiGreetingOffset = 256
	wasiEchoSize       = 512
)

// WASIEcho imports wasi_snapshot_preview1 and exports
//   - hello: writes WASIGreeting to stdout, returns the bytes written
//   - echo: copies one read of at most 512 stdin bytes to stdout, returns
//     the byte count
//   - argc, envc: the argument and environment variable counts
//
// An iovec lives at 0, the result slot at 8 and a scratch pair at 16.
func WASIEcho() []byte {
	const (
		fdRead = iota
		fdWrite
		argsSizesGet
		environSizesGet
	)
	rw := []wasm.ValType{wasm.I32, wasm.I32, wasm.I32, wasm.I32}
	wasi := func(name string, typ uint32) wasm.Import {
		return wasm.Import{Module: "wasi_snapshot_preview1", Name: name, Kind: wasm.ExternFunc, TypeIdx: typ}
	}
	sizes := func(fn uint32) wasm.FuncBody {
		return new(wasm.Code).
			I32Const(16).I32Const(20).Call(fn).Drop().
			I32Const(0).I32Load(16).
			Body()
	}

	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: rw, Results: i32},
			{Params: i32i32, Results: i32},
			{Params: noTypes, Results: i32},
		},
		Imports: []wasm.Import{
			wasi("fd_read", 0),
			wasi("fd_write", 0),
			wasi("args_sizes_get", 1),
			wasi("environ_sizes_get", 1),
		},
		Funcs:    []uint32{2, 2, 2, 2},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Code: []wasm.FuncBody{
			// hello
			new(wasm.Code).
				I32Const(0).I32Const(wasiGreetingOffset).I32Store(0).
				I32Const(0).I32Const(int32(len(WASIGreeting))).I32Store(4).
				I32Const(1).I32Const(0).I32Const(1).I32Const(8).Call(fdWrite).Drop().
				I32Const(0).I32Load(8).
				Body(),
			// echo
			new(wasm.Code).
				I32Const(0).I32Const(BufferOffset).I32Store(0).
				I32Const(0).I32Const(wasiEchoSize).I32Store(4).
				I32Const(0).I32Const(0).I32Const(1).I32Const(8).Call(fdRead).Drop().
				I32Const(0).I32Const(0).I32Load(8).I32Store(4).
				I32Const(1).I32Const(0).I32Const(1).I32Const(8).Call(fdWrite).Drop().
				I32Const(0).I32Load(4).
				Body(),
			sizes(argsSizesGet),
			sizes(environSizesGet),
		},
		Exports: []wasm.Export{
			{Name: "hello", Kind: wasm.ExternFunc, Index: 4},
			{Name: "echo", Kind: wasm.ExternFunc, Index: 5},
			{Name: "argc", Kind: wasm.ExternFunc, Index: 6},
			{Name: "envc", Kind: wasm.ExternFunc, Index: 7},
			{Name: "memory", Kind: wasm.ExternMemory, Index: 0},
		},
		Data: []wasm.DataSegment{
			{Offset: wasm.I32ConstExpr(wasiGreetingOffset), Init: []byte(WASIGreeting)},
		},
	}
	return m.Encode()
}

// Guest is a catalog entry.
type Guest struct {
	Build       func() []byte
	Name        string
	Description string
}

var catalog = map[string]Guest{
	"hello-world": {
		Name:        "hello-world",
		Description: "add_one / addOne arithmetic export",
		Build:       HelloWorld,
	},
	"passing-data": {
		Name:        "passing-data",
		Description: "guest buffer exchange through exported memory",
		Build:       func() []byte { return PassingData(DefaultCapacity) },
	},
	"imported-memory": {
		Name:        "imported-memory",
		Description: "guest buffer exchange through a host-provided env.memory",
		Build:       func() []byte { return PassingDataImportedMemory(DefaultCapacity) },
	},
	"memory-base": {
		Name:        "memory-base",
		Description: "buffer placed by the host through env.__memory_base",
		Build:       func() []byte { return MemoryBase(DefaultCapacity) },
	},
	"host-counter": {
		Name:        "host-counter",
		Description: "increment_counter_loop calling env.add_to_counter",
		Build:       HostCounter,
	},
	"early-exit": {
		Name:        "early-exit",
		Description: "exit_early interrupted by env.interrupt_execution",
		Build:       EarlyExit,
	},
	"handling-errors": {
		Name:        "handling-errors",
		Description: "throw_wasm_error and divide traps",
		Build:       HandlingErrors,
	},
	"missing-import": {
		Name:        "missing-import",
		Description: "imports env.missing_fn, which no host provides",
		Build:       MissingImport,
	},
	"growable": {
		Name:        "growable",
		Description: "memory.grow relocating the guest buffer",
		Build:       Growable,
	},
	"wasi-echo": {
		Name:        "wasi-echo",
		Description: "stdio, args and environment through wasi_snapshot_preview1",
		Build:       WASIEcho,
	},
}

// Lookup returns the catalog guest called name.
func Lookup(name string) (Guest, bool) {
	g, ok := catalog[name]
	return g, ok
}

// Names returns the catalog names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkCapacity(capacity uint32) uint32 {
	if capacity == 0 {
		return DefaultCapacity
	}
	if capacity < uint32(suffixSize) || BufferOffset+capacity > SuffixOffset {
		panic(fmt.Sprintf("guests: buffer capacity %d outside [%d, %d]", capacity, suffixSize, SuffixOffset-BufferOffset))
	}
	return capacity
}

func bufferExports(pointer, appendSuffix uint32) []wasm.Export {
	return []wasm.Export{
		{Name: "get_wasm_memory_buffer_pointer", Kind: wasm.ExternFunc, Index: pointer},
		{Name: "getBufferPointer", Kind: wasm.ExternFunc, Index: pointer},
		{Name: "get_buffer_pointer", Kind: wasm.ExternFunc, Index: pointer},
		{Name: "add_wasm_is_cool", Kind: wasm.ExternFunc, Index: appendSuffix},
		{Name: "addWasmIsCool", Kind: wasm.ExternFunc, Index: appendSuffix},
	}
}

func suffixSegment() wasm.DataSegment {
	return wasm.DataSegment{
		Offset: wasm.I32ConstExpr(SuffixOffset),
		Init:   append([]byte(Suffix), 0),
	}
}

// appendSuffixBody: param 0 is the current payload length.
//
//	if capacity-15 < n (unsigned) { unreachable }
//	memory.copy(ptr+n, SuffixOffset, 15)
//	return n + 15
func appendSuffixBody(capacity uint32, ptr func(*wasm.Code) *wasm.Code) wasm.FuncBody {
	c := new(wasm.Code).
		I32Const(int32(capacity) - int32(suffixSize)).LocalGet(0).I32LtU().
		If().Unreachable().End()
	ptr(c).LocalGet(0).I32Add().
		I32Const(SuffixOffset).
		I32Const(int32(suffixSize)).
		MemoryCopy().
		LocalGet(0).I32Const(int32(suffixSize)).I32Add()
	return c.Body()
}
