package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/internal/guests"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

func newStore(t *testing.T, cfg *Config) *Store {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	s, err := e.NewStore(ctx)
	require.NoError(t, err)
	return s
}

func instantiate(t *testing.T, s *Store, bin []byte, imports *Imports) *Instance {
	t.Helper()
	ctx := context.Background()
	mod, err := s.Compile(ctx, bin)
	require.NoError(t, err)
	inst, err := s.Instantiate(ctx, mod, imports)
	require.NoError(t, err)
	return inst
}

func TestNew_Configs(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{CloseOnContextDone: true}, "close on context done"},
		{&Config{CacheDir: t.TempDir()}, "disk cache"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := New(ctx, tc.cfg)
			require.NoError(t, err)
			s, err := e.NewStore(ctx)
			require.NoError(t, err)

			inst := instantiate(t, s, guests.HelloWorld(), nil)
			v, err := inst.CallScalar(ctx, "add_one", hostbridge.I32(1))
			require.NoError(t, err)
			assert.Equal(t, int32(2), v.I32())

			require.NoError(t, e.Close(ctx))
			require.NoError(t, e.Close(ctx))
		})
	}
}

func TestEngine_ClosedRejectsStores(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close(ctx))

	_, err = e.NewStore(ctx)
	assert.True(t, errors.IsKind(err, errors.KindClosed))
}

func TestHelloWorld(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	inst := instantiate(t, s, guests.HelloWorld(), nil)

	v, err := inst.CallScalar(ctx, "add_one", hostbridge.I32(24))
	require.NoError(t, err)
	assert.Equal(t, int32(25), v.I32())

	v, err = inst.CallScalar(ctx, "addOne", hostbridge.I32(-1))
	require.NoError(t, err)
	assert.Equal(t, int32(0), v.I32())

	calls, err := inst.ExportedGlobal("calls")
	require.NoError(t, err)
	got, err := calls.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.I32())

	require.NoError(t, calls.Set(hostbridge.I32(10)))
	_, err = inst.CallScalar(ctx, "add_one", hostbridge.I32(0))
	require.NoError(t, err)
	got, err = calls.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(11), got.I32())

	err = calls.Set(hostbridge.I64(1))
	assert.True(t, errors.IsKind(err, errors.KindTypeMismatch))
}

func TestInvoke_Rejections(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	inst := instantiate(t, s, guests.HelloWorld(), nil)

	tests := []struct {
		name string
		call Call
		kind errors.Kind
	}{
		{"missing export", Call{Export: "nope", Results: AnyResults}, errors.KindExportNotFound},
		{"memory is not a function", Call{Export: "memory", Results: AnyResults}, errors.KindExportNotFound},
		{"too few args", Call{Export: "add_one", Results: AnyResults}, errors.KindArityMismatch},
		{"too many args", Call{Export: "add_one", Args: []hostbridge.Value{hostbridge.I32(1), hostbridge.I32(2)}, Results: 1}, errors.KindArityMismatch},
		{"wrong arg type", Call{Export: "add_one", Args: []hostbridge.Value{hostbridge.F64(1)}, Results: 1}, errors.KindArityMismatch},
		{"wrong result count", Call{Export: "add_one", Args: []hostbridge.Value{hostbridge.I32(1)}, Results: 2}, errors.KindArityMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := inst.Invoke(ctx, tc.call)
			require.Error(t, err)
			assert.Equal(t, tc.kind, errors.KindOf(err))
			assert.Equal(t, err.Error(), s.LastErrorMessage())
		})
	}

	v, err := inst.CallScalar(ctx, "add_one", hostbridge.I32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), v.I32())
	assert.Empty(t, s.LastErrorMessage())
	assert.NoError(t, s.LastError())
}

func TestPassingData(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	inst := instantiate(t, s, guests.PassingData(guests.DefaultCapacity), nil)

	ptr, err := inst.CallScalar(ctx, "get_wasm_memory_buffer_pointer")
	require.NoError(t, err)
	assert.Equal(t, uint32(guests.BufferOffset), ptr.U32())

	view, err := inst.Memory(0)
	require.NoError(t, err)
	payload := []byte("Did you know")
	require.NoError(t, view.Write(ptr.U32(), payload))

	n, err := inst.CallScalar(ctx, "add_wasm_is_cool", hostbridge.I32(int32(len(payload))))
	require.NoError(t, err)
	assert.Equal(t, int32(27), n.I32())

	_, err = view.Read(ptr.U32(), 1)
	assert.True(t, errors.IsKind(err, errors.KindStaleView))
	assert.False(t, view.Valid())

	view, err = inst.Memory(0)
	require.NoError(t, err)
	out, err := view.Read(ptr.U32(), uint32(n.I32()))
	require.NoError(t, err)
	assert.Equal(t, "Did you know Wasm is cool!\x00", string(out))

	exported, err := inst.ExportedMemory("memory")
	require.NoError(t, err)
	assert.Equal(t, view.Len(), exported.Len())

	_, err = inst.Memory(1)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestPassingData_OverflowTraps(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	inst := instantiate(t, s, guests.PassingData(guests.DefaultCapacity), nil)

	_, err := inst.CallScalar(ctx, "add_wasm_is_cool", hostbridge.I32(guests.DefaultCapacity-14))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTrap))
	assert.Contains(t, err.Error(), "unreachable")

	n, err := inst.CallScalar(ctx, "add_wasm_is_cool", hostbridge.I32(guests.DefaultCapacity-15))
	require.NoError(t, err)
	assert.Equal(t, int32(guests.DefaultCapacity), n.I32())
}

func TestHandlingErrors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	inst := instantiate(t, s, guests.HandlingErrors(), nil)

	_, err := inst.Call(ctx, "throw_wasm_error")
	require.Error(t, err)
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.KindTrap, e.Kind)
	assert.Equal(t, "unreachable", e.Detail)

	_, err = inst.CallScalar(ctx, "divide", hostbridge.I32(1), hostbridge.I32(0))
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.KindTrap, e.Kind)
	assert.Equal(t, "integer divide by zero", e.Detail)
	assert.Equal(t, []any{int32(1), int32(0)}, e.Args)
	assert.Contains(t, s.LastErrorMessage(), "integer divide by zero")

	v, err := inst.CallScalar(ctx, "divide", hostbridge.I32(10), hostbridge.I32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(5), v.I32())
	assert.Empty(t, s.LastErrorMessage())
}

func counterImports(t *testing.T, counter *int32) *Imports {
	t.Helper()
	im := NewImports()
	require.NoError(t, im.DefineFunc("env", "get_counter", HostFunc{
		Results: []hostbridge.ValueType{hostbridge.ValueTypeI32},
		Fn: func(_ context.Context, _ *Caller, _ []hostbridge.Value) ([]hostbridge.Value, error) {
			return []hostbridge.Value{hostbridge.I32(*counter)}, nil
		},
	}))
	require.NoError(t, im.DefineFunc("env", "add_to_counter", HostFunc{
		Params:  []hostbridge.ValueType{hostbridge.ValueTypeI32},
		Results: []hostbridge.ValueType{hostbridge.ValueTypeI32},
		Fn: func(_ context.Context, _ *Caller, args []hostbridge.Value) ([]hostbridge.Value, error) {
			*counter += args[0].I32()
			return []hostbridge.Value{hostbridge.I32(*counter)}, nil
		},
	}))
	return im
}

func TestHostCounter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	counter := int32(24)
	im := counterImports(t, &counter)
	inst := instantiate(t, s, guests.HostCounter(), im)

	v, err := inst.CallScalar(ctx, "increment_counter_loop", hostbridge.I32(5))
	require.NoError(t, err)
	assert.Equal(t, int32(29), v.I32())
	assert.Equal(t, int32(29), counter)

	// The same set serves a second instance in the same store.
	inst2 := instantiate(t, s, guests.HostCounter(), im)
	v, err = inst2.CallScalar(ctx, "increment_counter_loop", hostbridge.I32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(30), v.I32())

	// Sealed after linking.
	err = im.DefineFunc("env", "late", HostFunc{Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
		return nil, nil
	}})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestEarlyExit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	called := false
	im := NewImports()
	require.NoError(t, im.DefineFunc("env", "interrupt_execution", HostFunc{
		Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			Interrupt(42)
			return nil, nil
		},
	}))
	require.NoError(t, im.DefineFunc("env", "should_not_be_called", HostFunc{
		Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			called = true
			return nil, nil
		},
	}))
	inst := instantiate(t, s, guests.EarlyExit(), im)

	_, err := inst.CallScalar(ctx, "exit_early")
	require.Error(t, err)
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.KindHostInterrupted, e.Kind)
	assert.Equal(t, uint32(42), e.Value)
	assert.False(t, called)

	var ie *InterruptError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "env.interrupt_execution", ie.Import)

	// Still usable: the interrupt fires again.
	_, err = inst.CallScalar(ctx, "exit_early")
	assert.True(t, errors.IsKind(err, errors.KindHostInterrupted))
	assert.False(t, called)
}

func TestHostFunc_Failures(t *testing.T) {
	ctx := context.Background()
	hostErr := errors.InvalidInput(errors.PhaseHost, "counter unavailable")

	tests := []struct {
		fn   func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error)
		name string
		code uint32
	}{
		{
			name: "returns error",
			code: InterruptHostError,
			fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
				return nil, hostErr
			},
		},
		{
			name: "wrong result count",
			code: InterruptBadResults,
			fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
				return nil, nil
			},
		},
		{
			name: "wrong result type",
			code: InterruptBadResults,
			fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
				return []hostbridge.Value{hostbridge.I64(1)}, nil
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t, nil)
			im := NewImports()
			require.NoError(t, im.DefineFunc("env", "get_counter", HostFunc{
				Results: []hostbridge.ValueType{hostbridge.ValueTypeI32},
				Fn:      tc.fn,
			}))
			require.NoError(t, im.DefineFunc("env", "add_to_counter", HostFunc{
				Params:  []hostbridge.ValueType{hostbridge.ValueTypeI32},
				Results: []hostbridge.ValueType{hostbridge.ValueTypeI32},
				Fn: func(_ context.Context, _ *Caller, args []hostbridge.Value) ([]hostbridge.Value, error) {
					return args, nil
				},
			}))
			inst := instantiate(t, s, guests.HostCounter(), im)

			_, err := inst.CallScalar(ctx, "increment_counter_loop", hostbridge.I32(1))
			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, errors.KindHostInterrupted, e.Kind)
			assert.Equal(t, tc.code, e.Value)
			if tc.code == InterruptHostError {
				assert.ErrorIs(t, err, hostErr)
			}
		})
	}
}

func TestInstantiate_UnresolvedImports(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	mod, err := s.Compile(ctx, guests.MissingImport())
	require.NoError(t, err)

	_, err = s.Instantiate(ctx, mod, nil)
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.KindImportResolution, e.Kind)
	assert.Equal(t, []string{"env", "missing_fn"}, e.Path)
	assert.Contains(t, s.LastErrorMessage(), "missing_fn")

	im := NewImports()
	require.NoError(t, im.DefineFunc("env", "missing_fn", HostFunc{
		Params: []hostbridge.ValueType{hostbridge.ValueTypeI32},
		Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			return nil, nil
		},
	}))
	_, err = s.Instantiate(ctx, mod, im)
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.KindImportResolution, e.Kind)
	assert.Contains(t, e.Detail, "signature mismatch")

	// Nothing was linked or instantiated.
	assert.Empty(t, s.instances)
	assert.Empty(t, s.linked)
}

func TestInstantiate_AllMissingListed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	mod, err := s.Compile(ctx, guests.MemoryBase(guests.DefaultCapacity))
	require.NoError(t, err)

	_, err = s.Instantiate(ctx, mod, NewImports())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindImportResolution))
	assert.Contains(t, err.Error(), "env.memory")
	assert.Contains(t, err.Error(), "env.__memory_base")
}

func TestImportedMemory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	im := NewImports()
	mem, err := im.DefineMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	require.NoError(t, err)

	_, err = mem.View()
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	inst := instantiate(t, s, guests.PassingDataImportedMemory(guests.DefaultCapacity), im)

	view, err := mem.View()
	require.NoError(t, err)
	require.NoError(t, view.Write(guests.BufferOffset, []byte("Did you know")))

	n, err := inst.CallScalar(ctx, "add_wasm_is_cool", hostbridge.I32(12))
	require.NoError(t, err)
	assert.Equal(t, int32(27), n.I32())

	view, err = mem.View()
	require.NoError(t, err)
	out, err := view.Read(guests.BufferOffset, 26)
	require.NoError(t, err)
	assert.Equal(t, "Did you know Wasm is cool!", string(out))

	gen := s.Generation()
	prev, err := mem.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), prev)
	assert.Greater(t, s.Generation(), gen)
	assert.False(t, view.Valid())
	size, err := mem.Size()
	require.NoError(t, err)
	assert.Equal(t, uint32(2*PageSize), size)

	require.NoError(t, mem.Close())
	require.NoError(t, mem.Close())
	_, err = mem.View()
	assert.True(t, errors.IsKind(err, errors.KindClosed))
}

func TestImportedMemory_LimitsMismatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	mod, err := s.Compile(ctx, guests.PassingDataImportedMemory(guests.DefaultCapacity))
	require.NoError(t, err)

	im := NewImports()
	_, err = im.DefineMemory("env", "memory", wasm.MemoryType{})
	require.NoError(t, err)

	_, err = s.Instantiate(ctx, mod, im)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limits mismatch")
}

func TestMemoryBase(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	im := NewImports()
	_, err := im.DefineMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	require.NoError(t, err)
	base, err := im.DefineGlobal("env", "__memory_base", wasm.GlobalType{Type: wasm.I32}, hostbridge.I32(4096))
	require.NoError(t, err)
	counter := int32(0)
	require.NoError(t, im.DefineFunc("env", "get_counter", HostFunc{
		Results: []hostbridge.ValueType{hostbridge.ValueTypeI32},
		Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			return []hostbridge.Value{hostbridge.I32(counter)}, nil
		},
	}))

	inst := instantiate(t, s, guests.MemoryBase(guests.DefaultCapacity), im)

	ptr, err := inst.CallScalar(ctx, "get_buffer_pointer")
	require.NoError(t, err)
	assert.Equal(t, int32(4096), ptr.I32())

	v, err := inst.CallScalar(ctx, "add_one", hostbridge.I32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), v.I32())

	got, err := base.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(4096), got.I32())

	err = base.Set(hostbridge.I32(0))
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestDefineGlobal_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	mod, err := s.Compile(ctx, guests.MemoryBase(guests.DefaultCapacity))
	require.NoError(t, err)

	im := NewImports()
	_, err = im.DefineGlobal("env", "__memory_base", wasm.GlobalType{Type: wasm.I32}, hostbridge.I64(1))
	assert.True(t, errors.IsKind(err, errors.KindTypeMismatch))

	_, err = im.DefineMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	require.NoError(t, err)
	_, err = im.DefineGlobal("env", "__memory_base", wasm.GlobalType{Type: wasm.I32, Mutable: true}, hostbridge.I32(1))
	require.NoError(t, err)

	_, err = s.Instantiate(ctx, mod, im)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type mismatch")
}

func TestImports_DefineErrors(t *testing.T) {
	noop := HostFunc{Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
		return nil, nil
	}}
	im := NewImports()
	require.NoError(t, im.DefineFunc("env", "f", noop))

	assert.True(t, errors.IsKind(im.DefineFunc("env", "f", noop), errors.KindInvalidInput))
	assert.True(t, errors.IsKind(im.DefineFunc("", "f", noop), errors.KindInvalidInput))
	assert.True(t, errors.IsKind(im.DefineFunc("env", "g", HostFunc{}), errors.KindInvalidInput))
	assert.True(t, errors.IsKind(im.DefineFunc("env", "h", HostFunc{
		Fn:     noop.Fn,
		Params: []hostbridge.ValueType{0x70},
	}), errors.KindTypeMismatch))

	_, err := im.DefineMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	require.NoError(t, err)
	_, err = im.DefineMemory("env", "memory2", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	max := uint32(1)
	_, err = im.DefineMemory("other", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 2, Max: &max}})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	assert.Equal(t, 2, im.Len())
	assert.True(t, im.Has("env", "memory"))
	assert.False(t, im.Has("env", "memory2"))
}

func TestLink_NamespaceOwnedByAnotherSet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	a, b := int32(0), int32(0)
	instantiate(t, s, guests.HostCounter(), counterImports(t, &a))

	mod, err := s.Compile(ctx, guests.HostCounter())
	require.NoError(t, err)
	_, err = s.Instantiate(ctx, mod, counterImports(t, &b))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindImportResolution))
	assert.Contains(t, err.Error(), "already linked")
}

func TestLink_SetBoundToOneStore(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, nil)
	require.NoError(t, err)
	defer e.Close(ctx)

	counter := int32(0)
	im := counterImports(t, &counter)

	s1, err := e.NewStore(ctx)
	require.NoError(t, err)
	instantiate(t, s1, guests.HostCounter(), im)

	s2, err := e.NewStore(ctx)
	require.NoError(t, err)
	mod, err := s2.Compile(ctx, guests.HostCounter())
	require.NoError(t, err)
	_, err = s2.Instantiate(ctx, mod, im)
	assert.True(t, errors.IsKind(err, errors.KindImportResolution))
}

func TestGrowable_InvalidatesViews(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	inst := instantiate(t, s, guests.Growable(), nil)

	view, err := inst.Memory(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(PageSize), view.Len())

	prev, err := inst.CallScalar(ctx, "grow", hostbridge.I32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(1), prev.I32())

	_, err = view.ReadU32(0)
	assert.True(t, errors.IsKind(err, errors.KindStaleView))

	view, err = inst.Memory(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(3*PageSize), view.Len())

	pages, err := inst.CallScalar(ctx, "size")
	require.NoError(t, err)
	assert.Equal(t, int32(3), pages.I32())

	failed, err := inst.CallScalar(ctx, "grow", hostbridge.I32(guests.MaxPages))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), failed.I32())
}

func TestCaller_Memory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	var seen []byte
	im := NewImports()
	require.NoError(t, im.DefineFunc("env", "missing_fn", HostFunc{
		Fn: func(_ context.Context, c *Caller, _ []hostbridge.Value) ([]hostbridge.Value, error) {
			_, err := c.Memory()
			assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)
			assert.Equal(t, "env.missing_fn", c.Import())
			assert.NotNil(t, c.Logger())
			seen = []byte("called")
			return nil, nil
		},
	}))
	inst := instantiate(t, s, guests.MissingImport(), im)
	_, err := inst.Call(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, "called", string(seen))
}

func TestInstance_MemorylessGuest(t *testing.T) {
	s := newStore(t, nil)

	im := NewImports()
	require.NoError(t, im.DefineFunc("env", "missing_fn", HostFunc{
		Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			return nil, nil
		},
	}))
	inst := instantiate(t, s, guests.MissingImport(), im)

	var err error
	require.NotPanics(t, func() { _, err = inst.Memory(0) })
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)

	_, err = inst.ExportedMemory("memory")
	assert.True(t, errors.IsKind(err, errors.KindExportNotFound), "got %v", err)
}

func TestContextDeadline_Traps(t *testing.T) {
	s := newStore(t, &Config{CloseOnContextDone: true})

	spin := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{
			new(wasm.Code).Loop().Br(0).End().Body(),
		},
		Exports: []wasm.Export{{Name: "spin", Kind: wasm.ExternFunc, Index: 0}},
	}
	inst := instantiate(t, s, spin.Encode(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := inst.Call(ctx, "spin")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTrap))
	assert.Contains(t, err.Error(), "deadline exceeded")

	_, err = inst.Call(context.Background(), "spin")
	assert.True(t, errors.IsKind(err, errors.KindClosed))
}

func TestInstantiate_StartFunction(t *testing.T) {
	ctx := context.Background()
	start := uint32(1)
	halting := &wasm.Module{
		Types:   []wasm.FuncType{{}},
		Imports: []wasm.Import{{Module: "env", Name: "halt", Kind: wasm.ExternFunc, TypeIdx: 0}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{new(wasm.Code).Call(0).Body()},
		Start:   &start,
	}

	s := newStore(t, nil)
	im := NewImports()
	require.NoError(t, im.DefineFunc("env", "halt", HostFunc{
		Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			Interrupt(5)
			return nil, nil
		},
	}))
	mod, err := s.Compile(ctx, halting.Encode())
	require.NoError(t, err)
	_, err = s.Instantiate(ctx, mod, im)
	var e *errors.Error
	require.True(t, errors.As(err, &e), "got %v", err)
	assert.Equal(t, errors.KindHostInterrupted, e.Kind)
	assert.Equal(t, uint32(5), e.Value)
	var ie *InterruptError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "env.halt", ie.Import)

	first := uint32(0)
	trapping := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{new(wasm.Code).Unreachable().Body()},
		Start: &first,
	}
	s = newStore(t, nil)
	mod, err = s.Compile(ctx, trapping.Encode())
	require.NoError(t, err)
	_, err = s.Instantiate(ctx, mod, nil)
	assert.True(t, errors.IsKind(err, errors.KindTrap), "got %v", err)
	assert.Contains(t, s.LastErrorMessage(), "unreachable")
}

func TestClose_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	mod, err := s.Compile(ctx, guests.HelloWorld())
	require.NoError(t, err)
	inst, err := s.Instantiate(ctx, mod, nil)
	require.NoError(t, err)

	require.NoError(t, inst.Close(ctx))
	require.NoError(t, inst.Close(ctx))
	_, err = inst.CallScalar(ctx, "add_one", hostbridge.I32(1))
	assert.True(t, errors.IsKind(err, errors.KindClosed))
	_, err = inst.Memory(0)
	assert.True(t, errors.IsKind(err, errors.KindClosed))

	inst2, err := s.Instantiate(ctx, mod, nil)
	require.NoError(t, err)
	calls, err := inst2.ExportedGlobal("calls")
	require.NoError(t, err)

	require.NoError(t, mod.Close(ctx))
	require.NoError(t, mod.Close(ctx))
	_, err = s.Instantiate(ctx, mod, nil)
	assert.True(t, errors.IsKind(err, errors.KindClosed))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	_, err = inst2.CallScalar(ctx, "add_one", hostbridge.I32(1))
	assert.True(t, errors.IsKind(err, errors.KindClosed))
	_, err = calls.Get()
	assert.True(t, errors.IsKind(err, errors.KindClosed))
	_, err = s.Compile(ctx, guests.HelloWorld())
	assert.True(t, errors.IsKind(err, errors.KindClosed))
}

func TestCompile_Malformed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	_, err := s.Compile(ctx, []byte("not wasm"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidData))
	assert.NotEmpty(t, s.LastErrorMessage())
}

func TestModule_Description(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	mod, err := s.Compile(ctx, guests.HostCounter())
	require.NoError(t, err)

	require.Len(t, mod.Imports(), 2)
	assert.Equal(t, "env.get_counter", mod.Imports()[0].Key())

	sig, err := mod.ExportedFunction("increment_counter_loop")
	require.NoError(t, err)
	assert.Equal(t, "(i32) -> (i32)", sig.String())

	_, err = mod.ExportedFunction("nope")
	assert.True(t, errors.IsKind(err, errors.KindExportNotFound))
}

type recordingObserver struct {
	calls  map[Outcome]int
	memory map[Direction]int
	mu     sync.Mutex
}

func (r *recordingObserver) ObserveCall(_ string, outcome Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[outcome]++
}

func (r *recordingObserver) ObserveMemory(direction Direction, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[direction] += n
}

func TestObserver_Outcomes(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{calls: map[Outcome]int{}, memory: map[Direction]int{}}
	s := newStore(t, &Config{Observer: obs})
	inst := instantiate(t, s, guests.HandlingErrors(), nil)

	_, _ = inst.CallScalar(ctx, "divide", hostbridge.I32(4), hostbridge.I32(2))
	_, _ = inst.CallScalar(ctx, "divide", hostbridge.I32(4), hostbridge.I32(0))
	_, _ = inst.Call(ctx, "nope")

	assert.Equal(t, 1, obs.calls[OutcomeOK])
	assert.Equal(t, 1, obs.calls[OutcomeTrap])
	assert.Equal(t, 1, obs.calls[OutcomeRejected])
	assert.Same(t, CallObserver(obs), s.Observer())
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeOK, OutcomeOf(nil))
	assert.Equal(t, OutcomeError, OutcomeOf(context.Canceled))
	assert.Equal(t, OutcomeTrap, OutcomeOf(errors.Trap("f", nil, "unreachable", nil)))
	assert.Equal(t, OutcomeInterrupted, OutcomeOf(errors.HostInterrupted("f", nil, 1, nil)))
	assert.Equal(t, OutcomeRejected, OutcomeOf(errors.ExportNotFound("f")))
	assert.Equal(t, OutcomeError, OutcomeOf(errors.Engine(errors.PhaseCall, "f", context.Canceled)))
}

func TestWASI(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	var stdout bytes.Buffer
	require.NoError(t, s.EnableWASI(ctx, WASI{
		Stdin:  strings.NewReader("from stdin"),
		Stdout: &stdout,
		Args:   []string{"echo", "a", "b"},
		Env:    map[string]string{"A": "1", "B": "2"},
	}))
	assert.True(t, s.WASIEnabled())

	inst := instantiate(t, s, guests.WASIEcho(), nil)

	n, err := inst.CallScalar(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(len(guests.WASIGreeting)), n.I32())

	n, err = inst.CallScalar(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, int32(10), n.I32())
	assert.Equal(t, guests.WASIGreeting+"from stdin", stdout.String())

	argc, err := inst.CallScalar(ctx, "argc")
	require.NoError(t, err)
	assert.Equal(t, int32(3), argc.I32())
	envc, err := inst.CallScalar(ctx, "envc")
	require.NoError(t, err)
	assert.Equal(t, int32(2), envc.I32())

	err = s.EnableWASI(ctx, WASI{})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput), "got %v", err)
}

func TestWASI_Disabled(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	assert.False(t, s.WASIEnabled())

	mod, err := s.Compile(ctx, guests.WASIEcho())
	require.NoError(t, err)
	_, err = s.Instantiate(ctx, mod, nil)
	assert.True(t, errors.IsKind(err, errors.KindImportResolution), "got %v", err)
	assert.Contains(t, s.LastErrorMessage(), "wasi_snapshot_preview1.fd_write")
}

func TestWASI_ImportChecks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)
	require.NoError(t, s.EnableWASI(ctx, WASI{}))

	wrong := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Imports: []wasm.Import{
			{Module: WASIModule, Name: "fd_write", Kind: wasm.ExternFunc, TypeIdx: 0},
			{Module: WASIModule, Name: "no_such_call", Kind: wasm.ExternFunc, TypeIdx: 0},
		},
	}
	mod, err := s.Compile(ctx, wrong.Encode())
	require.NoError(t, err)
	_, err = s.Instantiate(ctx, mod, nil)
	require.True(t, errors.IsKind(err, errors.KindImportResolution), "got %v", err)
	assert.Contains(t, s.LastErrorMessage(), "signature mismatch")
	assert.Contains(t, s.LastErrorMessage(), "no_such_call")

	im := NewImports()
	require.NoError(t, im.DefineFunc(WASIModule, "extra", HostFunc{
		Fn: func(context.Context, *Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			return nil, nil
		},
	}))
	mod, err = s.Compile(ctx, guests.HelloWorld())
	require.NoError(t, err)
	_, err = s.Instantiate(ctx, mod, im)
	assert.True(t, errors.IsKind(err, errors.KindImportResolution), "got %v", err)
}

func TestTrapReason(t *testing.T) {
	tests := []struct {
		msg  string
		want string
		ok   bool
	}{
		{msg: "wasm error: integer divide by zero\nwasm stack trace:\n\t.divide", want: "integer divide by zero", ok: true},
		{msg: "start function[1] failed: wasm error: unreachable", want: "unreachable", ok: true},
		{msg: "boom (recovered by wazero)", ok: false},
	}
	for _, tc := range tests {
		got, ok := trapReason(tc.msg)
		assert.Equal(t, tc.ok, ok, tc.msg)
		assert.Equal(t, tc.want, got, tc.msg)
	}
}
