package engine

import (
	"sync"

	"github.com/tetratelabs/wazero/api"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/memory"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// PageSize is the wasm page size in bytes.
const PageSize = 65536

// Memory is a host-owned memory offered to guests through Imports. It
// becomes usable once its import set is linked.
type Memory struct {
	store  *Store
	mem    api.Memory
	name   string
	typ    wasm.MemoryType
	mu     sync.Mutex
	closed bool
}

func (m *Memory) bind(s *Store, mem api.Memory) {
	m.mu.Lock()
	m.store = s
	m.mem = mem
	m.mu.Unlock()
}

func (m *Memory) acquire(op string) (api.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || (m.store != nil && m.store.isClosed()) {
		return nil, errors.Closed("memory " + m.name)
	}
	if m.mem == nil {
		return nil, errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Op(op).
			Path(m.name).
			Detail("memory is not linked").
			Build()
	}
	return m.mem, nil
}

// Name returns "module.name".
func (m *Memory) Name() string { return m.name }

// Type returns the declared memory type.
func (m *Memory) Type() wasm.MemoryType { return m.typ }

// View returns a view over the memory. It is stale after the next guest
// call or Grow.
func (m *Memory) View() (*memory.View, error) {
	mem, err := m.acquire("view")
	if err != nil {
		return nil, err
	}
	return memory.NewView(mem, &m.store.clock), nil
}

// Size returns the current size in bytes.
func (m *Memory) Size() (uint32, error) {
	mem, err := m.acquire("size")
	if err != nil {
		return 0, err
	}
	return mem.Size(), nil
}

// Grow adds pages and returns the previous size in pages. Every view over
// any memory of the store becomes stale.
func (m *Memory) Grow(pages uint32) (uint32, error) {
	mem, err := m.acquire("grow")
	if err != nil {
		return 0, err
	}
	m.store.clock.Advance()
	prev, ok := mem.Grow(pages)
	if !ok {
		return 0, errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Op("grow").
			Args(pages).
			Path(m.name).
			Detail("cannot grow %s by %d pages", m.typ.Limits, pages).
			Build()
	}
	return prev, nil
}

// Close invalidates the handle. The memory itself lives until its store
// closes. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Global is a handle on a global, either host-owned through Imports or
// exported by an instance.
type Global struct {
	store  *Store
	owner  *Instance
	g      api.Global
	init   hostbridge.Value
	name   string
	typ    wasm.GlobalType
	mu     sync.Mutex
	closed bool
}

func (g *Global) bind(s *Store, ag api.Global) {
	g.mu.Lock()
	g.store = s
	g.g = ag
	g.mu.Unlock()
}

func (g *Global) acquire(op string) (api.Global, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || (g.store != nil && g.store.isClosed()) || (g.owner != nil && g.owner.isClosed()) {
		return nil, errors.Closed("global " + g.name)
	}
	if g.g == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Op(op).
			Path(g.name).
			Detail("global is not linked").
			Build()
	}
	return g.g, nil
}

// Name returns the global's name.
func (g *Global) Name() string { return g.name }

// Type returns the global's type.
func (g *Global) Type() wasm.GlobalType { return g.typ }

// Get reads the current value.
func (g *Global) Get() (hostbridge.Value, error) {
	ag, err := g.acquire("get")
	if err != nil {
		return hostbridge.Value{}, err
	}
	return hostbridge.ValueFromRaw(hostbridge.ValueType(g.typ.Type), ag.Get()), nil
}

// Set writes v. Immutable globals and values of another type are refused.
func (g *Global) Set(v hostbridge.Value) error {
	ag, err := g.acquire("set")
	if err != nil {
		return err
	}
	mg, ok := ag.(api.MutableGlobal)
	if !g.typ.Mutable || !ok {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Op("set").
			Args(v.Interface()).
			Path(g.name).
			Detail("global is immutable").
			Build()
	}
	if wasm.ValType(v.Type) != g.typ.Type {
		return errors.TypeMismatch(errors.PhaseRuntime, []string{g.name}, g.typ.Type.String(), v.Type.String())
	}
	mg.Set(v.Raw())
	return nil
}

// Close invalidates the handle. Safe to call more than once.
func (g *Global) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// release closes every memory and global handle of the set.
func (im *Imports) release() {
	im.mu.Lock()
	defer im.mu.Unlock()
	for _, e := range im.entries {
		switch {
		case e.memory != nil:
			_ = e.memory.Close()
		case e.global != nil:
			_ = e.global.Close()
		}
	}
}
