package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/memory"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// HostFunc is a host-provided function import.
//
// Fn receives arguments typed per Params and must return values typed per
// Results. A non-nil error unwinds the guest call with host_interrupted, as
// does calling Interrupt.
type HostFunc struct {
	Fn      func(ctx context.Context, caller *Caller, args []hostbridge.Value) ([]hostbridge.Value, error)
	Params  []hostbridge.ValueType
	Results []hostbridge.ValueType
}

// Type returns the function's wasm signature.
func (f HostFunc) Type() wasm.FuncType {
	return wasm.FuncType{Params: toWasmTypes(f.Params), Results: toWasmTypes(f.Results)}
}

// Caller is the guest instance on whose behalf a host function runs.
type Caller struct {
	store  *Store
	module api.Module
	name   string
}

// Import returns "module.name" of the import being served.
func (c *Caller) Import() string { return c.name }

// Memory returns a view over the caller's memory 0. The view is valid until
// the host function returns.
func (c *Caller) Memory() (*memory.View, error) {
	mem := moduleMemory(c.module)
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseMemory, "memory", c.module.Name())
	}
	return memory.NewView(mem, &c.store.clock), nil
}

// moduleMemory returns mod's memory 0, or nil when it has none. wazero hands
// back a typed nil pointer inside the interface for memoryless modules.
func moduleMemory(mod api.Module) api.Memory {
	mem := mod.Memory()
	if mem == nil {
		return nil
	}
	if v := reflect.ValueOf(mem); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return mem
}

// Logger returns the store logger annotated with the import name.
func (c *Caller) Logger() *zap.Logger {
	return c.store.logger.With(zap.String("import", c.name))
}

type importKey struct {
	module string
	name   string
}

type importEntry struct {
	fn     *HostFunc
	memory *Memory
	global *Global
	key    importKey
}

func (e *importEntry) kind() wasm.ExternKind {
	switch {
	case e.memory != nil:
		return wasm.ExternMemory
	case e.global != nil:
		return wasm.ExternGlobal
	}
	return wasm.ExternFunc
}

func (e *importEntry) externType() wasm.ExternType {
	switch {
	case e.memory != nil:
		mt := e.memory.typ
		return wasm.ExternType{Kind: wasm.ExternMemory, Memory: &mt}
	case e.global != nil:
		gt := e.global.typ
		return wasm.ExternType{Kind: wasm.ExternGlobal, Global: &gt}
	}
	ft := e.fn.Type()
	return wasm.ExternType{Kind: wasm.ExternFunc, Func: &ft}
}

// Imports is the set of host values offered to guests, keyed by
// (module, name). It can be extended until it is first linked into a store;
// afterwards it is immutable and bound to that store.
type Imports struct {
	store   *Store
	entries map[importKey]*importEntry
	order   []importKey
	mu      sync.Mutex
}

// NewImports returns an empty import set.
func NewImports() *Imports {
	return &Imports{entries: make(map[importKey]*importEntry)}
}

func (im *Imports) add(e *importEntry) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.store != nil {
		return errors.New(errors.PhaseLinking, errors.KindInvalidInput).
			Path(e.key.module, e.key.name).
			Detail("import set is already linked").
			Build()
	}
	if e.key.module == "" || e.key.name == "" {
		return errors.InvalidInput(errors.PhaseLinking, "import module and name must not be empty")
	}
	if _, dup := im.entries[e.key]; dup {
		return errors.New(errors.PhaseLinking, errors.KindInvalidInput).
			Path(e.key.module, e.key.name).
			Detail("defined twice").
			Build()
	}
	if e.memory != nil {
		for _, other := range im.entries {
			if other.memory != nil && other.key.module == e.key.module {
				return errors.New(errors.PhaseLinking, errors.KindInvalidInput).
					Path(e.key.module, e.key.name).
					Detail("namespace already defines memory %q", other.key.name).
					Build()
			}
		}
	}
	im.entries[e.key] = e
	im.order = append(im.order, e.key)
	return nil
}

// DefineFunc offers fn as module.name.
func (im *Imports) DefineFunc(module, name string, fn HostFunc) error {
	if fn.Fn == nil {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Path(module, name).
			Detail("nil host function").
			Build()
	}
	for _, t := range append(append([]hostbridge.ValueType{}, fn.Params...), fn.Results...) {
		if !t.Valid() {
			return errors.TypeMismatch(errors.PhaseHost, []string{module, name}, "i32, i64, f32 or f64", t.String())
		}
	}
	return im.add(&importEntry{key: importKey{module, name}, fn: &fn})
}

// DefineMemory offers a host-owned memory as module.name. At most one
// memory may be defined per module. The returned handle becomes usable once
// the set is linked.
func (im *Imports) DefineMemory(module, name string, typ wasm.MemoryType) (*Memory, error) {
	if typ.Limits.Max != nil && *typ.Limits.Max < typ.Limits.Min {
		return nil, errors.New(errors.PhaseLinking, errors.KindInvalidInput).
			Path(module, name).
			Detail("memory max %d below min %d", *typ.Limits.Max, typ.Limits.Min).
			Build()
	}
	m := &Memory{name: module + "." + name, typ: typ}
	if err := im.add(&importEntry{key: importKey{module, name}, memory: m}); err != nil {
		return nil, err
	}
	return m, nil
}

// DefineGlobal offers a host-owned global as module.name, initialized to
// init. init's type must match typ.Type.
func (im *Imports) DefineGlobal(module, name string, typ wasm.GlobalType, init hostbridge.Value) (*Global, error) {
	if wasm.ValType(init.Type) != typ.Type {
		return nil, errors.TypeMismatch(errors.PhaseLinking, []string{module, name}, typ.Type.String(), init.Type.String())
	}
	g := &Global{name: module + "." + name, typ: typ, init: init}
	if err := im.add(&importEntry{key: importKey{module, name}, global: g}); err != nil {
		return nil, err
	}
	return g, nil
}

// Len returns the number of definitions.
func (im *Imports) Len() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return len(im.entries)
}

// Has reports whether module.name is defined.
func (im *Imports) Has(module, name string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	_, ok := im.entries[importKey{module, name}]
	return ok
}

// resolve checks every import the guest declares against the set and
// returns all failures.
func (im *Imports) resolve(desc *wasm.Description, wasi *wasiHost) []errors.UnresolvedImport {
	im.mu.Lock()
	defer im.mu.Unlock()

	var missing []errors.UnresolvedImport
	for _, imp := range desc.Imports {
		check := im.check
		if wasi != nil && imp.Module == WASIModule {
			check = wasi.check
		}
		if reason := check(imp); reason != "" {
			missing = append(missing, errors.UnresolvedImport{Module: imp.Module, Name: imp.Name, Reason: reason})
		}
	}
	return missing
}

func (im *Imports) check(imp wasm.ImportDesc) string {
	e, ok := im.entries[importKey{imp.Module, imp.Name}]
	if !ok {
		return fmt.Sprintf("%s not provided", imp.Type.Kind)
	}
	if e.kind() != imp.Type.Kind {
		return fmt.Sprintf("guest imports a %s, host provides a %s", imp.Type.Kind, e.kind())
	}
	have := e.externType()
	switch imp.Type.Kind {
	case wasm.ExternFunc:
		if !have.Func.Equal(*imp.Type.Func) {
			return fmt.Sprintf("signature mismatch: guest wants %s, host provides %s", imp.Type.Func, have.Func)
		}
	case wasm.ExternMemory:
		if !have.Memory.Limits.Satisfies(imp.Type.Memory.Limits) {
			return fmt.Sprintf("limits mismatch: guest wants %s, host provides %s", imp.Type.Memory.Limits, have.Memory.Limits)
		}
	case wasm.ExternGlobal:
		if *have.Global != *imp.Type.Global {
			return fmt.Sprintf("type mismatch: guest wants %s, host provides %s", imp.Type.Global, have.Global)
		}
	default:
		return fmt.Sprintf("%s imports are not supported", imp.Type.Kind)
	}
	return ""
}

type namespace struct {
	name    string
	funcs   []*importEntry
	memory  *importEntry
	globals []*importEntry
}

// namespaces groups the definitions by module, in definition order.
func (im *Imports) namespaces() []*namespace {
	byName := make(map[string]*namespace)
	var names []string
	for _, key := range im.order {
		ns, ok := byName[key.module]
		if !ok {
			ns = &namespace{name: key.module}
			byName[key.module] = ns
			names = append(names, key.module)
		}
		e := im.entries[key]
		switch e.kind() {
		case wasm.ExternFunc:
			ns.funcs = append(ns.funcs, e)
		case wasm.ExternMemory:
			ns.memory = e
		case wasm.ExternGlobal:
			ns.globals = append(ns.globals, e)
		}
	}
	sort.Strings(names)
	out := make([]*namespace, len(names))
	for i, n := range names {
		out[i] = byName[n]
	}
	return out
}

func toWasmTypes(ts []hostbridge.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(ts))
	for i, t := range ts {
		out[i] = wasm.ValType(t)
	}
	return out
}

func toAPITypes(ts []hostbridge.ValueType) []api.ValueType {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		out[i] = api.ValueType(t)
	}
	return out
}
