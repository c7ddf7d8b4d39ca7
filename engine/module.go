package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// Module is a compiled guest module. It can be instantiated any number of
// times within the store that compiled it.
type Module struct {
	store    *Store
	compiled wazero.CompiledModule
	desc     *wasm.Description
	mu       sync.Mutex
	closed   bool
}

// Imports returns the guest's declared imports with their types.
func (m *Module) Imports() []wasm.ImportDesc {
	return m.desc.Imports
}

// Exports returns the guest's exports with their types.
func (m *Module) Exports() []wasm.ExportDesc {
	return m.desc.Exports
}

// Description returns the module's import/export description.
func (m *Module) Description() *wasm.Description {
	return m.desc
}

// ExportedFunction returns the signature of the exported function name.
func (m *Module) ExportedFunction(name string) (wasm.FuncType, error) {
	exp, ok := m.desc.Export(name)
	if !ok || exp.Type.Kind != wasm.ExternFunc {
		return wasm.FuncType{}, errors.ExportNotFound(name)
	}
	return *exp.Type.Func, nil
}

func (m *Module) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close releases the compiled code. Instances keep running. Safe to call
// more than once.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	if err := m.compiled.Close(ctx); err != nil {
		return errors.Engine(errors.PhaseRuntime, "close_module", err)
	}
	return nil
}
