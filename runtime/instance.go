package runtime

import (
	"context"
	"fmt"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/memory"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// Instance is an instantiated guest.
type Instance struct {
	module *Module
	inst   *engine.Instance
}

// Call invokes an exported function with Go scalars. Arguments are
// converted through the declared signature when the module was loaded with
// one, otherwise through the export's core types. Returns nil for no
// result, the Go scalar for one, and []any for several.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	sig, err := i.module.Signature(name)
	if err != nil {
		return nil, err
	}
	export := i.module.exportName(name)
	core, err := i.module.exportType(name)
	if err != nil {
		// Let the engine report the missing export and record it.
		_, err = i.inst.Invoke(ctx, engine.Call{Export: name, Results: engine.AnyResults})
		return nil, err
	}

	if len(args) != len(core.Params) {
		err := errors.ArityMismatch(export, args,
			fmt.Sprintf("export takes %d arguments, got %d", len(core.Params), len(args)))
		return nil, i.inst.Store().Reject(export, err)
	}

	vals := make([]hostbridge.Value, len(args))
	for n, a := range args {
		v, err := toValue(a, hostbridge.ValueType(core.Params[n]))
		if err != nil {
			if e, ok := err.(*errors.Error); ok {
				e.Op = export
				e.Path = []string{fmt.Sprintf("arg%d", n)}
			}
			return nil, i.inst.Store().Reject(export, err)
		}
		vals[n] = v
	}

	res, err := i.inst.Invoke(ctx, engine.Call{Export: export, Args: vals, Results: engine.AnyResults})
	if err != nil {
		return nil, err
	}

	out := make([]any, len(res))
	for n, v := range res {
		if sig != nil && n < len(sig.Results) {
			out[n] = liftValue(v, sig.Results[n])
		} else {
			out[n] = v.Interface()
		}
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

// CallValues invokes an export with tagged scalars.
func (i *Instance) CallValues(ctx context.Context, name string, args ...hostbridge.Value) ([]hostbridge.Value, error) {
	return i.inst.Call(ctx, i.module.exportName(name), args...)
}

// Memory returns a view over the instance's memory. Re-acquire it after
// every call.
func (i *Instance) Memory() (*memory.View, error) {
	return i.inst.Memory(0)
}

// Global returns a handle on an exported global.
func (i *Instance) Global(name string) (*engine.Global, error) {
	return i.inst.ExportedGlobal(name)
}

// Exports returns the instance's exports.
func (i *Instance) Exports() []wasm.ExportDesc {
	return i.inst.Exports()
}

// Engine returns the engine-level instance.
func (i *Instance) Engine() *engine.Instance {
	return i.inst
}

// Close releases the instance. Safe to call more than once.
func (i *Instance) Close(ctx context.Context) error {
	return i.inst.Close(ctx)
}
