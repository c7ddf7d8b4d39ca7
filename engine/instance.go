package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/memory"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// AnyResults accepts whatever result count the export declares.
const AnyResults = -1

// Call describes one export invocation.
type Call struct {
	Export string
	Args   []hostbridge.Value
	// Results is the result count the caller expects, or AnyResults.
	Results int
}

// Instance is a running guest.
//
// An Instance is NOT thread-safe and should be used by a single goroutine.
type Instance struct {
	store  *Store
	module api.Module
	desc   *wasm.Description
	logger *zap.Logger
	funcs  map[string]api.Function
	stack  []uint64
	mu     sync.Mutex
	closed bool
}

// Name returns the engine-level module name of the instance.
func (i *Instance) Name() string { return i.module.Name() }

// Store returns the store owning the instance.
func (i *Instance) Store() *Store { return i.store }

// Exports returns the guest's exports with their types.
func (i *Instance) Exports() []wasm.ExportDesc { return i.desc.Exports }

func (i *Instance) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed || i.store.isClosed()
}

func (i *Instance) markClosed() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
}

// Call invokes name with args, accepting the export's result arity.
func (i *Instance) Call(ctx context.Context, name string, args ...hostbridge.Value) ([]hostbridge.Value, error) {
	return i.Invoke(ctx, Call{Export: name, Args: args, Results: AnyResults})
}

// CallScalar invokes an export declaring exactly one result.
func (i *Instance) CallScalar(ctx context.Context, name string, args ...hostbridge.Value) (hostbridge.Value, error) {
	res, err := i.Invoke(ctx, Call{Export: name, Args: args, Results: 1})
	if err != nil {
		return hostbridge.Value{}, err
	}
	return res[0], nil
}

// Invoke runs c. Views acquired before the call are stale afterwards,
// whatever the outcome. The store's last error reflects the outcome.
func (i *Instance) Invoke(ctx context.Context, c Call) ([]hostbridge.Value, error) {
	start := time.Now()
	res, err := i.invoke(ctx, c)
	outcome := OutcomeOf(err)
	d := time.Since(start)
	i.store.observer.ObserveCall(c.Export, outcome, d)

	if err != nil {
		i.logger.Debug("guest call failed",
			zap.String("export", c.Export),
			zap.String("outcome", string(outcome)),
			zap.Duration("duration", d),
			zap.Error(err))
		return nil, i.store.record(err)
	}
	i.logger.Debug("guest call",
		zap.String("export", c.Export),
		zap.Int("results", len(res)),
		zap.Duration("duration", d))
	i.store.record(nil)
	return res, nil
}

func (i *Instance) invoke(ctx context.Context, c Call) ([]hostbridge.Value, error) {
	args := make([]any, len(c.Args))
	for n, a := range c.Args {
		args[n] = a.Interface()
	}

	if i.isClosed() {
		return nil, errors.Closed("instance")
	}

	exp, ok := i.desc.Export(c.Export)
	if !ok || exp.Type.Kind != wasm.ExternFunc {
		return nil, errors.ExportNotFound(c.Export)
	}
	sig := exp.Type.Func

	if len(c.Args) != len(sig.Params) {
		return nil, errors.ArityMismatch(c.Export, args,
			fmt.Sprintf("export takes %d arguments, got %d", len(sig.Params), len(c.Args)))
	}
	for n, a := range c.Args {
		if wasm.ValType(a.Type) != sig.Params[n] {
			return nil, errors.ArityMismatch(c.Export, args,
				fmt.Sprintf("argument %d: export expects %s, got %s", n, sig.Params[n], a.Type))
		}
	}
	if c.Results != AnyResults && c.Results != len(sig.Results) {
		return nil, errors.ArityMismatch(c.Export, args,
			fmt.Sprintf("export returns %d results, caller expects %d", len(sig.Results), c.Results))
	}

	fn := i.function(c.Export)
	if fn == nil {
		return nil, errors.ExportNotFound(c.Export)
	}

	n := max(len(sig.Params), len(sig.Results))
	if cap(i.stack) < n {
		i.stack = make([]uint64, n)
	}
	stack := i.stack[:n]
	for k, a := range c.Args {
		stack[k] = a.Raw()
	}

	i.store.clock.Advance()
	err := fn.CallWithStack(ctx, stack)
	i.store.clock.Advance()
	if err != nil {
		if i.module.IsClosed() {
			i.markClosed()
		}
		return nil, classify(c.Export, args, err)
	}

	res := make([]hostbridge.Value, len(sig.Results))
	for k, t := range sig.Results {
		res[k] = hostbridge.ValueFromRaw(hostbridge.ValueType(t), stack[k])
	}
	return res, nil
}

func (i *Instance) function(name string) api.Function {
	if fn, ok := i.funcs[name]; ok {
		return fn
	}
	fn := i.module.ExportedFunction(name)
	if fn != nil {
		i.funcs[name] = fn
	}
	return fn
}

// Memory returns a view over the instance's memory index. Only memory 0
// exists in a core module. The view is stale after the next guest call.
func (i *Instance) Memory(index uint32) (*memory.View, error) {
	if i.isClosed() {
		return nil, errors.Closed("instance")
	}
	if index != 0 {
		return nil, errors.New(errors.PhaseMemory, errors.KindNotFound).
			Op("memory").
			Args(index).
			Detail("only memory 0 is addressable").
			Build()
	}
	if i.desc.Memories == 0 {
		return nil, errors.NotFound(errors.PhaseMemory, "memory", i.module.Name())
	}
	mem := moduleMemory(i.module)
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseMemory, "memory", i.module.Name())
	}
	return memory.NewView(mem, &i.store.clock), nil
}

// ExportedMemory returns a view over the memory exported as name.
func (i *Instance) ExportedMemory(name string) (*memory.View, error) {
	if i.isClosed() {
		return nil, errors.Closed("instance")
	}
	mem := i.module.ExportedMemory(name)
	if mem == nil {
		return nil, errors.ExportNotFound(name)
	}
	return memory.NewView(mem, &i.store.clock), nil
}

// ExportedGlobal returns a handle on the global exported as name.
func (i *Instance) ExportedGlobal(name string) (*Global, error) {
	if i.isClosed() {
		return nil, errors.Closed("instance")
	}
	exp, ok := i.desc.Export(name)
	if !ok || exp.Type.Kind != wasm.ExternGlobal {
		return nil, errors.ExportNotFound(name)
	}
	g := i.module.ExportedGlobal(name)
	if g == nil {
		return nil, errors.ExportNotFound(name)
	}
	return &Global{
		name:  name,
		typ:   *exp.Type.Global,
		store: i.store,
		owner: i,
		g:     g,
	}, nil
}

// Close releases the instance. Safe to call more than once; later calls
// fail with a closed error.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	i.store.forget(i)
	if err := i.module.Close(ctx); err != nil {
		return errors.Engine(errors.PhaseRuntime, "close_instance", err)
	}
	i.logger.Debug("instance closed")
	return nil
}
