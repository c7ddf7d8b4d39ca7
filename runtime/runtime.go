package runtime

import (
	"context"
	"os"

	"go.uber.org/zap"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// Runtime loads guests against one store and one set of host imports.
type Runtime struct {
	engine   *engine.Engine
	store    *engine.Store
	hosts    *HostRegistry
	logger   *zap.Logger
	observer engine.CallObserver
}

type options struct {
	logger             *zap.Logger
	observer           engine.CallObserver
	wasi               *engine.WASI
	cacheDir           string
	memoryLimitPages   uint32
	closeOnContextDone bool
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the logger for the runtime and everything it creates.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver reports every guest call and buffer transfer to obs.
func WithObserver(obs engine.CallObserver) Option {
	return func(o *options) { o.observer = obs }
}

// WithMetrics is WithObserver for a metrics collector.
func WithMetrics(obs engine.CallObserver) Option {
	return WithObserver(obs)
}

// WithMemoryLimitPages caps every memory at pages 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) { o.memoryLimitPages = pages }
}

// WithCloseOnContextDone aborts guest code when the call's context ends.
func WithCloseOnContextDone(enabled bool) Option {
	return func(o *options) { o.closeOnContextDone = enabled }
}

// WithCacheDir persists compiled code in dir.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithWASI provides wasi_snapshot_preview1 to guests, with the given stdio,
// argv and environment.
func WithWASI(cfg engine.WASI) Option {
	return func(o *options) { o.wasi = &cfg }
}

// New creates a runtime with its own engine and store.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := &options{logger: Logger()}
	for _, opt := range opts {
		opt(o)
	}

	eng, err := engine.New(ctx, &engine.Config{
		Logger:             o.logger,
		Observer:           o.observer,
		CacheDir:           o.cacheDir,
		MemoryLimitPages:   o.memoryLimitPages,
		CloseOnContextDone: o.closeOnContextDone,
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindEngine, err, "create engine")
	}
	store, err := eng.NewStore(ctx)
	if err != nil {
		_ = eng.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindEngine, err, "create store")
	}
	if o.wasi != nil {
		if err := store.EnableWASI(ctx, *o.wasi); err != nil {
			_ = eng.Close(ctx)
			return nil, err
		}
	}

	return &Runtime{
		engine:   eng,
		store:    store,
		hosts:    NewHostRegistry(engine.NewImports()),
		logger:   o.logger,
		observer: store.Observer(),
	}, nil
}

// Close releases all runtime resources, including live instances.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Store returns the underlying store.
func (r *Runtime) Store() *engine.Store {
	return r.store
}

// LastErrorMessage returns the text of the most recent failure, or "".
func (r *Runtime) LastErrorMessage() string {
	return r.store.LastErrorMessage()
}

// RegisterHost registers all exported methods of h as host functions.
// Must be called BEFORE the first instantiation.
// Method names are converted from PascalCase to snake_case (AddToCounter -> add_to_counter).
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

// RegisterFunc registers fn as namespace.name. See HostRegistry.RegisterFunc
// for the accepted signatures.
func (r *Runtime) RegisterFunc(namespace, name string, fn any) error {
	return r.hosts.RegisterFunc(namespace, name, fn)
}

// RegisterInterrupt registers a () -> () import that aborts the calling
// guest with code.
func (r *Runtime) RegisterInterrupt(namespace, name string, code uint32) error {
	return r.hosts.RegisterInterrupt(namespace, name, code)
}

// DefineMemory offers a host memory of minPages pages, bounded by maxPages
// when non-zero.
func (r *Runtime) DefineMemory(namespace, name string, minPages, maxPages uint32) (*engine.Memory, error) {
	typ := wasm.MemoryType{Limits: wasm.Limits{Min: minPages}}
	if maxPages > 0 {
		typ.Limits.Max = &maxPages
	}
	return r.hosts.imports.DefineMemory(namespace, name, typ)
}

// DefineGlobal offers a host global initialized to v.
func (r *Runtime) DefineGlobal(namespace, name string, v hostbridge.Value, mutable bool) (*engine.Global, error) {
	return r.hosts.imports.DefineGlobal(namespace, name, wasm.GlobalType{Type: wasm.ValType(v.Type), Mutable: mutable}, v)
}

// Hosts returns the registry behind RegisterHost and RegisterFunc.
func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// Load compiles a core WebAssembly module. witText optionally declares
// export signatures (add-one: func(x: s32) -> s32) for typed calls; without
// it calls use the exports' core types.
func (r *Runtime) Load(ctx context.Context, bin []byte, witText string) (*Module, error) {
	mod, err := r.store.Compile(ctx, bin)
	if err != nil {
		return nil, err
	}
	m := &Module{
		runtime: r,
		module:  mod,
		witText: witText,
	}
	if witText != "" {
		if _, err := m.signatures(); err != nil {
			_ = mod.Close(ctx)
			return nil, err
		}
	}
	r.logger.Debug("module loaded", zap.Int("exports", len(mod.Exports())), zap.Bool("signatures", witText != ""))
	return m, nil
}

// LoadFile reads path and loads it.
func (r *Runtime) LoadFile(ctx context.Context, path, witText string) (*Module, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Op("load_file").
			Path(path).
			Cause(err).
			Build()
	}
	return r.Load(ctx, bin, witText)
}
