package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/memory"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// Store is an isolated world of instances: one wazero runtime, one
// generation clock and one last-error slot.
//
// Calls into one store run to completion before control returns to the
// host. A Store is NOT safe for concurrent use.
type Store struct {
	lastErr     error
	runtime     wazero.Runtime
	engine      *Engine
	logger      *zap.Logger
	observer    CallObserver
	linked      map[string]*Imports
	instances   map[*Instance]struct{}
	id          string
	hostModules []api.Module
	wasi        *wasiHost
	clock       memory.Clock
	mu          sync.Mutex
	closed      bool
}

// ID returns the store's unique id.
func (s *Store) ID() string { return s.id }

// Logger returns the store's logger.
func (s *Store) Logger() *zap.Logger { return s.logger }

// Observer returns the call observer the store reports to.
func (s *Store) Observer() CallObserver { return s.observer }

// Generation returns the current memory generation. It advances around
// every guest call and every host-side memory grow.
func (s *Store) Generation() uint64 { return s.clock.Generation() }

// LastError returns the error of the most recent failed operation, or nil
// if the most recent operation succeeded.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastErrorMessage returns the text of LastError, or "" when there is none.
func (s *Store) LastErrorMessage() string {
	if err := s.LastError(); err != nil {
		return err.Error()
	}
	return ""
}

// record stores err in the last-error slot (clearing it when nil) and
// returns err unchanged.
func (s *Store) record(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// Fail records err as the last error and returns it. Layers built on the
// store use it for failures that never reach the engine.
func (s *Store) Fail(err error) error {
	return s.record(err)
}

// Reject records err as the outcome of a call to export refused before it
// reached the engine, such as a failed argument conversion.
func (s *Store) Reject(export string, err error) error {
	s.observer.ObserveCall(export, OutcomeOf(err), 0)
	return s.record(err)
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Compile validates and compiles bin.
func (s *Store) Compile(ctx context.Context, bin []byte) (*Module, error) {
	if s.isClosed() {
		return nil, s.record(errors.Closed("store"))
	}

	desc, err := wasm.Describe(bin)
	if err != nil {
		return nil, s.record(errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Op("compile").
			Cause(err).
			Detail("malformed module").
			Build())
	}

	compiled, err := s.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, s.record(errors.Engine(errors.PhaseLoad, "compile", err))
	}

	s.logger.Debug("module compiled",
		zap.Int("size", len(bin)),
		zap.Int("imports", len(desc.Imports)),
		zap.Int("exports", len(desc.Exports)))
	s.record(nil)
	return &Module{store: s, compiled: compiled, desc: desc}, nil
}

// Instantiate links imports into the store and instantiates mod. Every
// guest import is checked against imports first; if any is missing or
// has the wrong type, the error lists all of them and no instance is
// created. A nil imports is an empty set.
func (s *Store) Instantiate(ctx context.Context, mod *Module, imports *Imports) (*Instance, error) {
	if s.isClosed() {
		return nil, s.record(errors.Closed("store"))
	}
	if mod == nil || mod.store != s {
		return nil, s.record(errors.InvalidInput(errors.PhaseLinking, "module was compiled by another store"))
	}
	if mod.isClosed() {
		return nil, s.record(errors.Closed("module"))
	}
	if imports == nil {
		imports = NewImports()
	}

	s.mu.Lock()
	wasi := s.wasi
	s.mu.Unlock()

	if missing := imports.resolve(mod.desc, wasi); len(missing) > 0 {
		return nil, s.record(errors.UnresolvedImports(missing))
	}
	if err := s.link(ctx, imports); err != nil {
		return nil, s.record(err)
	}

	name := uuid.NewString()
	log := s.logger.With(zap.String("instance", name))

	mc := wazero.NewModuleConfig().WithName(name)
	if wasi != nil {
		mc = wasi.moduleConfig(mc)
	}

	// The start function runs guest code.
	s.clock.Advance()
	m, err := s.runtime.InstantiateModule(ctx, mod.compiled, mc)
	s.clock.Advance()
	if err != nil {
		e := classify("_start", nil, err)
		if e.Kind == errors.KindEngine {
			e = errors.Engine(errors.PhaseLinking, "instantiate", err)
		}
		return nil, s.record(e)
	}

	inst := &Instance{
		store:  s,
		module: m,
		desc:   mod.desc,
		logger: log,
		funcs:  make(map[string]api.Function),
	}
	if m.IsClosed() {
		// _start called proc_exit(0): the command ran to completion.
		inst.markClosed()
		log.Debug("instance exited during start")
		s.record(nil)
		return inst, nil
	}
	s.mu.Lock()
	s.instances[inst] = struct{}{}
	s.mu.Unlock()

	log.Debug("instance created")
	s.record(nil)
	return inst, nil
}

func (s *Store) forget(inst *Instance) {
	s.mu.Lock()
	delete(s.instances, inst)
	s.mu.Unlock()
}

// Close releases every instance, host module, memory and global created in
// the store. Safe to call more than once.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	instances := make([]*Instance, 0, len(s.instances))
	for inst := range s.instances {
		instances = append(instances, inst)
	}
	linked := s.linked
	s.mu.Unlock()

	for _, inst := range instances {
		inst.markClosed()
	}
	for _, im := range linked {
		im.release()
	}

	err := s.runtime.Close(ctx)
	s.engine.forget(s)
	s.logger.Debug("store closed", zap.Int("instances", len(instances)))
	if err != nil {
		return errors.Engine(errors.PhaseRuntime, "close", err)
	}
	return nil
}
