package engine

import (
	"context"
	"strconv"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// hostSuffix names the hidden host module holding the Go functions of a
// namespace that also exports memories or globals.
const hostSuffix = "$host"

// link binds im to s and realizes its namespaces as wazero modules. Linking
// the same set into the same store again is a no-op. On failure every module
// created so far is closed.
func (s *Store) link(ctx context.Context, im *Imports) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.store == s {
		return nil
	}
	if im.store != nil {
		return errors.ImportResolution("*", "*", "import set is linked to another store")
	}

	namespaces := im.namespaces()

	s.mu.Lock()
	for _, ns := range namespaces {
		if ns.name == WASIModule && s.wasi != nil {
			s.mu.Unlock()
			return errors.ImportResolution(ns.name, "*", "namespace is provided by WASI")
		}
		if owner, ok := s.linked[ns.name]; ok && owner != im {
			s.mu.Unlock()
			return errors.ImportResolution(ns.name, "*", "namespace already linked by another import set")
		}
	}
	s.mu.Unlock()

	var created []api.Module
	rollback := func() {
		for _, m := range created {
			_ = m.Close(ctx)
		}
	}
	for _, ns := range namespaces {
		mods, err := s.realize(ctx, ns)
		created = append(created, mods...)
		if err != nil {
			rollback()
			return err
		}
	}

	s.mu.Lock()
	for _, ns := range namespaces {
		s.linked[ns.name] = im
	}
	s.hostModules = append(s.hostModules, created...)
	s.mu.Unlock()
	im.store = s
	return nil
}

// realize instantiates one namespace. Functions only: a host module named
// after the namespace. With a memory or globals: the functions go to a
// hidden host module and a synthesized wasm module named after the
// namespace re-exports them next to the memory and globals it defines.
func (s *Store) realize(ctx context.Context, ns *namespace) ([]api.Module, error) {
	log := s.logger.With(zap.String("module", ns.name))

	if ns.memory == nil && len(ns.globals) == 0 {
		mod, err := s.instantiateHostModule(ctx, ns.name, ns.funcs)
		if err != nil {
			return nil, err
		}
		log.Debug("linked host namespace", zap.Int("funcs", len(ns.funcs)))
		return []api.Module{mod}, nil
	}

	var created []api.Module
	synth := &wasm.Module{}
	if len(ns.funcs) > 0 {
		hostName := ns.name + hostSuffix
		hostMod, err := s.instantiateHostModule(ctx, hostName, ns.funcs)
		if err != nil {
			return nil, err
		}
		created = append(created, hostMod)
		for i, f := range ns.funcs {
			synth.Types = append(synth.Types, f.fn.Type())
			synth.Imports = append(synth.Imports, wasm.Import{
				Module:  hostName,
				Name:    f.key.name,
				Kind:    wasm.ExternFunc,
				TypeIdx: uint32(i),
			})
			synth.Exports = append(synth.Exports, wasm.Export{Name: f.key.name, Kind: wasm.ExternFunc, Index: uint32(i)})
		}
	}
	if ns.memory != nil {
		synth.Memories = []wasm.MemoryType{ns.memory.memory.typ}
		synth.Exports = append(synth.Exports, wasm.Export{Name: ns.memory.key.name, Kind: wasm.ExternMemory, Index: 0})
	}
	for i, g := range ns.globals {
		synth.Globals = append(synth.Globals, wasm.Global{
			Type: g.global.typ,
			Init: wasm.ConstExpr(g.global.typ.Type, g.global.init.Raw()),
		})
		synth.Exports = append(synth.Exports, wasm.Export{Name: g.key.name, Kind: wasm.ExternGlobal, Index: uint32(i)})
	}

	compiled, err := s.runtime.CompileModule(ctx, synth.Encode())
	if err != nil {
		return created, errors.New(errors.PhaseLinking, errors.KindEngine).
			Op("synthesize").
			Path(ns.name).
			Cause(err).
			Build()
	}
	mod, err := s.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(ns.name))
	if err != nil {
		_ = compiled.Close(ctx)
		return created, errors.New(errors.PhaseLinking, errors.KindEngine).
			Op("instantiate").
			Path(ns.name).
			Cause(err).
			Build()
	}
	created = append(created, mod)

	if ns.memory != nil {
		ns.memory.memory.bind(s, mod.ExportedMemory(ns.memory.key.name))
	}
	for _, g := range ns.globals {
		g.global.bind(s, mod.ExportedGlobal(g.key.name))
	}
	log.Debug("linked synthesized namespace",
		zap.Int("funcs", len(ns.funcs)),
		zap.Bool("memory", ns.memory != nil),
		zap.Int("globals", len(ns.globals)))
	return created, nil
}

func (s *Store) instantiateHostModule(ctx context.Context, name string, funcs []*importEntry) (api.Module, error) {
	b := s.runtime.NewHostModuleBuilder(name)
	for _, f := range funcs {
		b.NewFunctionBuilder().
			WithGoModuleFunction(s.hostFunc(f), toAPITypes(f.fn.Params), toAPITypes(f.fn.Results)).
			WithName(f.key.name).
			Export(f.key.name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, errors.New(errors.PhaseLinking, errors.KindEngine).
			Op("instantiate_host").
			Path(name).
			Cause(err).
			Build()
	}
	return mod, nil
}

// hostFunc adapts a HostFunc to wazero's stack calling convention.
func (s *Store) hostFunc(e *importEntry) api.GoModuleFunc {
	fn := *e.fn
	name := e.key.module + "." + e.key.name
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		defer func() {
			if r := recover(); r != nil {
				if ie, ok := r.(*InterruptError); ok && ie.Import == "" {
					ie.Import = name
				}
				panic(r)
			}
		}()

		args := make([]hostbridge.Value, len(fn.Params))
		for i, t := range fn.Params {
			args[i] = hostbridge.ValueFromRaw(t, stack[i])
		}

		results, err := fn.Fn(ctx, &Caller{store: s, module: mod, name: name}, args)
		if err != nil {
			var ie *InterruptError
			if errors.As(err, &ie) {
				if ie.Import == "" {
					ie.Import = name
				}
				panic(ie)
			}
			panic(&InterruptError{Code: InterruptHostError, Import: name, Cause: err})
		}

		if len(results) != len(fn.Results) {
			panic(&InterruptError{
				Code:   InterruptBadResults,
				Import: name,
				Cause: errors.ArityMismatch(name, nil,
					"host function returned "+strconv.Itoa(len(results))+" results, declared "+strconv.Itoa(len(fn.Results))),
			})
		}
		for i, r := range results {
			if r.Type != fn.Results[i] {
				panic(&InterruptError{
					Code:   InterruptBadResults,
					Import: name,
					Cause:  errors.TypeMismatch(errors.PhaseHost, []string{name, "result" + strconv.Itoa(i)}, fn.Results[i].String(), r.Type.String()),
				})
			}
			stack[i] = r.Raw()
		}
	}
}
