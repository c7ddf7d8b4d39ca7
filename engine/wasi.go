package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// WASIModule is the import namespace of the WASI preview1 host functions.
const WASIModule = wasi_snapshot_preview1.ModuleName

// WASI is the process view that guests get through wasi_snapshot_preview1.
// Nil streams read as empty and discard writes.
type WASI struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    map[string]string
	// Args is argv, including the program name at index 0.
	Args []string
}

// EnableWASI instantiates wasi_snapshot_preview1 into the store. Guests
// instantiated afterwards resolve their WASI imports against it and see
// cfg's stdio, arguments and environment. A guest exporting _start runs it
// during instantiation.
func (s *Store) EnableWASI(ctx context.Context, cfg WASI) error {
	if s.isClosed() {
		return s.record(errors.Closed("store"))
	}

	s.mu.Lock()
	_, linked := s.linked[WASIModule]
	enabled := s.wasi != nil
	s.mu.Unlock()
	if enabled {
		return s.record(errors.InvalidInput(errors.PhaseConfig, "WASI is already enabled"))
	}
	if linked {
		return s.record(errors.ImportResolution(WASIModule, "*", "namespace already linked by an import set"))
	}

	closer, err := wasi_snapshot_preview1.Instantiate(ctx, s.runtime)
	if err != nil {
		return s.record(errors.Engine(errors.PhaseLinking, "instantiate_wasi", err))
	}
	mod := s.runtime.Module(WASIModule)
	if mod == nil {
		_ = closer.Close(ctx)
		return s.record(errors.NotFound(errors.PhaseLinking, "module", WASIModule))
	}

	s.mu.Lock()
	s.wasi = &wasiHost{cfg: cfg, defs: mod.ExportedFunctionDefinitions()}
	s.hostModules = append(s.hostModules, mod)
	s.mu.Unlock()

	s.logger.Debug("wasi enabled",
		zap.Int("args", len(cfg.Args)),
		zap.Int("env", len(cfg.Env)))
	s.record(nil)
	return nil
}

// WASIEnabled reports whether EnableWASI succeeded on the store.
func (s *Store) WASIEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wasi != nil
}

type wasiHost struct {
	defs map[string]api.FunctionDefinition
	cfg  WASI
}

// check reports why the WASI module cannot serve imp, or "".
func (w *wasiHost) check(imp wasm.ImportDesc) string {
	if imp.Type.Kind != wasm.ExternFunc {
		return fmt.Sprintf("WASI provides no %s imports", imp.Type.Kind)
	}
	def, ok := w.defs[imp.Name]
	if !ok {
		return "func not provided by WASI"
	}
	have := wasm.FuncType{Params: fromAPITypes(def.ParamTypes()), Results: fromAPITypes(def.ResultTypes())}
	if !have.Equal(*imp.Type.Func) {
		return fmt.Sprintf("signature mismatch: guest wants %s, WASI provides %s", imp.Type.Func, have)
	}
	return ""
}

func (w *wasiHost) moduleConfig(mc wazero.ModuleConfig) wazero.ModuleConfig {
	mc = mc.WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)
	if w.cfg.Stdin != nil {
		mc = mc.WithStdin(w.cfg.Stdin)
	}
	if w.cfg.Stdout != nil {
		mc = mc.WithStdout(w.cfg.Stdout)
	}
	if w.cfg.Stderr != nil {
		mc = mc.WithStderr(w.cfg.Stderr)
	}
	if len(w.cfg.Args) > 0 {
		mc = mc.WithArgs(w.cfg.Args...)
	}
	keys := make([]string, 0, len(w.cfg.Env))
	for k := range w.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		mc = mc.WithEnv(k, w.cfg.Env[k])
	}
	return mc
}

func fromAPITypes(ts []api.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(ts))
	for i, t := range ts {
		out[i] = wasm.ValType(t)
	}
	return out
}
