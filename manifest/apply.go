package manifest

import (
	"context"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/runtime"
)

const valueTypeI32 = "i32"

// Apply defines the manifest's imports on rt. It must run before the first
// instantiation.
func (m *Manifest) Apply(rt *runtime.Runtime) error {
	for _, mem := range m.Imports.Memories {
		if _, err := rt.DefineMemory(mem.Module, mem.Name, mem.MinPages, mem.MaxPages); err != nil {
			return err
		}
	}
	for _, g := range m.Imports.Globals {
		v, err := parseValue(g.Type, orZero(g.Value))
		if err != nil {
			return invalid(g.Module, g.Name, err.Error())
		}
		if _, err := rt.DefineGlobal(g.Module, g.Name, v, g.Mutable); err != nil {
			return err
		}
	}
	for _, f := range m.Imports.Functions {
		hf, err := f.hostFunc()
		if err != nil {
			return err
		}
		if err := rt.Hosts().Imports().DefineFunc(f.Module, f.Name, hf); err != nil {
			return err
		}
	}
	return nil
}

func (f Function) hostFunc() (engine.HostFunc, error) {
	params, err := valueTypes(f.Params)
	if err != nil {
		return engine.HostFunc{}, invalid(f.Module, f.Name, err.Error())
	}
	results, err := valueTypes(f.Results)
	if err != nil {
		return engine.HostFunc{}, invalid(f.Module, f.Name, err.Error())
	}
	hf := engine.HostFunc{Params: params, Results: results}

	switch f.Action {
	case ActionInterrupt:
		code, err := parseValue(valueTypeI32, orZero(f.Value))
		if err != nil {
			return engine.HostFunc{}, invalid(f.Module, f.Name, err.Error())
		}
		hf.Fn = func(_ context.Context, c *engine.Caller, _ []hostbridge.Value) ([]hostbridge.Value, error) {
			c.Logger().Debug("interrupting guest", zap.Uint32("code", code.U32()))
			engine.Interrupt(code.U32())
			return nil, nil
		}
	case ActionConst:
		v, err := parseValue(f.Results[0], orZero(f.Value))
		if err != nil {
			return engine.HostFunc{}, invalid(f.Module, f.Name, err.Error())
		}
		hf.Fn = func(context.Context, *engine.Caller, []hostbridge.Value) ([]hostbridge.Value, error) {
			return []hostbridge.Value{v}, nil
		}
	case ActionLog:
		zeros := make([]hostbridge.Value, len(results))
		for i, t := range results {
			zeros[i] = hostbridge.ValueFromRaw(t, 0)
		}
		hf.Fn = func(_ context.Context, c *engine.Caller, args []hostbridge.Value) ([]hostbridge.Value, error) {
			fields := make([]string, len(args))
			for i, a := range args {
				fields[i] = a.String()
			}
			c.Logger().Info("guest call", zap.Strings("args", fields))
			return zeros, nil
		}
	default:
		return engine.HostFunc{}, invalid(f.Module, f.Name, "unknown action "+string(f.Action))
	}
	return hf, nil
}

func valueTypes(names []string) ([]hostbridge.ValueType, error) {
	out := make([]hostbridge.ValueType, len(names))
	for i, n := range names {
		t, err := hostbridge.ParseValueType(n)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func orZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

// parseValue parses s as a value of type typ. Integers take any base
// strconv understands; i32 accepts both the int32 and uint32 ranges.
func parseValue(typ, s string) (hostbridge.Value, error) {
	t, err := hostbridge.ParseValueType(typ)
	if err != nil {
		return hostbridge.Value{}, err
	}
	s = strings.TrimSpace(s)
	switch t {
	case hostbridge.ValueTypeI32, hostbridge.ValueTypeI64:
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(s, 0, 64)
			if uerr != nil {
				return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseConfig, nil, typ, strconv.Quote(s))
			}
			if t == hostbridge.ValueTypeI32 && u > math.MaxUint32 {
				return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseConfig, nil, typ, s)
			}
			return hostbridge.ValueFromRaw(t, u), nil
		}
		if t == hostbridge.ValueTypeI64 {
			return hostbridge.I64(n), nil
		}
		if n < math.MinInt32 || n > math.MaxUint32 {
			return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseConfig, nil, typ, s)
		}
		return hostbridge.ValueFromRaw(t, uint64(uint32(n))), nil
	case hostbridge.ValueTypeF32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseConfig, nil, typ, strconv.Quote(s))
		}
		return hostbridge.F32(float32(f)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseConfig, nil, typ, strconv.Quote(s))
	}
	return hostbridge.F64(f), nil
}
