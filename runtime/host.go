package runtime

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are registered as host functions.
type Host interface {
	// Namespace returns the import module name (e.g., "env").
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact import names
// when automatic PascalCase-to-snake_case conversion doesn't apply
// (e.g., "__memory_base_hook").
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostRegistry turns Go functions into host imports.
type HostRegistry struct {
	imports *engine.Imports
}

func NewHostRegistry(imports *engine.Imports) *HostRegistry {
	return &HostRegistry{imports: imports}
}

// Imports returns the import set the registry defines into.
func (r *HostRegistry) Imports() *engine.Imports {
	return r.imports
}

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, handler := range er.Register() {
			if err := r.RegisterFunc(ns, name, handler); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()

	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)

		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}

		if err := r.RegisterFunc(ns, toSnakeCase(method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}

	return nil
}

// RegisterFunc registers fn as namespace.name. fn has the shape
//
//	func([context.Context], [*engine.Caller], scalars...) ([scalar], [error])
//
// where a scalar is int32, uint32, int64, uint64, float32 or float64. A
// returned error aborts the calling guest with host_interrupted.
func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}

	hf, err := reflectHostFunc(fn)
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			e.Path = []string{namespace, name}
		}
		return err
	}
	return r.imports.DefineFunc(namespace, name, hf)
}

// RegisterInterrupt registers namespace.name as a () -> () import that
// aborts its caller with code.
func (r *HostRegistry) RegisterInterrupt(namespace, name string, code uint32) error {
	return r.imports.DefineFunc(namespace, name, engine.HostFunc{
		Fn: func(ctx context.Context, c *engine.Caller, _ []hostbridge.Value) ([]hostbridge.Value, error) {
			c.Logger().Debug("interrupting guest")
			engine.Interrupt(code)
			return nil, nil
		},
	})
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	callerType  = reflect.TypeOf((*engine.Caller)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func reflectHostFunc(fn any) (engine.HostFunc, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return engine.HostFunc{}, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Value(reflect.TypeOf(fn)).
			Detail("handler must be a function, got %T", fn).
			Build()
	}
	ft := rv.Type()

	in := 0
	wantCtx := in < ft.NumIn() && ft.In(in) == contextType
	if wantCtx {
		in++
	}
	wantCaller := in < ft.NumIn() && ft.In(in) == callerType
	if wantCaller {
		in++
	}

	var params []hostbridge.ValueType
	var paramKinds []reflect.Type
	for ; in < ft.NumIn(); in++ {
		t, ok := scalarType(ft.In(in))
		if !ok {
			return engine.HostFunc{}, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Value(ft.String()).
				Detail("parameter %d has unsupported type %s", in, ft.In(in)).
				Build()
		}
		params = append(params, t)
		paramKinds = append(paramKinds, ft.In(in))
	}

	out := ft.NumOut()
	returnsErr := out > 0 && ft.Out(out-1) == errorType
	if returnsErr {
		out--
	}
	if out > 1 {
		return engine.HostFunc{}, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Value(ft.String()).
			Detail("at most one result besides error is supported").
			Build()
	}
	var results []hostbridge.ValueType
	if out == 1 {
		t, ok := scalarType(ft.Out(0))
		if !ok {
			return engine.HostFunc{}, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Value(ft.String()).
				Detail("result has unsupported type %s", ft.Out(0)).
				Build()
		}
		results = []hostbridge.ValueType{t}
	}

	call := func(ctx context.Context, c *engine.Caller, args []hostbridge.Value) ([]hostbridge.Value, error) {
		in := make([]reflect.Value, 0, ft.NumIn())
		if wantCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		if wantCaller {
			in = append(in, reflect.ValueOf(c))
		}
		for i, a := range args {
			in = append(in, goValue(a, paramKinds[i]))
		}

		ret := rv.Call(in)
		if returnsErr {
			if errV := ret[len(ret)-1]; !errV.IsNil() {
				return nil, errV.Interface().(error)
			}
			ret = ret[:len(ret)-1]
		}
		if len(ret) == 0 {
			return nil, nil
		}
		return []hostbridge.Value{resultValue(ret[0].Interface(), results[0])}, nil
	}

	return engine.HostFunc{Fn: call, Params: params, Results: results}, nil
}

// resultValue converts a host function's Go result. A result that does not
// convert interrupts the guest call with InterruptBadResults.
func resultValue(x any, t hostbridge.ValueType) hostbridge.Value {
	v, err := toValue(x, t)
	if err != nil {
		engine.InterruptWith(engine.InterruptBadResults, err)
	}
	return v
}

// toSnakeCase converts PascalCase to snake_case.
// An acronym ends where the next word starts: GetHTTPServer -> get_http_server.
// Adjacent acronyms stay joined: GetHTTPURL -> get_httpurl.
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1 // -1 because loop will increment
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
