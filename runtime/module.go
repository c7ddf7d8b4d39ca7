package runtime

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/wasm"
)

// Module is a compiled guest bound to its runtime.
type Module struct {
	sigsErr error
	runtime *Runtime
	module  *engine.Module
	sigs    map[string]*Signature
	witText string
	sigOnce sync.Once
}

// Instantiate links the runtime's host imports and creates an instance.
// The first instantiation seals the runtime's imports.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	inst, err := m.runtime.store.Instantiate(ctx, m.module, m.runtime.hosts.imports)
	if err != nil {
		return nil, err
	}
	return &Instance{module: m, inst: inst}, nil
}

// Close releases the compiled module. Running instances are unaffected.
func (m *Module) Close(ctx context.Context) error {
	return m.module.Close(ctx)
}

// Engine returns the engine-level module.
func (m *Module) Engine() *engine.Module {
	return m.module
}

// Export is a guest export with its declared signature, if any.
type Export struct {
	Name string
	Type wasm.ExternType
}

// Exports lists the guest's exports in declaration order.
func (m *Module) Exports() []Export {
	descs := m.module.Exports()
	exports := make([]Export, len(descs))
	for i, d := range descs {
		exports[i] = Export{Name: d.Name, Type: d.Type}
	}
	return exports
}

// Imports returns the guest's declared imports.
func (m *Module) Imports() []wasm.ImportDesc {
	return m.module.Imports()
}

// Signature is a declared export signature.
type Signature struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// Signature returns the declared signature of export name. Names match
// with either '-' or '_' as the word separator. Returns nil when the
// module was loaded without signatures or does not declare name.
func (m *Module) Signature(name string) (*Signature, error) {
	sigs, err := m.signatures()
	if err != nil || sigs == nil {
		return nil, err
	}
	if sig, ok := sigs[name]; ok {
		return sig, nil
	}
	if sig, ok := sigs[strings.ReplaceAll(name, "_", "-")]; ok {
		return sig, nil
	}
	if sig, ok := sigs[strings.ReplaceAll(name, "-", "_")]; ok {
		return sig, nil
	}
	return nil, nil
}

// signatures parses witText lazily and checks each declared function
// against the export of the same name.
func (m *Module) signatures() (map[string]*Signature, error) {
	m.sigOnce.Do(func() {
		if m.witText == "" {
			return
		}
		m.sigs, m.sigsErr = parseWitFunctions(m.witText)
		if m.sigsErr == nil {
			m.sigsErr = m.checkSignatures()
		}
	})
	return m.sigs, m.sigsErr
}

func (m *Module) checkSignatures() error {
	for name, sig := range m.sigs {
		core, err := m.exportType(name)
		if err != nil {
			continue
		}
		if len(core.Params) != len(sig.Params) || len(core.Results) != len(sig.Results) {
			return errors.New(errors.PhaseParse, errors.KindTypeMismatch).
				Path(name).
				Detail("declared %d params and %d results, export is %s", len(sig.Params), len(sig.Results), core).
				Build()
		}
		pairs := append(append([]wit.Type{}, sig.Params...), sig.Results...)
		want := append(append([]wasm.ValType{}, core.Params...), core.Results...)
		for i, t := range pairs {
			ct, ok := witCore(t)
			if !ok {
				return errors.New(errors.PhaseParse, errors.KindTypeMismatch).
					Path(name).
					Detail("%s is not a scalar type", witName(t)).
					Build()
			}
			if wasm.ValType(ct) != want[i] {
				return errors.TypeMismatch(errors.PhaseParse, []string{name}, want[i].String(), witName(t))
			}
		}
	}
	return nil
}

// exportType resolves name, also trying the other word separator.
func (m *Module) exportType(name string) (wasm.FuncType, error) {
	for _, n := range []string{name, strings.ReplaceAll(name, "-", "_"), strings.ReplaceAll(name, "_", "-")} {
		if ft, err := m.module.ExportedFunction(n); err == nil {
			return ft, nil
		}
	}
	return wasm.FuncType{}, errors.ExportNotFound(name)
}

// exportName returns the export's actual name for a declared or given one.
func (m *Module) exportName(name string) string {
	for _, n := range []string{name, strings.ReplaceAll(name, "-", "_"), strings.ReplaceAll(name, "_", "-")} {
		if _, err := m.module.ExportedFunction(n); err == nil {
			return n
		}
	}
	return name
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;\n]+))?`)

// parseWitFunctions extracts function signatures from WIT text.
// Pattern: [export] name: func(params) -> result;
func parseWitFunctions(witText string) (map[string]*Signature, error) {
	funcs := make(map[string]*Signature)

	matches := funcPattern.FindAllStringSubmatch(witText, -1)
	for _, match := range matches {
		name := match[1]
		paramsStr := strings.TrimSpace(match[2])
		resultStr := ""
		if len(match) > 3 {
			resultStr = strings.TrimSpace(match[3])
		}

		sig := &Signature{Name: name}

		if paramsStr != "" {
			for _, p := range splitParams(paramsStr) {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = strings.TrimSpace(p[idx+1:])
				}
				t, err := parseWitType(typStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse param type "+typStr)
				}
				sig.Params = append(sig.Params, t)
			}
		}

		if resultStr != "" && resultStr != "()" {
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				inner := strings.TrimPrefix(strings.TrimSuffix(resultStr, ")"), "(")
				for _, part := range splitParams(inner) {
					t, err := parseWitType(part)
					if err != nil {
						return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse result type "+part)
					}
					sig.Results = append(sig.Results, t)
				}
			} else {
				t, err := parseWitType(resultStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse result type "+resultStr)
				}
				sig.Results = []wit.Type{t}
			}
		}

		funcs[name] = sig
	}

	if len(funcs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}

	return funcs, nil
}

// splitParams splits a parameter list, handling nested parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

func parseWitType(s string) (wit.Type, error) {
	s = strings.TrimSpace(s)
	return wit.ParseType(s)
}
