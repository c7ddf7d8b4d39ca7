// Package manifest reads the YAML description of a guest: the module to
// load, its export signatures, its buffer conventions and the imports the
// host must provide for it.
//
//	module: passing_data.wasm
//	signatures: |
//	  add-wasm-is-cool: func(len: u32) -> u32;
//	buffer:
//	  pointer_export: get_wasm_memory_buffer_pointer
//	  capacity: 100
//	  input: length
//	  output: terminated
//	imports:
//	  memories:
//	    - {module: env, name: memory, min_pages: 1}
//	  globals:
//	    - {module: env, name: __memory_base, type: i32, value: 4096}
//	  functions:
//	    - {module: env, name: interrupt_execution, action: interrupt, value: 1}
//	wasi:
//	  args: [passing_data.wasm, --verbose]
//	  env: {HOME: /}
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-hostbridge/codec"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/runtime"
)

// Manifest describes one guest module and its host environment.
type Manifest struct {
	Buffer     *Buffer `yaml:"buffer,omitempty" json:"buffer,omitempty" validate:"omitempty"`
	Module     string  `yaml:"module" json:"module" validate:"required" jsonschema:"description=Path to the .wasm file, relative to the manifest"`
	Signatures string  `yaml:"signatures,omitempty" json:"signatures,omitempty" jsonschema:"description=WIT-style export signatures"`
	Log        Log     `yaml:"log,omitempty" json:"log,omitempty"`
	Imports    Imports `yaml:"imports,omitempty" json:"imports,omitempty"`
	Engine     Engine  `yaml:"engine,omitempty" json:"engine,omitempty"`
	WASI       *WASI   `yaml:"wasi,omitempty" json:"wasi,omitempty" validate:"omitempty"`

	dir string
}

// WASI enables wasi_snapshot_preview1 for the guest. Args defaults to the
// module's file name.
type WASI struct {
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Args []string          `yaml:"args,omitempty" json:"args,omitempty"`
}

// Buffer is a runtime.BufferSpec in manifest form.
type Buffer struct {
	PointerExport string `yaml:"pointer_export" json:"pointer_export" validate:"required"`
	Input         string `yaml:"input,omitempty" json:"input,omitempty" validate:"omitempty,convention" jsonschema:"enum=terminated,enum=length"`
	Output        string `yaml:"output,omitempty" json:"output,omitempty" validate:"omitempty,convention" jsonschema:"enum=terminated,enum=length"`
	Capacity      uint32 `yaml:"capacity" json:"capacity" validate:"gt=0"`
}

// Imports are defined on the runtime before the guest is instantiated.
type Imports struct {
	Memories  []Memory   `yaml:"memories,omitempty" json:"memories,omitempty" validate:"dive"`
	Globals   []Global   `yaml:"globals,omitempty" json:"globals,omitempty" validate:"dive"`
	Functions []Function `yaml:"functions,omitempty" json:"functions,omitempty" validate:"dive"`
}

// Memory is a host memory import.
type Memory struct {
	Module   string `yaml:"module" json:"module" validate:"required"`
	Name     string `yaml:"name" json:"name" validate:"required"`
	MinPages uint32 `yaml:"min_pages" json:"min_pages"`
	MaxPages uint32 `yaml:"max_pages,omitempty" json:"max_pages,omitempty" validate:"omitempty,gtefield=MinPages"`
}

// Global is a host global import. Value is parsed per Type; integers
// accept any Go base prefix.
type Global struct {
	Module  string `yaml:"module" json:"module" validate:"required"`
	Name    string `yaml:"name" json:"name" validate:"required"`
	Type    string `yaml:"type" json:"type" validate:"required,oneof=i32 i64 f32 f64"`
	Value   string `yaml:"value" json:"value" jsonschema:"oneof_type=string;number"`
	Mutable bool   `yaml:"mutable,omitempty" json:"mutable,omitempty"`
}

// Action is what a manifest-defined host function does when called.
type Action string

const (
	// ActionInterrupt aborts the calling guest with the function's value as
	// the interrupt code.
	ActionInterrupt Action = "interrupt"
	// ActionLog logs the arguments and returns zeros.
	ActionLog Action = "log"
	// ActionConst returns the function's value.
	ActionConst Action = "const"
)

// Function is a host function import implemented by Action.
type Function struct {
	Module  string   `yaml:"module" json:"module" validate:"required"`
	Name    string   `yaml:"name" json:"name" validate:"required"`
	Action  Action   `yaml:"action" json:"action" validate:"required,oneof=interrupt log const" jsonschema:"enum=interrupt,enum=log,enum=const"`
	Value   string   `yaml:"value,omitempty" json:"value,omitempty" jsonschema:"oneof_type=string;number"`
	Params  []string `yaml:"params,omitempty" json:"params,omitempty" validate:"dive,oneof=i32 i64 f32 f64"`
	Results []string `yaml:"results,omitempty" json:"results,omitempty" validate:"dive,oneof=i32 i64 f32 f64"`
}

// Engine tunes the runtime.
type Engine struct {
	CacheDir           string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	MemoryLimitPages   uint32 `yaml:"memory_limit_pages,omitempty" json:"memory_limit_pages,omitempty" validate:"lte=65536"`
	CloseOnContextDone bool   `yaml:"close_on_context_done,omitempty" json:"close_on_context_done,omitempty"`
}

// Log configures the CLI logger.
type Log struct {
	Level      string `yaml:"level,omitempty" json:"level,omitempty" validate:"omitempty,oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format     string `yaml:"format,omitempty" json:"format,omitempty" validate:"omitempty,oneof=console json" jsonschema:"enum=console,enum=json"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty" validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("convention", func(fl validator.FieldLevel) bool {
		_, err := codec.ParseConvention(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads and validates the manifest at path. A relative module path
// resolves against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Op("load_manifest").
			Path(path).
			Cause(err).
			Build()
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks field constraints, then the rules that span fields.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return validationError(err)
	}
	for _, f := range m.Imports.Functions {
		switch f.Action {
		case ActionInterrupt:
			if len(f.Results) != 0 {
				return invalid(f.Module, f.Name, "interrupt functions return nothing")
			}
			if _, err := parseValue(valueTypeI32, orZero(f.Value)); err != nil {
				return invalid(f.Module, f.Name, "interrupt code: "+err.Error())
			}
		case ActionConst:
			if len(f.Results) != 1 {
				return invalid(f.Module, f.Name, "const functions return exactly one value")
			}
			if _, err := parseValue(f.Results[0], orZero(f.Value)); err != nil {
				return invalid(f.Module, f.Name, err.Error())
			}
		}
	}
	for _, g := range m.Imports.Globals {
		if _, err := parseValue(g.Type, orZero(g.Value)); err != nil {
			return invalid(g.Module, g.Name, err.Error())
		}
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "invalid manifest")
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		field, _ := strings.CutPrefix(fe.Namespace(), "Manifest.")
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s: %s", field, fe.Tag())
		}
	}
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Op("validate_manifest").
		Cause(err).
		Detail("%s", strings.Join(msgs, "; ")).
		Build()
}

func invalid(module, name, detail string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Op("validate_manifest").
		Path(module, name).
		Detail("%s", detail).
		Build()
}

// ModulePath returns the module path, resolved against the manifest's
// directory when relative.
func (m *Manifest) ModulePath() string {
	if filepath.IsAbs(m.Module) || m.dir == "" {
		return m.Module
	}
	return filepath.Join(m.dir, m.Module)
}

// BufferSpec returns the manifest's buffer as a runtime.BufferSpec. Input
// defaults to length-prefixed and output to terminated.
func (m *Manifest) BufferSpec() (runtime.BufferSpec, bool) {
	if m.Buffer == nil {
		return runtime.BufferSpec{}, false
	}
	spec := runtime.BufferSpec{
		PointerExport: m.Buffer.PointerExport,
		Capacity:      m.Buffer.Capacity,
		Input:         codec.LengthPrefixed,
		Output:        codec.Terminated,
	}
	if m.Buffer.Input != "" {
		spec.Input, _ = codec.ParseConvention(m.Buffer.Input)
	}
	if m.Buffer.Output != "" {
		spec.Output, _ = codec.ParseConvention(m.Buffer.Output)
	}
	return spec, true
}

// Options returns the runtime options the engine section asks for.
func (m *Manifest) Options() []runtime.Option {
	var opts []runtime.Option
	if m.Engine.MemoryLimitPages > 0 {
		opts = append(opts, runtime.WithMemoryLimitPages(m.Engine.MemoryLimitPages))
	}
	if m.Engine.CloseOnContextDone {
		opts = append(opts, runtime.WithCloseOnContextDone(true))
	}
	if m.Engine.CacheDir != "" {
		opts = append(opts, runtime.WithCacheDir(m.Engine.CacheDir))
	}
	return opts
}

// WASIConfig binds the wasi section to the given stdio. It reports false
// when the manifest does not enable WASI.
func (m *Manifest) WASIConfig(stdin io.Reader, stdout, stderr io.Writer) (engine.WASI, bool) {
	if m.WASI == nil {
		return engine.WASI{}, false
	}
	args := m.WASI.Args
	if len(args) == 0 {
		args = []string{filepath.Base(m.Module)}
	}
	return engine.WASI{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Env:    m.WASI.Env,
		Args:   args,
	}, true
}

// Schema returns the JSON schema of the manifest format.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
	}
	s := r.Reflect(&Manifest{})
	s.Title = "hostbridge guest manifest"
	return json.MarshalIndent(s, "", "  ")
}
