package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.bytecodealliance.org/wit"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/codec"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/manifest"
	"github.com/wippyai/wasm-hostbridge/runtime"
)

type callOptions struct {
	wasiEnv  map[string]string
	manifest string
	sigs     string
	write    string
	pointer  string
	input    string
	output   string
	capacity uint32
	wasi     bool
}

func newCallCmd(g *globalOptions) *cobra.Command {
	o := &callOptions{}
	cmd := &cobra.Command{
		Use:   "call <file.wasm> <export> [args...]",
		Short: "Call an export, optionally passing a string through the guest buffer",
		Long: `Call an export with scalar arguments, or with --write exchange a string
through the guest buffer: the payload is written at the pointer export's
offset, the export is called with its length and the result is read back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.manifest == "" && len(args) < 2 {
				return errors.InvalidInput(errors.PhaseConfig, "export name required")
			}
			return runCall(cmd, g, o, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.manifest, "manifest", "", "guest manifest (YAML); its module is used when no file is given")
	f.StringVar(&o.sigs, "sig", "", "export signatures, e.g. 'add-one: func(x: s32) -> s32;'")
	f.StringVar(&o.write, "write", "", "payload to exchange through the guest buffer")
	f.StringVar(&o.pointer, "pointer-export", "get_wasm_memory_buffer_pointer", "export returning the buffer offset")
	f.Uint32Var(&o.capacity, "capacity", 100, "buffer capacity in bytes")
	f.StringVar(&o.input, "input", "length", "input convention: length|terminated")
	f.StringVar(&o.output, "output", "terminated", "output convention: length|terminated")
	f.BoolVar(&o.wasi, "wasi", false, "provide wasi_snapshot_preview1 with this process's stdio")
	f.StringToStringVar(&o.wasiEnv, "wasi-env", nil, "WASI environment, e.g. HOME=/,LANG=C")
	return cmd
}

// session is a runtime with one instantiated guest.
type session struct {
	rt       *runtime.Runtime
	module   *runtime.Module
	inst     *runtime.Instance
	manifest *manifest.Manifest
}

func (s *session) Close(ctx context.Context) error {
	return s.rt.Close(ctx)
}

// failed reports the runtime's last error text alongside err.
func (s *session) failed(cmd *cobra.Command, err error) error {
	if msg := s.rt.LastErrorMessage(); msg != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("last error: "+msg))
	}
	return err
}

// sessionConfig says what openSession loads. WASI guests get the stdio
// streams; nil streams read as empty and discard output.
type sessionConfig struct {
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	wasiEnv  map[string]string
	path     string
	manifest string
	sigs     string
	wasi     bool
}

// openSession loads the guest at path (or the manifest's module when path is
// empty), defining the manifest's imports first.
func openSession(ctx context.Context, g *globalOptions, c sessionConfig) (*session, error) {
	var m *manifest.Manifest
	path, sigs := c.path, c.sigs
	opts := []runtime.Option{runtime.WithLogger(g.logger)}
	if c.manifest != "" {
		var err error
		if m, err = manifest.Load(c.manifest); err != nil {
			return nil, err
		}
		opts = append(opts, m.Options()...)
		if path == "" {
			path = m.ModulePath()
		}
		if sigs == "" {
			sigs = m.Signatures
		}
	}

	wasi, ok := engine.WASI{}, false
	if m != nil {
		wasi, ok = m.WASIConfig(c.stdin, c.stdout, c.stderr)
	}
	if c.wasi && !ok {
		wasi, ok = engine.WASI{Stdin: c.stdin, Stdout: c.stdout, Stderr: c.stderr, Args: []string{filepath.Base(path)}}, true
	}
	if ok {
		if len(c.wasiEnv) > 0 {
			wasi.Env = c.wasiEnv
		}
		opts = append(opts, runtime.WithWASI(wasi))
	}

	rt, err := runtime.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	s := &session{rt: rt, manifest: m}
	if m != nil {
		if err := m.Apply(rt); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}
	if s.module, err = rt.LoadFile(ctx, path, sigs); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	if s.inst, err = s.module.Instantiate(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return s, nil
}

func runCall(cmd *cobra.Command, g *globalOptions, o *callOptions, args []string) error {
	ctx := cmd.Context()

	// With a manifest the file argument is optional.
	path, export, rest := args[0], "", args[1:]
	if o.manifest != "" && !strings.HasSuffix(path, ".wasm") {
		path, export, rest = "", args[0], args[1:]
	} else if len(rest) > 0 {
		export, rest = rest[0], rest[1:]
	}
	if export == "" {
		return errors.InvalidInput(errors.PhaseConfig, "export name required")
	}

	s, err := openSession(ctx, g, sessionConfig{
		stdin:    cmd.InOrStdin(),
		stdout:   cmd.OutOrStdout(),
		stderr:   cmd.ErrOrStderr(),
		wasiEnv:  o.wasiEnv,
		path:     path,
		manifest: o.manifest,
		sigs:     o.sigs,
		wasi:     o.wasi,
	})
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	out := cmd.OutOrStdout()
	if cmd.Flags().Changed("write") {
		spec, err := o.bufferSpec(cmd, s.manifest)
		if err != nil {
			return err
		}
		if err := exchange(ctx, out, s, spec, export, o.write); err != nil {
			return s.failed(cmd, err)
		}
		return nil
	}

	callArgs, err := parseArgs(s.module, export, rest)
	if err != nil {
		return err
	}
	result, err := s.inst.Call(ctx, export, callArgs...)
	if err != nil {
		return s.failed(cmd, err)
	}
	printResult(out, result)
	return nil
}

// bufferSpec takes the manifest's buffer and lets explicit flags override
// it.
func (o *callOptions) bufferSpec(cmd *cobra.Command, m *manifest.Manifest) (runtime.BufferSpec, error) {
	spec := runtime.BufferSpec{PointerExport: o.pointer, Capacity: o.capacity}
	var err error
	if spec.Input, err = codec.ParseConvention(o.input); err != nil {
		return spec, err
	}
	if spec.Output, err = codec.ParseConvention(o.output); err != nil {
		return spec, err
	}
	if m == nil {
		return spec, nil
	}
	ms, ok := m.BufferSpec()
	if !ok {
		return spec, nil
	}
	f := cmd.Flags()
	if !f.Changed("pointer-export") {
		spec.PointerExport = ms.PointerExport
	}
	if !f.Changed("capacity") {
		spec.Capacity = ms.Capacity
	}
	if !f.Changed("input") {
		spec.Input = ms.Input
	}
	if !f.Changed("output") {
		spec.Output = ms.Output
	}
	return spec, nil
}

func exchange(ctx context.Context, w io.Writer, s *session, spec runtime.BufferSpec, export, payload string) error {
	buf, err := s.inst.Buffer(spec)
	if err != nil {
		return err
	}
	res, err := buf.Exchange(ctx, export, []byte(payload))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "length: %d\n", res.Length)
	fmt.Fprintf(w, "data:   %q\n", string(res.Data))
	return nil
}

func printResult(w io.Writer, result any) {
	switch r := result.(type) {
	case nil:
		fmt.Fprintln(w, "ok")
	case []any:
		for _, v := range r {
			fmt.Fprintln(w, v)
		}
	default:
		fmt.Fprintln(w, r)
	}
}

// parseArgs converts command-line strings through the export's declared
// signature, or its core types when it has none.
func parseArgs(mod *runtime.Module, export string, raw []string) ([]any, error) {
	sig, err := mod.Signature(export)
	if err != nil {
		return nil, err
	}
	if sig != nil && len(sig.Params) == len(raw) {
		out := make([]any, len(raw))
		for i, s := range raw {
			v, err := convertArg(s, sig.Params[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	var params []hostbridge.ValueType
	for _, e := range mod.Exports() {
		if e.Name == export && e.Type.Func != nil {
			for _, p := range e.Type.Func.Params {
				params = append(params, hostbridge.ValueType(p))
			}
		}
	}
	out := make([]any, len(raw))
	for i, s := range raw {
		if i >= len(params) {
			// Let the call report the arity mismatch.
			out[i] = s
			continue
		}
		v, err := parseCore(s, params[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseCore(s string, t hostbridge.ValueType) (any, error) {
	var (
		v   any
		err error
	)
	switch t {
	case hostbridge.ValueTypeI32, hostbridge.ValueTypeI64:
		var n int64
		n, err = strconv.ParseInt(s, 0, 64)
		if err != nil {
			var u uint64
			if u, err = strconv.ParseUint(s, 0, 64); err == nil {
				return u, nil
			}
		}
		v = n
	case hostbridge.ValueTypeF32, hostbridge.ValueTypeF64:
		v, err = strconv.ParseFloat(s, 64)
	default:
		return s, nil
	}
	if err != nil {
		return nil, errors.TypeMismatch(errors.PhaseConfig, nil, t.String(), strconv.Quote(s))
	}
	return v, nil
}

func convertArg(value string, t wit.Type) (any, error) {
	var (
		v   any
		err error
	)
	switch t.(type) {
	case wit.U8, wit.U16, wit.U32:
		var n uint64
		n, err = strconv.ParseUint(value, 0, 32)
		v = uint32(n)
	case wit.S8, wit.S16, wit.S32:
		var n int64
		n, err = strconv.ParseInt(value, 0, 32)
		v = int32(n)
	case wit.U64:
		v, err = strconv.ParseUint(value, 0, 64)
	case wit.S64:
		v, err = strconv.ParseInt(value, 0, 64)
	case wit.F32:
		var f float64
		f, err = strconv.ParseFloat(value, 32)
		v = float32(f)
	case wit.F64:
		v, err = strconv.ParseFloat(value, 64)
	case wit.Bool:
		v, err = strconv.ParseBool(value)
	case wit.Char:
		r := []rune(value)
		if len(r) != 1 {
			return nil, errors.TypeMismatch(errors.PhaseConfig, nil, "char", strconv.Quote(value))
		}
		v = uint32(r[0])
	default:
		return nil, errors.TypeMismatch(errors.PhaseConfig, nil, "scalar", witTypeStr(t))
	}
	if err != nil {
		return nil, errors.TypeMismatch(errors.PhaseConfig, nil, witTypeStr(t), strconv.Quote(value))
	}
	return v, nil
}
