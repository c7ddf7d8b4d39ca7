package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/codec"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/internal/guests"
	"github.com/wippyai/wasm-hostbridge/runtime"
)

// scenario runs one tutorial guest. options configure the runtime and setup
// defines imports before the guest is instantiated.
type scenario struct {
	options func(w io.Writer) []runtime.Option
	setup   func(rt *runtime.Runtime) error
	run     func(ctx context.Context, w io.Writer, rt *runtime.Runtime, inst *runtime.Instance) error
}

var passingDataSpec = runtime.BufferSpec{
	PointerExport: "get_wasm_memory_buffer_pointer",
	Capacity:      guests.DefaultCapacity,
	Input:         codec.LengthPrefixed,
	Output:        codec.Terminated,
}

var scenarios = map[string]scenario{
	"hello-world": {
		run: func(ctx context.Context, w io.Writer, _ *runtime.Runtime, inst *runtime.Instance) error {
			v, err := inst.Call(ctx, "add_one", 24)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "add_one(24) = %v\n", v)
			return nil
		},
	},
	"passing-data": {
		run: func(ctx context.Context, w io.Writer, _ *runtime.Runtime, inst *runtime.Instance) error {
			return exchangeDemo(ctx, w, inst, passingDataSpec, "Did you know")
		},
	},
	"imported-memory": {
		setup: func(rt *runtime.Runtime) error {
			_, err := rt.DefineMemory("env", "memory", 1, 0)
			return err
		},
		run: func(ctx context.Context, w io.Writer, _ *runtime.Runtime, inst *runtime.Instance) error {
			return exchangeDemo(ctx, w, inst, passingDataSpec, "Did you know")
		},
	},
	"memory-base": {
		setup: func(rt *runtime.Runtime) error {
			if _, err := rt.DefineMemory("env", "memory", 1, 0); err != nil {
				return err
			}
			_, err := rt.DefineGlobal("env", "__memory_base", hostbridge.I32(4096), false)
			return err
		},
		run: func(ctx context.Context, w io.Writer, _ *runtime.Runtime, inst *runtime.Instance) error {
			spec := passingDataSpec
			spec.PointerExport = "get_buffer_pointer"
			return exchangeDemo(ctx, w, inst, spec, "Based at 4096,")
		},
	},
	"host-counter": {
		setup: func(rt *runtime.Runtime) error {
			counter := int32(24)
			if err := rt.RegisterFunc("env", "get_counter", func() int32 { return counter }); err != nil {
				return err
			}
			return rt.RegisterFunc("env", "add_to_counter", func(n int32) int32 {
				counter += n
				return counter
			})
		},
		run: func(ctx context.Context, w io.Writer, _ *runtime.Runtime, inst *runtime.Instance) error {
			v, err := inst.Call(ctx, "increment_counter_loop", 5)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "counter starts at 24, increment_counter_loop(5) = %v\n", v)
			return nil
		},
	},
	"early-exit": {
		setup: func(rt *runtime.Runtime) error {
			if err := rt.RegisterInterrupt("env", "interrupt_execution", engine.InterruptRequested); err != nil {
				return err
			}
			return rt.RegisterFunc("env", "should_not_be_called", func() {
				panic("should_not_be_called was reached")
			})
		},
		run: func(ctx context.Context, w io.Writer, rt *runtime.Runtime, inst *runtime.Instance) error {
			_, err := inst.Call(ctx, "exit_early")
			if !errors.IsKind(err, errors.KindHostInterrupted) {
				return fmt.Errorf("expected host_interrupted, got %v", err)
			}
			fmt.Fprintf(w, "exit_early was interrupted: %s\n", rt.LastErrorMessage())
			return nil
		},
	},
	"handling-errors": {
		run: func(ctx context.Context, w io.Writer, rt *runtime.Runtime, inst *runtime.Instance) error {
			for _, c := range []struct {
				export string
				args   []any
			}{
				{"throw_wasm_error", nil},
				{"divide", []any{1, 0}},
			} {
				if _, err := inst.Call(ctx, c.export, c.args...); !errors.IsKind(err, errors.KindTrap) {
					return fmt.Errorf("expected %s to trap, got %v", c.export, err)
				}
				fmt.Fprintf(w, "%s trapped: %s\n", c.export, rt.LastErrorMessage())
			}
			v, err := inst.Call(ctx, "divide", 42, 6)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "divide(42, 6) = %v, last error %q\n", v, rt.LastErrorMessage())
			return nil
		},
	},
	"growable": {
		run: func(ctx context.Context, w io.Writer, _ *runtime.Runtime, inst *runtime.Instance) error {
			spec := passingDataSpec
			spec.PointerExport = "get_buffer_pointer"
			if err := exchangeDemo(ctx, w, inst, spec, "Small"); err != nil {
				return err
			}
			prev, err := inst.Call(ctx, "grow", 3)
			if err != nil {
				return err
			}
			size, err := inst.Call(ctx, "size")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "grew memory from %v to %v pages\n", prev, size)
			return exchangeDemo(ctx, w, inst, spec, "Grown")
		},
	},
	"wasi-echo": {
		options: func(w io.Writer) []runtime.Option {
			return []runtime.Option{runtime.WithWASI(engine.WASI{
				Stdin:  strings.NewReader("echoed from stdin\n"),
				Stdout: w,
				Args:   []string{"wasi-echo", "--demo"},
				Env:    map[string]string{"GREETING": "hi"},
			})}
		},
		run: func(ctx context.Context, w io.Writer, _ *runtime.Runtime, inst *runtime.Instance) error {
			for _, export := range []string{"hello", "echo"} {
				if _, err := inst.Call(ctx, export); err != nil {
					return err
				}
			}
			argc, err := inst.Call(ctx, "argc")
			if err != nil {
				return err
			}
			envc, err := inst.Call(ctx, "envc")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "argc = %v, envc = %v\n", argc, envc)
			return nil
		},
	},
}

func exchangeDemo(ctx context.Context, w io.Writer, inst *runtime.Instance, spec runtime.BufferSpec, payload string) error {
	buf, err := inst.Buffer(spec)
	if err != nil {
		return err
	}
	res, err := buf.Exchange(ctx, "add_wasm_is_cool", []byte(payload))
	if err != nil {
		return err
	}
	ptr, err := buf.Pointer(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "buffer at %d: add_wasm_is_cool(%d) = %d, %q\n", ptr, len(payload), res.Length, res.Data)
	return nil
}

func newDemoCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo [name]",
		Short: "Run the tutorial guests",
		Long:  "Run the tutorial guests. Available: " + strings.Join(guests.Names(), ", "),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := guests.Names()
			if len(args) == 1 {
				if _, ok := guests.Lookup(args[0]); !ok {
					return errors.NotFound(errors.PhaseConfig, "demo", args[0])
				}
				names = args
			}
			for _, name := range names {
				if err := runDemo(cmd.Context(), cmd.OutOrStdout(), g, name); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
			return nil
		},
	}
}

func runDemo(ctx context.Context, w io.Writer, g *globalOptions, name string) error {
	guest, _ := guests.Lookup(name)
	fmt.Fprintln(w, titleStyle.Render(name)+" "+helpStyle.Render(guest.Description))

	sc := scenarios[name]
	opts := []runtime.Option{runtime.WithLogger(g.logger.Named(name))}
	if sc.options != nil {
		opts = append(opts, sc.options(w)...)
	}
	rt, err := runtime.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	if sc.setup != nil {
		if err := sc.setup(rt); err != nil {
			return err
		}
	}
	mod, err := rt.Load(ctx, guest.Build(), "")
	if err != nil {
		return err
	}
	inst, err := mod.Instantiate(ctx)
	if sc.run == nil {
		// Guests without a scenario demonstrate instantiation failures.
		if err == nil {
			return fmt.Errorf("expected instantiation to fail")
		}
		fmt.Fprintf(w, "instantiation failed: %s\n\n", rt.LastErrorMessage())
		return nil
	}
	if err != nil {
		return err
	}
	if err := sc.run(ctx, w, rt, inst); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}
