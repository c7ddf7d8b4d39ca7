package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-hostbridge/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInspectCmd(g *globalOptions) *cobra.Command {
	var sigs string
	cmd := &cobra.Command{
		Use:   "inspect <file.wasm>",
		Short: "List a module's imports and exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := runtime.New(ctx, runtime.WithLogger(g.logger))
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			mod, err := rt.LoadFile(ctx, args[0], sigs)
			if err != nil {
				return err
			}
			printModule(cmd.OutOrStdout(), args[0], mod)
			return nil
		},
	}
	cmd.Flags().StringVar(&sigs, "sig", "", "export signatures, e.g. 'add-one: func(x: s32) -> s32;'")
	return cmd
}

func printModule(w io.Writer, path string, mod *runtime.Module) {
	fmt.Fprintln(w, titleStyle.Render("Module")+" "+path)

	imports := mod.Imports()
	fmt.Fprintf(w, "\nImports (%d):\n", len(imports))
	for _, imp := range imports {
		fmt.Fprintf(w, "  %s  %s\n", funcStyle.Render(imp.Key()), typeStyle.Render(imp.Type.String()))
	}

	exports := mod.Exports()
	fmt.Fprintf(w, "\nExports (%d):\n", len(exports))
	for _, exp := range exports {
		line := "  " + funcStyle.Render(exp.Name) + "  " + typeStyle.Render(exp.Type.String())
		if sig, _ := mod.Signature(exp.Name); sig != nil {
			line += "  " + helpStyle.Render(formatSignature(sig))
		}
		fmt.Fprintln(w, line)
	}
}

func formatSignature(sig *runtime.Signature) string {
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = witTypeStr(p)
	}
	s := sig.Name + ": func(" + strings.Join(params, ", ") + ")"
	switch len(sig.Results) {
	case 0:
	case 1:
		s += " -> " + witTypeStr(sig.Results[0])
	default:
		results := make([]string, len(sig.Results))
		for i, r := range sig.Results {
			results[i] = witTypeStr(r)
		}
		s += " -> (" + strings.Join(results, ", ") + ")"
	}
	return s
}
