package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.bytecodealliance.org/wit"
	"golang.org/x/term"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/runtime"
)

func newTUICmd(g *globalOptions) *cobra.Command {
	var manifestPath, sigs string
	cmd := &cobra.Command{
		Use:   "tui <file.wasm>",
		Short: "Pick and call exports interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.InvalidInput(errors.PhaseConfig, "tui needs an interactive terminal")
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" && manifestPath == "" {
				return errors.InvalidInput(errors.PhaseConfig, "module file or --manifest required")
			}
			return runInteractive(g, path, manifestPath, sigs)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "guest manifest (YAML)")
	cmd.Flags().StringVar(&sigs, "sig", "", "export signatures, e.g. 'add-one: func(x: s32) -> s32;'")
	return cmd
}

type interactiveModel struct {
	err          error
	g            *globalOptions
	session      *session
	filename     string
	manifestPath string
	sigs         string
	result       string
	lastError    string
	funcs        []funcInfo
	inputs       []textinput.Model
	selected     int
	focusIdx     int
	state        modelState
}

type funcInfo struct {
	name       string
	resultType string
	params     []paramInfo
}

type paramInfo struct {
	witType wit.Type
	name    string
	typeStr string
	core    hostbridge.ValueType
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(g *globalOptions, filename, manifestPath, sigs string) *interactiveModel {
	return &interactiveModel{
		g:            g,
		filename:     filename,
		manifestPath: manifestPath,
		sigs:         sigs,
		state:        stateSelectFunc,
	}
}

type loadedMsg struct {
	err     error
	session *session
	funcs   []funcInfo
}

type callResultMsg struct {
	err       error
	result    string
	lastError string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	s, err := openSession(context.Background(), m.g, sessionConfig{
		path:     m.filename,
		manifest: m.manifestPath,
		sigs:     m.sigs,
	})
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{session: s, funcs: describeFuncs(s.module)}
}

// describeFuncs lists the function exports, typed by their declared
// signatures when present.
func describeFuncs(mod *runtime.Module) []funcInfo {
	var funcs []funcInfo
	for _, e := range mod.Exports() {
		if e.Type.Func == nil {
			continue
		}
		sig, _ := mod.Signature(e.Name)
		if sig != nil && len(sig.Params) != len(e.Type.Func.Params) {
			sig = nil
		}
		fi := funcInfo{name: e.Name}
		for i, p := range e.Type.Func.Params {
			pi := paramInfo{
				name:    fmt.Sprintf("arg%d", i),
				core:    hostbridge.ValueType(p),
				typeStr: p.String(),
			}
			if sig != nil {
				pi.witType = sig.Params[i]
				pi.typeStr = witTypeStr(pi.witType)
			}
			fi.params = append(fi.params, pi)
		}
		switch {
		case sig != nil && len(sig.Results) > 0:
			fi.resultType = witTypeStr(sig.Results[0])
		case len(e.Type.Func.Results) > 0:
			fi.resultType = e.Type.Func.Results[0].String()
		}
		funcs = append(funcs, fi)
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })
	return funcs
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateInputArgs && msg.String() == "q" {
				break
			}
			if m.session != nil {
				_ = m.session.Close(context.Background())
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.reset()
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.reset()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.session = msg.session

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.lastError = msg.lastError
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectFunc
	m.result = ""
	m.lastError = ""
	m.err = nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		ti := textinput.New()
		ti.Placeholder = p.typeStr
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()
	if m.session == nil {
		return callResultMsg{err: errors.InvalidInput(errors.PhaseRuntime, "module not loaded")}
	}

	f := m.funcs[m.selected]
	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		var err error
		if f.params[i].witType != nil {
			args[i], err = convertArg(input.Value(), f.params[i].witType)
		} else {
			args[i], err = parseCore(input.Value(), f.params[i].core)
		}
		if err != nil {
			return callResultMsg{err: err}
		}
	}

	result, err := m.session.inst.Call(ctx, f.name, args...)
	if err != nil {
		return callResultMsg{err: err, lastError: m.session.rt.LastErrorMessage()}
	}
	if result == nil {
		return callResultMsg{result: "ok"}
	}
	return callResultMsg{result: fmt.Sprintf("%v", result)}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.session == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("hostbridge"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("The module exports no functions.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatFunc(f)))
			} else {
				b.WriteString("  " + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.name))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.params[i].typeStr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(f.name))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			if m.lastError != "" && m.lastError != m.err.Error() {
				b.WriteString("\n")
				b.WriteString(helpStyle.Render("last error: " + m.lastError))
			}
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.params {
		params = append(params, p.name+": "+typeStyle.Render(p.typeStr))
	}
	result := ""
	if f.resultType != "" {
		result = " -> " + typeStyle.Render(f.resultType)
	}
	return funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")" + result
}

func witTypeStr(t wit.Type) string {
	switch v := t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}

func runInteractive(g *globalOptions, filename, manifestPath, sigs string) error {
	p := tea.NewProgram(newInteractiveModel(g, filename, manifestPath, sigs), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
