package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bytecodealliance.org/wit"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/internal/guests"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeGuest(t *testing.T, name string, bin []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, bin, 0o644))
	return path
}

func TestInspect(t *testing.T) {
	path := writeGuest(t, "hello.wasm", guests.HelloWorld())
	out, _, err := execute(t, "inspect", path, "--sig", "add-one: func(x: s32) -> s32;")
	require.NoError(t, err)
	assert.Contains(t, out, "add_one")
	assert.Contains(t, out, "addOne")
	assert.Contains(t, out, "(i32) -> (i32)")
	assert.Contains(t, out, "add-one: func(s32) -> s32")
	assert.Contains(t, out, "Imports (0)")
}

func TestCall_Scalar(t *testing.T) {
	path := writeGuest(t, "hello.wasm", guests.HelloWorld())
	out, _, err := execute(t, "call", path, "add_one", "24")
	require.NoError(t, err)
	assert.Equal(t, "25\n", out)

	out, _, err = execute(t, "call", path, "add_one", "41", "--sig", "add-one: func(x: u32) -> u32;")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestCall_Trap(t *testing.T) {
	path := writeGuest(t, "errors.wasm", guests.HandlingErrors())
	_, stderr, err := execute(t, "call", path, "divide", "1", "0")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTrap))
	assert.Contains(t, stderr, "integer divide by zero")
}

func TestCall_Write(t *testing.T) {
	path := writeGuest(t, "passing.wasm", guests.PassingData(0))
	out, _, err := execute(t, "call", path, "add_wasm_is_cool", "--write", "Did you know")
	require.NoError(t, err)
	assert.Contains(t, out, "length: 27")
	assert.Contains(t, out, `"Did you know Wasm is cool!"`)

	_, _, err = execute(t, "call", path, "add_wasm_is_cool", "--write", string(bytes.Repeat([]byte("a"), 200)))
	assert.True(t, errors.IsKind(err, errors.KindCapacityExceeded))
}

func TestCall_Manifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guest.wasm"), guests.MemoryBase(0), 0o644))
	manifestPath := filepath.Join(dir, "guest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`
module: guest.wasm
buffer: {pointer_export: get_buffer_pointer, capacity: 100}
imports:
  memories: [{module: env, name: memory, min_pages: 1}]
  globals: [{module: env, name: __memory_base, type: i32, value: 512}]
`), 0o644))

	out, _, err := execute(t, "call", "--manifest", manifestPath, "add_wasm_is_cool", "--write", "Manifest")
	require.NoError(t, err)
	assert.Contains(t, out, `"Manifest Wasm is cool!"`)

	out, _, err = execute(t, "call", "--manifest", manifestPath, "get_buffer_pointer")
	require.NoError(t, err)
	assert.Equal(t, "512\n", out)
}

func TestCall_WASI(t *testing.T) {
	path := writeGuest(t, "echo.wasm", guests.WASIEcho())

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader("typed input"))
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"call", path, "echo", "--wasi"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "typed input11\n", stdout.String())

	out, _, err := execute(t, "call", path, "envc", "--wasi", "--wasi-env", "A=1,B=2")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, _, err = execute(t, "call", path, "hello")
	assert.True(t, errors.IsKind(err, errors.KindImportResolution))
}

func TestCall_MissingImport(t *testing.T) {
	path := writeGuest(t, "missing.wasm", guests.MissingImport())
	_, _, err := execute(t, "call", path, "run")
	assert.True(t, errors.IsKind(err, errors.KindImportResolution))
}

func TestDemo(t *testing.T) {
	out, _, err := execute(t, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "add_one(24) = 25")
	assert.Contains(t, out, `add_wasm_is_cool(12) = 27, "Did you know Wasm is cool!"`)
	assert.Contains(t, out, "increment_counter_loop(5) = 29")
	assert.Contains(t, out, "exit_early was interrupted")
	assert.Contains(t, out, "integer divide by zero")
	assert.Contains(t, out, "env.missing_fn")
	assert.Contains(t, out, "buffer at 4096")
	assert.Contains(t, out, "grew memory from 1 to 4 pages")
	assert.Contains(t, out, "hello from wasi\nechoed from stdin\n")
	assert.Contains(t, out, "argc = 2, envc = 1")

	_, _, err = execute(t, "demo", "no-such-guest")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSchema(t *testing.T) {
	out, _, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "pointer_export")
}

func TestLogFlags(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "hostbridge.log")
	_, _, err := execute(t, "--log-level", "debug", "--log-format", "json", "--log-file", logFile, "demo", "hello-world")
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"debug"`)

	_, _, err = execute(t, "--log-level", "loud", "schema")
	assert.Error(t, err)
	_, _, err = execute(t, "--log-format", "xml", "schema")
	assert.Error(t, err)
}

func TestConvertArg(t *testing.T) {
	tests := []struct {
		typ     wit.Type
		want    any
		in      string
		wantErr bool
	}{
		{typ: wit.S32{}, in: "-7", want: int32(-7)},
		{typ: wit.U32{}, in: "0x10", want: uint32(16)},
		{typ: wit.U64{}, in: "18446744073709551615", want: uint64(18446744073709551615)},
		{typ: wit.F32{}, in: "1.5", want: float32(1.5)},
		{typ: wit.Bool{}, in: "true", want: true},
		{typ: wit.Char{}, in: "é", want: uint32('é')},
		{typ: wit.S32{}, in: "x", wantErr: true},
		{typ: wit.U8{}, in: "-1", wantErr: true},
		{typ: wit.String{}, in: "hi", wantErr: true},
	}
	for _, tc := range tests {
		got, err := convertArg(tc.in, tc.typ)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseCore(t *testing.T) {
	v, err := parseCore("-3", hostbridge.ValueTypeI32)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), v)

	v, err = parseCore("18446744073709551615", hostbridge.ValueTypeI64)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), v)

	v, err = parseCore("2.5", hostbridge.ValueTypeF64)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	_, err = parseCore("abc", hostbridge.ValueTypeI32)
	assert.True(t, errors.IsKind(err, errors.KindTypeMismatch))
}
