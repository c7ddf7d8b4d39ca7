package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseCall,
				Kind:   KindArityMismatch,
				Op:     "add_wasm_is_cool",
				Args:   []any{12, "x"},
				Path:   []string{"env", "memory"},
				Detail: "expected 1 params, got 2",
			},
			contains: []string{"[call]", "arity_mismatch", "add_wasm_is_cool(12, x)", "env.memory", "expected 1 params"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindUnterminatedBuffer,
			},
			contains: []string{"[decode]", "unterminated_buffer"},
		},
		{
			name: "cause keeps first line only",
			err: &Error{
				Phase: PhaseCall,
				Kind:  KindTrap,
				Cause: errors.New("wasm error: unreachable\nwasm stack trace:\n\t.throw_wasm_error()"),
			},
			contains: []string{"caused by: wasm error: unreachable)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
			assert.NotContains(t, msg, "stack trace")
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Engine(PhaseLoad, "compile", cause)

	assert.Same(t, cause, errors.Unwrap(err))
	assert.ErrorIs(t, err, cause)
}

func TestError_IsSentinel(t *testing.T) {
	err := OutOfBounds(PhaseMemory, "write", 96, 8, 100)
	wrapped := fmt.Errorf("exchange: %w", err)

	assert.ErrorIs(t, wrapped, ErrOutOfBounds)
	assert.NotErrorIs(t, wrapped, ErrCapacityExceeded)
	assert.ErrorIs(t, wrapped, &Error{Phase: PhaseMemory, Kind: KindOutOfBounds})
	assert.NotErrorIs(t, wrapped, &Error{Phase: PhaseDecode, Kind: KindOutOfBounds})
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTrap, KindOf(fmt.Errorf("x: %w", Trap("f", nil, "unreachable", nil))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.True(t, IsKind(ExportNotFound("nope"), KindExportNotFound))
	assert.False(t, IsKind(nil, KindExportNotFound))
}

func TestBuilder(t *testing.T) {
	cause := errors.New("boom")
	err := New(PhaseLinking, KindImportResolution).
		Op("instantiate").
		Args("guest").
		Path("env", "missing_fn").
		Value(3).
		Cause(cause).
		Detail("import %q not provided", "missing_fn").
		Build()

	require.NotNil(t, err)
	assert.Equal(t, PhaseLinking, err.Phase)
	assert.Equal(t, KindImportResolution, err.Kind)
	assert.Equal(t, "instantiate", err.Op)
	assert.Equal(t, []any{"guest"}, err.Args)
	assert.Equal(t, []string{"env", "missing_fn"}, err.Path)
	assert.Equal(t, 3, err.Value)
	assert.Equal(t, `import "missing_fn" not provided`, err.Detail)
	assert.ErrorIs(t, err, cause)
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
	}{
		{CapacityExceeded("encode", 101, 100), PhaseEncode, KindCapacityExceeded},
		{UnterminatedBuffer(27), PhaseDecode, KindUnterminatedBuffer},
		{OutOfBounds(PhaseMemory, "read", 0, 1, 0), PhaseMemory, KindOutOfBounds},
		{StaleView("read", 1, 3), PhaseMemory, KindStaleView},
		{ExportNotFound("add_one"), PhaseCall, KindExportNotFound},
		{ArityMismatch("add_one", nil, "x"), PhaseCall, KindArityMismatch},
		{Trap("f", nil, "unreachable", nil), PhaseCall, KindTrap},
		{HostInterrupted("exit_early", nil, 1, nil), PhaseCall, KindHostInterrupted},
		{ImportResolution("env", "missing_fn", "not provided"), PhaseLinking, KindImportResolution},
		{Closed("instance"), PhaseRuntime, KindClosed},
		{TypeMismatch(PhaseLinking, nil, "i32", "i64"), PhaseLinking, KindTypeMismatch},
		{InvalidData(PhaseParse, "bad magic"), PhaseParse, KindInvalidData},
		{InvalidInput(PhaseHost, "empty"), PhaseHost, KindInvalidInput},
		{NotFound(PhaseRuntime, "memory", "0"), PhaseRuntime, KindNotFound},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.phase, tt.err.Phase)
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestOutOfBounds_Detail(t *testing.T) {
	err := OutOfBounds(PhaseMemory, "write", 96, 8, 100)
	assert.Contains(t, err.Error(), "range [96, 104) exceeds length 100")
	assert.Contains(t, err.Error(), "write(96, 8)")
}

func TestUnresolvedImports(t *testing.T) {
	single := UnresolvedImports([]UnresolvedImport{{Module: "env", Name: "missing_fn", Reason: "not provided"}})
	assert.Equal(t, []string{"env", "missing_fn"}, single.Path)

	multi := UnresolvedImports([]UnresolvedImport{
		{Module: "env", Name: "a", Reason: "not provided"},
		{Module: "env", Name: "b", Reason: "type mismatch"},
	})
	assert.ErrorIs(t, multi, ErrImportResolution)
	assert.Contains(t, multi.Error(), "2 imports unresolved")
	assert.Contains(t, multi.Error(), "env.b: type mismatch")
}
