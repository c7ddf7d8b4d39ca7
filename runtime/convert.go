package runtime

import (
	"fmt"
	"math"
	"reflect"

	"go.bytecodealliance.org/wit"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/errors"
)

// scalarType maps a Go parameter or result type to its core value type.
func scalarType(t reflect.Type) (hostbridge.ValueType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return hostbridge.ValueTypeI32, true
	case reflect.Int64, reflect.Uint64:
		return hostbridge.ValueTypeI64, true
	case reflect.Float32:
		return hostbridge.ValueTypeF32, true
	case reflect.Float64:
		return hostbridge.ValueTypeF64, true
	}
	return 0, false
}

// goValue converts v to a reflect.Value of type t. t must satisfy
// scalarType with v's type.
func goValue(v hostbridge.Value, t reflect.Type) reflect.Value {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		out.SetInt(int64(v.I32()))
	case reflect.Uint32:
		out.SetUint(uint64(v.U32()))
	case reflect.Int64:
		out.SetInt(v.I64())
	case reflect.Uint64:
		out.SetUint(v.Raw())
	case reflect.Float32:
		out.SetFloat(float64(v.F32()))
	case reflect.Float64:
		out.SetFloat(v.F64())
	}
	return out
}

// toValue converts a Go scalar to a Value of type t. Integers must fit:
// i32 accepts the int32 and uint32 ranges, so both signed and unsigned
// views of a 32-bit value work.
func toValue(x any, t hostbridge.ValueType) (hostbridge.Value, error) {
	if v, ok := x.(hostbridge.Value); ok {
		if v.Type != t {
			return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, t.String(), v.Type.String())
		}
		return v, nil
	}

	rv := reflect.ValueOf(x)
	if !rv.IsValid() {
		return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, t.String(), "nil")
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intValue(rv.Int(), t, x)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if t == hostbridge.ValueTypeI64 {
			return hostbridge.ValueFromRaw(t, u), nil
		}
		if u > math.MaxInt64 {
			return hostbridge.Value{}, overflow(x, t)
		}
		return intValue(int64(u), t, x)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		switch t {
		case hostbridge.ValueTypeF32:
			return hostbridge.F32(float32(f)), nil
		case hostbridge.ValueTypeF64:
			return hostbridge.F64(f), nil
		}
	case reflect.Bool:
		if t == hostbridge.ValueTypeI32 {
			if rv.Bool() {
				return hostbridge.I32(1), nil
			}
			return hostbridge.I32(0), nil
		}
	}
	return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, t.String(), fmt.Sprintf("%T", x))
}

func intValue(n int64, t hostbridge.ValueType, x any) (hostbridge.Value, error) {
	switch t {
	case hostbridge.ValueTypeI32:
		if n < math.MinInt32 || n > math.MaxUint32 {
			return hostbridge.Value{}, overflow(x, t)
		}
		return hostbridge.ValueFromRaw(t, uint64(uint32(n))), nil
	case hostbridge.ValueTypeI64:
		return hostbridge.I64(n), nil
	case hostbridge.ValueTypeF32:
		return hostbridge.F32(float32(n)), nil
	case hostbridge.ValueTypeF64:
		return hostbridge.F64(float64(n)), nil
	}
	return hostbridge.Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, t.String(), fmt.Sprintf("%T", x))
}

func overflow(x any, t hostbridge.ValueType) error {
	return errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
		Value(x).
		Detail("%v overflows %s", x, t).
		Build()
}

// witCore maps a scalar WIT type to the core type it is passed as.
func witCore(t wit.Type) (hostbridge.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return hostbridge.ValueTypeI32, true
	case wit.S64, wit.U64:
		return hostbridge.ValueTypeI64, true
	case wit.F32:
		return hostbridge.ValueTypeF32, true
	case wit.F64:
		return hostbridge.ValueTypeF64, true
	}
	return 0, false
}

// liftValue returns the Go value a WIT type stands for. A nil t returns
// the natural Go value of v's core type.
func liftValue(v hostbridge.Value, t wit.Type) any {
	switch t.(type) {
	case wit.Bool:
		return v.U32() != 0
	case wit.S8:
		return int8(v.I32())
	case wit.U8:
		return uint8(v.U32())
	case wit.S16:
		return int16(v.I32())
	case wit.U16:
		return uint16(v.U32())
	case wit.S32:
		return v.I32()
	case wit.U32:
		return v.U32()
	case wit.Char:
		return rune(v.U32())
	case wit.S64:
		return v.I64()
	case wit.U64:
		return v.Raw()
	case wit.F32:
		return v.F32()
	case wit.F64:
		return v.F64()
	}
	return v.Interface()
}

func witName(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.S8:
		return "s8"
	case wit.U8:
		return "u8"
	case wit.S16:
		return "s16"
	case wit.U16:
		return "u16"
	case wit.S32:
		return "s32"
	case wit.U32:
		return "u32"
	case wit.Char:
		return "char"
	case wit.S64:
		return "s64"
	case wit.U64:
		return "u64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.String:
		return "string"
	}
	return fmt.Sprintf("%T", t)
}
