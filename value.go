package hostbridge

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-hostbridge/errors"
)

// ValueType tags a scalar crossing the host/guest boundary. The byte values
// are the wasm binary encodings, so they convert directly to wazero's
// api.ValueType.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return fmt.Sprintf("unknown(0x%x)", byte(t))
}

// Valid reports whether t is one of the four scalar tags.
func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return true
	}
	return false
}

// ParseValueType parses "i32", "i64", "f32" or "f64".
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "i32":
		return ValueTypeI32, nil
	case "i64":
		return ValueTypeI64, nil
	case "f32":
		return ValueTypeF32, nil
	case "f64":
		return ValueTypeF64, nil
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown value type %q", s))
}

// Value is a tagged scalar. The zero Value has no type and stands for
// "no result".
type Value struct {
	Type ValueType
	bits uint64
}

func I32(v int32) Value {
	return Value{Type: ValueTypeI32, bits: uint64(uint32(v))}
}

func I64(v int64) Value {
	return Value{Type: ValueTypeI64, bits: uint64(v)}
}

func F32(v float32) Value {
	return Value{Type: ValueTypeF32, bits: uint64(math.Float32bits(v))}
}

func F64(v float64) Value {
	return Value{Type: ValueTypeF64, bits: math.Float64bits(v)}
}

// ValueFromRaw builds a Value from the engine's uint64 stack encoding.
func ValueFromRaw(t ValueType, raw uint64) Value {
	if t == ValueTypeI32 || t == ValueTypeF32 {
		raw = uint64(uint32(raw))
	}
	return Value{Type: t, bits: raw}
}

// Raw returns the engine's uint64 stack encoding of v.
func (v Value) Raw() uint64 { return v.bits }

// IsZero reports whether v carries no value.
func (v Value) IsZero() bool { return v.Type == 0 }

func (v Value) I32() int32 { return int32(uint32(v.bits)) }

func (v Value) U32() uint32 { return uint32(v.bits) }

func (v Value) I64() int64 { return int64(v.bits) }

func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }

func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

// Interface returns the natural Go value: int32, int64, float32 or float64.
// The zero Value returns nil.
func (v Value) Interface() any {
	switch v.Type {
	case ValueTypeI32:
		return v.I32()
	case ValueTypeI64:
		return v.I64()
	case ValueTypeF32:
		return v.F32()
	case ValueTypeF64:
		return v.F64()
	}
	return nil
}

func (v Value) String() string {
	if v.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%v", v.Type, v.Interface())
}

// Types returns the tags of vals in order.
func Types(vals []Value) []ValueType {
	out := make([]ValueType, len(vals))
	for i, v := range vals {
		out[i] = v.Type
	}
	return out
}
