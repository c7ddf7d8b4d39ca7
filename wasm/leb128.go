package wasm

import (
	"github.com/wippyai/wasm-hostbridge/errors"
)

// AppendULEB128 appends the unsigned LEB128 encoding of v.
func AppendULEB128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// AppendSLEB128 appends the signed LEB128 encoding of v.
func AppendSLEB128(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// ReadULEB128 decodes an unsigned value of at most bits bits from the start
// of b, returning the value and the number of bytes consumed.
func ReadULEB128(b []byte, bits uint) (uint64, int, error) {
	var result uint64
	var shift uint
	for i, c := range b {
		if shift >= bits {
			return 0, 0, errors.InvalidData(errors.PhaseDecode, "leb128: overflow")
		}
		result |= uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if bits < 64 && result>>bits != 0 {
				return 0, 0, errors.InvalidData(errors.PhaseDecode, "leb128: overflow")
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, errors.InvalidData(errors.PhaseDecode, "leb128: unexpected end of input")
}

// ReadSLEB128 decodes a signed value of at most bits bits.
func ReadSLEB128(b []byte, bits uint) (int64, int, error) {
	var result int64
	var shift uint
	for i, c := range b {
		if shift >= bits {
			return 0, 0, errors.InvalidData(errors.PhaseDecode, "leb128: overflow")
		}
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, errors.InvalidData(errors.PhaseDecode, "leb128: unexpected end of input")
}
