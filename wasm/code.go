package wasm

import (
	"encoding/binary"
	"math"
)

// Opcodes emitted by Code.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0b
	OpBr           byte = 0x0c
	OpBrIf         byte = 0x0d
	OpReturn       byte = 0x0f
	OpCall         byte = 0x10
	OpDrop         byte = 0x1a
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpLocalTee     byte = 0x22
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpI32Load      byte = 0x28
	OpI64Load      byte = 0x29
	OpI32Load8U    byte = 0x2d
	OpI32Store     byte = 0x36
	OpI64Store     byte = 0x37
	OpI32Store8    byte = 0x3a
	OpMemorySize   byte = 0x3f
	OpMemoryGrow   byte = 0x40
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpF32Const     byte = 0x43
	OpF64Const     byte = 0x44
	OpI32Eqz       byte = 0x45
	OpI32Eq        byte = 0x46
	OpI32Ne        byte = 0x47
	OpI32LtS       byte = 0x48
	OpI32LtU       byte = 0x49
	OpI32GtS       byte = 0x4a
	OpI32GeU       byte = 0x4f
	OpI32Add       byte = 0x6a
	OpI32Sub       byte = 0x6b
	OpI32Mul       byte = 0x6c
	OpI32DivS      byte = 0x6d
	OpI32DivU      byte = 0x6e
	OpI64Add       byte = 0x7c
	OpF64Add       byte = 0xa0
	OpPrefixFC     byte = 0xfc
	OpMemoryCopyFC byte = 0x0a
	OpMemoryFillFC byte = 0x0b
)

// blockEmpty is the block type of a block producing no values.
const blockEmpty byte = 0x40

// Code assembles a function body one instruction at a time. Methods return
// the receiver so bodies read top to bottom:
//
//	new(Code).LocalGet(0).I32Const(1).I32Add().Body()
type Code struct {
	buf []byte
}

// Body returns the function body with the final end appended.
func (c *Code) Body(locals ...ValType) FuncBody {
	code := make([]byte, len(c.buf), len(c.buf)+1)
	copy(code, c.buf)
	return FuncBody{Locals: locals, Code: append(code, OpEnd)}
}

// Bytes returns the instructions emitted so far.
func (c *Code) Bytes() []byte { return c.buf }

func (c *Code) op(b ...byte) *Code {
	c.buf = append(c.buf, b...)
	return c
}

func (c *Code) opIdx(op byte, idx uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = AppendULEB128(c.buf, uint64(idx))
	return c
}

// memarg: alignment exponent then offset.
func (c *Code) opMem(op byte, align, offset uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = AppendULEB128(c.buf, uint64(align))
	c.buf = AppendULEB128(c.buf, uint64(offset))
	return c
}

func (c *Code) block(op byte, results []ValType) *Code {
	if len(results) == 0 {
		return c.op(op, blockEmpty)
	}
	return c.op(op, byte(results[0]))
}

func (c *Code) Unreachable() *Code { return c.op(OpUnreachable) }
func (c *Code) Nop() *Code         { return c.op(OpNop) }
func (c *Code) Drop() *Code        { return c.op(OpDrop) }
func (c *Code) Return() *Code      { return c.op(OpReturn) }
func (c *Code) End() *Code         { return c.op(OpEnd) }
func (c *Code) Else() *Code        { return c.op(OpElse) }

// Block opens a block yielding at most one result.
func (c *Code) Block(results ...ValType) *Code { return c.block(OpBlock, results) }
func (c *Code) Loop(results ...ValType) *Code  { return c.block(OpLoop, results) }
func (c *Code) If(results ...ValType) *Code    { return c.block(OpIf, results) }

func (c *Code) Br(depth uint32) *Code   { return c.opIdx(OpBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.opIdx(OpBrIf, depth) }
func (c *Code) Call(fn uint32) *Code    { return c.opIdx(OpCall, fn) }

func (c *Code) LocalGet(i uint32) *Code  { return c.opIdx(OpLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.opIdx(OpLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.opIdx(OpLocalTee, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.opIdx(OpGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.opIdx(OpGlobalSet, i) }

func (c *Code) I32Const(v int32) *Code {
	c.buf = append(c.buf, OpI32Const)
	c.buf = AppendSLEB128(c.buf, int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf = append(c.buf, OpI64Const)
	c.buf = AppendSLEB128(c.buf, v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.buf = append(c.buf, OpF32Const)
	c.buf = binary.LittleEndian.AppendUint32(c.buf, math.Float32bits(v))
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.buf = append(c.buf, OpF64Const)
	c.buf = binary.LittleEndian.AppendUint64(c.buf, math.Float64bits(v))
	return c
}

func (c *Code) I32Eqz() *Code  { return c.op(OpI32Eqz) }
func (c *Code) I32Eq() *Code   { return c.op(OpI32Eq) }
func (c *Code) I32Ne() *Code   { return c.op(OpI32Ne) }
func (c *Code) I32LtS() *Code  { return c.op(OpI32LtS) }
func (c *Code) I32LtU() *Code  { return c.op(OpI32LtU) }
func (c *Code) I32GtS() *Code  { return c.op(OpI32GtS) }
func (c *Code) I32GeU() *Code  { return c.op(OpI32GeU) }
func (c *Code) I32Add() *Code  { return c.op(OpI32Add) }
func (c *Code) I32Sub() *Code  { return c.op(OpI32Sub) }
func (c *Code) I32Mul() *Code  { return c.op(OpI32Mul) }
func (c *Code) I32DivS() *Code { return c.op(OpI32DivS) }
func (c *Code) I32DivU() *Code { return c.op(OpI32DivU) }
func (c *Code) I64Add() *Code  { return c.op(OpI64Add) }
func (c *Code) F64Add() *Code  { return c.op(OpF64Add) }

func (c *Code) I32Load(offset uint32) *Code   { return c.opMem(OpI32Load, 2, offset) }
func (c *Code) I64Load(offset uint32) *Code   { return c.opMem(OpI64Load, 3, offset) }
func (c *Code) I32Load8U(offset uint32) *Code { return c.opMem(OpI32Load8U, 0, offset) }
func (c *Code) I32Store(offset uint32) *Code  { return c.opMem(OpI32Store, 2, offset) }
func (c *Code) I64Store(offset uint32) *Code  { return c.opMem(OpI64Store, 3, offset) }
func (c *Code) I32Store8(offset uint32) *Code { return c.opMem(OpI32Store8, 0, offset) }

// MemorySize pushes memory 0's size in pages.
func (c *Code) MemorySize() *Code { return c.op(OpMemorySize, 0x00) }

// MemoryGrow grows memory 0 by the popped page count, pushing the old size
// or -1.
func (c *Code) MemoryGrow() *Code { return c.op(OpMemoryGrow, 0x00) }

// MemoryCopy pops dst, src and n and copies within memory 0.
func (c *Code) MemoryCopy() *Code {
	c.buf = append(c.buf, OpPrefixFC)
	c.buf = AppendULEB128(c.buf, uint64(OpMemoryCopyFC))
	return c.op(0x00, 0x00)
}

// MemoryFill pops dst, value and n.
func (c *Code) MemoryFill() *Code {
	c.buf = append(c.buf, OpPrefixFC)
	c.buf = AppendULEB128(c.buf, uint64(OpMemoryFillFC))
	return c.op(0x00)
}

// I32ConstExpr is a constant expression for a global or data offset.
func I32ConstExpr(v int32) []byte {
	return append(new(Code).I32Const(v).Bytes(), OpEnd)
}

func I64ConstExpr(v int64) []byte {
	return append(new(Code).I64Const(v).Bytes(), OpEnd)
}

func F32ConstExpr(v float32) []byte {
	return append(new(Code).F32Const(v).Bytes(), OpEnd)
}

func F64ConstExpr(v float64) []byte {
	return append(new(Code).F64Const(v).Bytes(), OpEnd)
}

// GlobalGetExpr initializes from an imported global.
func GlobalGetExpr(idx uint32) []byte {
	return append(new(Code).GlobalGet(idx).Bytes(), OpEnd)
}

// ConstExpr returns the constant expression producing a zero-extended raw
// value of type t, as stored on the engine's stack.
func ConstExpr(t ValType, raw uint64) []byte {
	switch t {
	case I64:
		return I64ConstExpr(int64(raw))
	case F32:
		return F32ConstExpr(math.Float32frombits(uint32(raw)))
	case F64:
		return F64ConstExpr(math.Float64frombits(raw))
	}
	return I32ConstExpr(int32(uint32(raw)))
}
