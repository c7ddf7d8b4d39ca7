package wasm

import (
	"fmt"
	"strings"
)

const (
	Magic   uint32 = 0x6d736100 // \0asm
	Version uint32 = 1
)

// Section ids.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionTable    byte = 4
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionStart    byte = 8
	SectionElement  byte = 9
	SectionCode     byte = 10
	SectionData     byte = 11
)

// ValType is a value type byte.
type ValType byte

const (
	I32       ValType = 0x7f
	I64       ValType = 0x7e
	F32       ValType = 0x7d
	F64       ValType = 0x7c
	V128      ValType = 0x7b
	FuncRef   ValType = 0x70
	ExternRef ValType = 0x6f
)

func (t ValType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	}
	return fmt.Sprintf("valtype(0x%x)", byte(t))
}

// ExternKind is the kind byte of an import or export.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0
	ExternTable  ExternKind = 1
	ExternMemory ExternKind = 2
	ExternGlobal ExternKind = 3
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	}
	return fmt.Sprintf("extern(%d)", byte(k))
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether both signatures have identical params and results.
func (f FuncType) Equal(o FuncType) bool {
	return valTypesEqual(f.Params, o.Params) && valTypesEqual(f.Results, o.Results)
}

func (f FuncType) String() string {
	return "(" + joinValTypes(f.Params) + ") -> (" + joinValTypes(f.Results) + ")"
}

func valTypesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinValTypes(ts []ValType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// Limits bounds a memory or table in pages or elements. A nil Max means
// unbounded.
type Limits struct {
	Max *uint32
	Min uint32
}

func (l Limits) String() string {
	if l.Max == nil {
		return fmt.Sprintf("{min %d}", l.Min)
	}
	return fmt.Sprintf("{min %d, max %d}", l.Min, *l.Max)
}

// Satisfies reports whether a memory with limits l may be supplied for an
// import declaring want: l must be at least as large and, when want has a
// maximum, no larger than it.
func (l Limits) Satisfies(want Limits) bool {
	if l.Min < want.Min {
		return false
	}
	if want.Max != nil {
		if l.Max == nil || *l.Max > *want.Max {
			return false
		}
	}
	return true
}

// MemoryType describes a linear memory in 64KiB pages.
type MemoryType struct {
	Limits Limits
}

func (m MemoryType) String() string {
	return "memory " + m.Limits.String()
}

// TableType describes a table. Tables are decoded so that index spaces
// stay correct, but the bridge never links them.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// GlobalType describes a global variable.
type GlobalType struct {
	Type    ValType
	Mutable bool
}

func (g GlobalType) String() string {
	if g.Mutable {
		return "global (mut " + g.Type.String() + ")"
	}
	return "global " + g.Type.String()
}

// ExternType is the resolved type of an import or export. Exactly one of the
// pointers matching Kind is set.
type ExternType struct {
	Func   *FuncType
	Table  *TableType
	Memory *MemoryType
	Global *GlobalType
	Kind   ExternKind
}

func (e ExternType) String() string {
	switch {
	case e.Func != nil:
		return "func " + e.Func.String()
	case e.Memory != nil:
		return e.Memory.String()
	case e.Global != nil:
		return e.Global.String()
	case e.Table != nil:
		return "table " + e.Table.Limits.String()
	}
	return e.Kind.String()
}

// Import is an entry of the import section. For functions TypeIdx indexes
// Module.Types; for memories and globals the matching pointer is set.
type Import struct {
	Memory  *MemoryType
	Global  *GlobalType
	Module  string
	Name    string
	TypeIdx uint32
	Kind    ExternKind
}

// Export is an entry of the export section.
type Export struct {
	Name  string
	Index uint32
	Kind  ExternKind
}

// Global is a module-defined global. Init is a constant expression
// including its end opcode; see I32ConstExpr and friends.
type Global struct {
	Init []byte
	Type GlobalType
}

// FuncBody is a function body. Code includes the final end opcode.
type FuncBody struct {
	Locals []ValType
	Code   []byte
}

// DataSegment is an active data segment.
type DataSegment struct {
	Offset []byte
	Init   []byte
	Memory uint32
}

// Module is the encodable subset of a wasm module.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Code     []FuncBody
	Data     []DataSegment

	// Start is the function index run at instantiation, if any.
	Start *uint32
}

// ImportedFuncs returns how many function imports m declares.
func (m *Module) ImportedFuncs() uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind == ExternFunc {
			n++
		}
	}
	return n
}
