package wasm

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/wippyai/wasm-hostbridge/errors"
)

// ImportDesc is a guest import with its resolved type.
type ImportDesc struct {
	Module string
	Name   string
	Type   ExternType
}

// Key renders the import as "module.name".
func (i ImportDesc) Key() string {
	return i.Module + "." + i.Name
}

// ExportDesc is a guest export with its resolved type.
type ExportDesc struct {
	Name  string
	Type  ExternType
	Index uint32
}

// Description lists what a module imports and exports, in declaration
// order.
type Description struct {
	Imports []ImportDesc
	Exports []ExportDesc
	// Memories counts imported and defined memories.
	Memories int
}

// Export looks an export up by name.
func (d *Description) Export(name string) (ExportDesc, bool) {
	for _, e := range d.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return ExportDesc{}, false
}

// ImportsOf returns the imports of kind k.
func (d *Description) ImportsOf(k ExternKind) []ImportDesc {
	var out []ImportDesc
	for _, imp := range d.Imports {
		if imp.Type.Kind == k {
			out = append(out, imp)
		}
	}
	return out
}

// Describe decodes the type, import, function, table, memory, global and
// export sections of bin. Other sections are skipped unread.
func Describe(bin []byte) (*Description, error) {
	r := &reader{buf: bin}
	magic, err := r.u32le()
	if err != nil || magic != Magic {
		return nil, errors.InvalidData(errors.PhaseDecode, "not a wasm binary: bad magic")
	}
	version, err := r.u32le()
	if err != nil || version != Version {
		return nil, errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("unsupported wasm version %d", version))
	}

	var (
		types    []FuncType
		funcs    []*FuncType
		tables   []*TableType
		memories []*MemoryType
		globals  []*GlobalType
		desc     = &Description{}
	)

	for !r.done() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(size)
		if err != nil {
			return nil, sectionError(id, err)
		}
		sec := &reader{buf: body}

		switch id {
		case SectionType:
			types, err = readTypes(sec)
		case SectionImport:
			err = sec.vec(func() error {
				imp, err := readImport(sec, types)
				if err != nil {
					return err
				}
				switch imp.Type.Kind {
				case ExternFunc:
					funcs = append(funcs, imp.Type.Func)
				case ExternTable:
					tables = append(tables, imp.Type.Table)
				case ExternMemory:
					memories = append(memories, imp.Type.Memory)
				case ExternGlobal:
					globals = append(globals, imp.Type.Global)
				}
				desc.Imports = append(desc.Imports, imp)
				return nil
			})
		case SectionFunction:
			err = sec.vec(func() error {
				ft, err := sec.typeRef(types)
				if err != nil {
					return err
				}
				funcs = append(funcs, ft)
				return nil
			})
		case SectionTable:
			err = sec.vec(func() error {
				tt, err := sec.tableType()
				if err != nil {
					return err
				}
				tables = append(tables, tt)
				return nil
			})
		case SectionMemory:
			err = sec.vec(func() error {
				l, err := sec.limits()
				if err != nil {
					return err
				}
				memories = append(memories, &MemoryType{Limits: l})
				return nil
			})
		case SectionGlobal:
			err = sec.vec(func() error {
				gt, err := sec.globalType()
				if err != nil {
					return err
				}
				if err := sec.skipConstExpr(); err != nil {
					return err
				}
				globals = append(globals, gt)
				return nil
			})
		case SectionExport:
			err = sec.vec(func() error {
				exp, err := readExport(sec, funcs, tables, memories, globals)
				if err != nil {
					return err
				}
				desc.Exports = append(desc.Exports, exp)
				return nil
			})
		}
		if err != nil {
			return nil, sectionError(id, err)
		}
	}
	desc.Memories = len(memories)
	return desc, nil
}

func sectionError(id byte, err error) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Op("describe").
		Cause(err).
		Detail("section %d", id).
		Build()
}

func readTypes(r *reader) ([]FuncType, error) {
	var types []FuncType
	err := r.vec(func() error {
		form, err := r.byte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("unsupported type form 0x%x", form))
		}
		params, err := r.valTypes()
		if err != nil {
			return err
		}
		results, err := r.valTypes()
		if err != nil {
			return err
		}
		types = append(types, FuncType{Params: params, Results: results})
		return nil
	})
	return types, err
}

func readImport(r *reader, types []FuncType) (ImportDesc, error) {
	var imp ImportDesc
	var err error
	if imp.Module, err = r.name(); err != nil {
		return imp, err
	}
	if imp.Name, err = r.name(); err != nil {
		return imp, err
	}
	kind, err := r.byte()
	if err != nil {
		return imp, err
	}
	imp.Type.Kind = ExternKind(kind)
	switch imp.Type.Kind {
	case ExternFunc:
		imp.Type.Func, err = r.typeRef(types)
	case ExternTable:
		imp.Type.Table, err = r.tableType()
	case ExternMemory:
		var l Limits
		l, err = r.limits()
		imp.Type.Memory = &MemoryType{Limits: l}
	case ExternGlobal:
		imp.Type.Global, err = r.globalType()
	default:
		err = errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("import %s.%s: unsupported kind 0x%x", imp.Module, imp.Name, kind))
	}
	return imp, err
}

func readExport(r *reader, funcs []*FuncType, tables []*TableType, memories []*MemoryType, globals []*GlobalType) (ExportDesc, error) {
	var exp ExportDesc
	var err error
	if exp.Name, err = r.name(); err != nil {
		return exp, err
	}
	kind, err := r.byte()
	if err != nil {
		return exp, err
	}
	if exp.Index, err = r.u32(); err != nil {
		return exp, err
	}
	exp.Type.Kind = ExternKind(kind)

	outOfRange := func(n int) error {
		if int(exp.Index) < n {
			return nil
		}
		return errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("export %q: %s index %d out of range", exp.Name, exp.Type.Kind, exp.Index))
	}
	switch exp.Type.Kind {
	case ExternFunc:
		if err = outOfRange(len(funcs)); err == nil {
			exp.Type.Func = funcs[exp.Index]
		}
	case ExternTable:
		if err = outOfRange(len(tables)); err == nil {
			exp.Type.Table = tables[exp.Index]
		}
	case ExternMemory:
		if err = outOfRange(len(memories)); err == nil {
			exp.Type.Memory = memories[exp.Index]
		}
	case ExternGlobal:
		if err = outOfRange(len(globals)); err == nil {
			exp.Type.Global = globals[exp.Index]
		}
	default:
		err = errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("export %q: unsupported kind 0x%x", exp.Name, kind))
	}
	return exp, err
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) done() bool { return r.pos >= len(r.buf) }

func (r *reader) eof() error {
	return errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("unexpected end of input at offset %d", r.pos))
}

func (r *reader) byte() (byte, error) {
	if r.done() {
		return 0, r.eof()
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if uint64(r.pos)+uint64(n) > uint64(len(r.buf)) {
		return nil, r.eof()
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) u32le() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u32() (uint32, error) {
	v, n, err := ReadULEB128(r.buf[r.pos:], 32)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return uint32(v), nil
}

func (r *reader) s64(bits uint) error {
	_, n, err := ReadSLEB128(r.buf[r.pos:], bits)
	if err != nil {
		return err
	}
	r.pos += n
	return nil
}

func (r *reader) vec(each func() error) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := each(); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidData(errors.PhaseDecode, "name is not valid UTF-8")
	}
	return string(b), nil
}

func (r *reader) valType() (ValType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch t := ValType(b); t {
	case I32, I64, F32, F64, V128, FuncRef, ExternRef:
		return t, nil
	}
	return 0, errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("unsupported value type 0x%x", b))
}

func (r *reader) valTypes() ([]ValType, error) {
	var out []ValType
	err := r.vec(func() error {
		t, err := r.valType()
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func (r *reader) typeRef(types []FuncType) (*FuncType, error) {
	idx, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(idx) >= len(types) {
		return nil, errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("type index %d out of range", idx))
	}
	ft := types[idx]
	return &ft, nil
}

func (r *reader) limits() (Limits, error) {
	flag, err := r.byte()
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	if l.Min, err = r.u32(); err != nil {
		return l, err
	}
	switch flag {
	case 0x00:
	case 0x01, 0x03: // 0x03 is shared memory
		maxPages, err := r.u32()
		if err != nil {
			return l, err
		}
		l.Max = &maxPages
	default:
		return l, errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("unsupported limits flag 0x%x", flag))
	}
	return l, nil
}

func (r *reader) tableType() (*TableType, error) {
	et, err := r.valType()
	if err != nil {
		return nil, err
	}
	l, err := r.limits()
	if err != nil {
		return nil, err
	}
	return &TableType{ElemType: et, Limits: l}, nil
}

func (r *reader) globalType() (*GlobalType, error) {
	t, err := r.valType()
	if err != nil {
		return nil, err
	}
	mut, err := r.byte()
	if err != nil {
		return nil, err
	}
	if mut > 1 {
		return nil, errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("invalid global mutability 0x%x", mut))
	}
	return &GlobalType{Type: t, Mutable: mut == 1}, nil
}

// skipConstExpr consumes a constant expression through its end opcode.
func (r *reader) skipConstExpr() error {
	for {
		op, err := r.byte()
		if err != nil {
			return err
		}
		switch op {
		case OpEnd:
			return nil
		case OpI32Const:
			err = r.s64(32)
		case OpI64Const:
			err = r.s64(64)
		case OpF32Const:
			_, err = r.bytes(4)
		case OpF64Const:
			_, err = r.bytes(8)
		case OpGlobalGet, 0xd2: // ref.func
			_, err = r.u32()
		case 0xd0: // ref.null
			_, err = r.byte()
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, 0x7d, 0x7e:
		default:
			return errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("unsupported constant opcode 0x%x", op))
		}
		if err != nil {
			return err
		}
	}
}
