package wasm

import (
	"encoding/binary"
)

// Encode serializes m. It does not validate; an inconsistent module is
// rejected later by the engine's compiler.
func (m *Module) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, Magic)
	out = binary.LittleEndian.AppendUint32(out, Version)

	if len(m.Types) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, 0x60)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = appendName(sec, imp.Module)
			sec = appendName(sec, imp.Name)
			sec = append(sec, byte(imp.Kind))
			switch imp.Kind {
			case ExternFunc:
				sec = AppendULEB128(sec, uint64(imp.TypeIdx))
			case ExternMemory:
				sec = appendLimits(sec, imp.Memory.Limits)
			case ExternGlobal:
				sec = appendGlobalType(sec, *imp.Global)
			}
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Funcs)))
		for _, idx := range m.Funcs {
			sec = AppendULEB128(sec, uint64(idx))
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if len(m.Memories) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Memories)))
		for _, mem := range m.Memories {
			sec = appendLimits(sec, mem.Limits)
		}
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Globals)))
		for _, g := range m.Globals {
			sec = appendGlobalType(sec, g.Type)
			sec = append(sec, g.Init...)
		}
		out = appendSection(out, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Exports)))
		for _, exp := range m.Exports {
			sec = appendName(sec, exp.Name)
			sec = append(sec, byte(exp.Kind))
			sec = AppendULEB128(sec, uint64(exp.Index))
		}
		out = appendSection(out, SectionExport, sec)
	}

	if m.Start != nil {
		out = appendSection(out, SectionStart, AppendULEB128(nil, uint64(*m.Start)))
	}

	if len(m.Code) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Code)))
		for _, body := range m.Code {
			fn := appendLocals(nil, body.Locals)
			fn = append(fn, body.Code...)
			sec = AppendULEB128(sec, uint64(len(fn)))
			sec = append(sec, fn...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if len(m.Data) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.Data)))
		for _, seg := range m.Data {
			if seg.Memory == 0 {
				sec = append(sec, 0x00)
			} else {
				sec = append(sec, 0x02)
				sec = AppendULEB128(sec, uint64(seg.Memory))
			}
			sec = append(sec, seg.Offset...)
			sec = AppendULEB128(sec, uint64(len(seg.Init)))
			sec = append(sec, seg.Init...)
		}
		out = appendSection(out, SectionData, sec)
	}

	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = AppendULEB128(out, uint64(len(content)))
	return append(out, content...)
}

func appendName(out []byte, name string) []byte {
	out = AppendULEB128(out, uint64(len(name)))
	return append(out, name...)
}

func appendValTypes(out []byte, ts []ValType) []byte {
	out = AppendULEB128(out, uint64(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func appendLimits(out []byte, l Limits) []byte {
	if l.Max == nil {
		out = append(out, 0x00)
		return AppendULEB128(out, uint64(l.Min))
	}
	out = append(out, 0x01)
	out = AppendULEB128(out, uint64(l.Min))
	return AppendULEB128(out, uint64(*l.Max))
}

func appendGlobalType(out []byte, g GlobalType) []byte {
	out = append(out, byte(g.Type))
	if g.Mutable {
		return append(out, 0x01)
	}
	return append(out, 0x00)
}

// appendLocals run-length encodes local declarations.
func appendLocals(out []byte, locals []ValType) []byte {
	type run struct {
		t ValType
		n uint32
	}
	var runs []run
	for _, t := range locals {
		if len(runs) > 0 && runs[len(runs)-1].t == t {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{t: t, n: 1})
	}
	out = AppendULEB128(out, uint64(len(runs)))
	for _, r := range runs {
		out = AppendULEB128(out, uint64(r.n))
		out = append(out, byte(r.t))
	}
	return out
}
