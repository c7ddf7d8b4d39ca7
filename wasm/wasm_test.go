package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-hostbridge/errors"
)

func TestLEB128(t *testing.T) {
	unsigned := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
		{0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range unsigned {
		got := AppendULEB128(nil, tt.v)
		assert.Equal(t, tt.want, got, "encode %d", tt.v)

		v, n, err := ReadULEB128(got, 64)
		require.NoError(t, err)
		assert.Equal(t, tt.v, v)
		assert.Equal(t, len(got), n)
	}

	signed := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-123456, []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range signed {
		got := AppendSLEB128(nil, tt.v)
		assert.Equal(t, tt.want, got, "encode %d", tt.v)

		v, n, err := ReadSLEB128(got, 64)
		require.NoError(t, err)
		assert.Equal(t, tt.v, v)
		assert.Equal(t, len(got), n)
	}
}

func TestLEB128_Errors(t *testing.T) {
	_, _, err := ReadULEB128([]byte{0x80, 0x80}, 32)
	assert.True(t, errors.IsKind(err, errors.KindInvalidData), "truncated")

	_, _, err = ReadULEB128([]byte{0xff, 0xff, 0xff, 0xff, 0x1f}, 32)
	assert.True(t, errors.IsKind(err, errors.KindInvalidData), "exceeds 32 bits")

	_, _, err = ReadULEB128([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, 32)
	assert.True(t, errors.IsKind(err, errors.KindInvalidData), "too many bytes")

	_, _, err = ReadSLEB128(nil, 32)
	assert.Error(t, err)
}

func testModule() *Module {
	maxPages := uint32(4)
	return &Module{
		Types: []FuncType{
			{Params: []ValType{I32}, Results: []ValType{I32}},
			{},
		},
		Imports: []Import{
			{Module: "env", Name: "log", Kind: ExternFunc, TypeIdx: 1},
			{Module: "env", Name: "memory", Kind: ExternMemory, Memory: &MemoryType{Limits: Limits{Min: 1, Max: &maxPages}}},
			{Module: "env", Name: "__memory_base", Kind: ExternGlobal, Global: &GlobalType{Type: I32}},
		},
		Funcs: []uint32{0},
		Globals: []Global{
			{Type: GlobalType{Type: I64, Mutable: true}, Init: I64ConstExpr(-1)},
			{Type: GlobalType{Type: I32}, Init: GlobalGetExpr(0)},
		},
		Exports: []Export{
			{Name: "add_one", Kind: ExternFunc, Index: 1},
			{Name: "log", Kind: ExternFunc, Index: 0},
			{Name: "memory", Kind: ExternMemory, Index: 0},
			{Name: "counter", Kind: ExternGlobal, Index: 1},
		},
		Code: []FuncBody{
			new(Code).Call(0).LocalGet(0).I32Const(1).I32Add().Body(I32, I32, I64),
		},
		Data: []DataSegment{
			{Offset: I32ConstExpr(2048), Init: []byte(" Wasm is cool!\x00")},
		},
	}
}

func TestEncodeDescribe(t *testing.T) {
	bin := testModule().Encode()
	require.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, bin[:8])

	desc, err := Describe(bin)
	require.NoError(t, err)

	require.Len(t, desc.Imports, 3)
	assert.Equal(t, "env.log", desc.Imports[0].Key())
	assert.Equal(t, ExternFunc, desc.Imports[0].Type.Kind)
	assert.True(t, desc.Imports[0].Type.Func.Equal(FuncType{}))

	mem := desc.Imports[1].Type.Memory
	require.NotNil(t, mem)
	assert.Equal(t, uint32(1), mem.Limits.Min)
	require.NotNil(t, mem.Limits.Max)
	assert.Equal(t, uint32(4), *mem.Limits.Max)

	g := desc.Imports[2].Type.Global
	require.NotNil(t, g)
	assert.Equal(t, GlobalType{Type: I32}, *g)

	assert.Equal(t, 1, desc.Memories)

	require.Len(t, desc.Exports, 4)
	addOne, ok := desc.Export("add_one")
	require.True(t, ok)
	assert.Equal(t, "(i32) -> (i32)", addOne.Type.Func.String())

	logExp, ok := desc.Export("log")
	require.True(t, ok)
	assert.Equal(t, "func () -> ()", logExp.Type.String())

	memExp, ok := desc.Export("memory")
	require.True(t, ok)
	assert.Equal(t, "memory {min 1, max 4}", memExp.Type.String())

	counter, ok := desc.Export("counter")
	require.True(t, ok)
	assert.Equal(t, GlobalType{Type: I64, Mutable: true}, *counter.Type.Global)

	_, ok = desc.Export("missing")
	assert.False(t, ok)

	assert.Len(t, desc.ImportsOf(ExternGlobal), 1)
	assert.Len(t, desc.ImportsOf(ExternTable), 0)
}

func TestDescribe_Malformed(t *testing.T) {
	bin := testModule().Encode()

	tests := map[string][]byte{
		"empty":           nil,
		"bad magic":       []byte("\x00asx\x01\x00\x00\x00"),
		"bad version":     []byte("\x00asm\x02\x00\x00\x00"),
		"truncated":       bin[:len(bin)-3],
		"section overrun": append(append([]byte{}, bin[:8]...), SectionType, 0x7f, 0x01),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Describe(in)
			assert.True(t, errors.IsKind(err, errors.KindInvalidData), "got %v", err)
		})
	}
}

func TestDescribe_ExportIndexOutOfRange(t *testing.T) {
	m := &Module{Exports: []Export{{Name: "nope", Kind: ExternFunc, Index: 3}}}
	_, err := Describe(m.Encode())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestCode(t *testing.T) {
	body := new(Code).
		LocalGet(0).
		If().
		Unreachable().
		End().
		I32Const(-1).
		MemoryCopy().
		Body()
	assert.Equal(t, []byte{
		OpLocalGet, 0x00,
		OpIf, 0x40,
		OpUnreachable,
		OpEnd,
		OpI32Const, 0x7f,
		0xfc, 0x0a, 0x00, 0x00,
		OpEnd,
	}, body.Code)

	assert.Equal(t, []byte{OpI32Load, 0x02, 0x80, 0x08}, new(Code).I32Load(1024).Bytes())
	assert.Equal(t, []byte{OpI32Const, 0x80, 0x10, OpEnd}, I32ConstExpr(2048))
	assert.Equal(t, I32ConstExpr(-1), ConstExpr(I32, 0xffffffff))
}

func TestLimitsSatisfies(t *testing.T) {
	u := func(v uint32) *uint32 { return &v }

	tests := []struct {
		name       string
		have, want Limits
		ok         bool
	}{
		{"exact", Limits{Min: 1}, Limits{Min: 1}, true},
		{"bigger min", Limits{Min: 2}, Limits{Min: 1}, true},
		{"smaller min", Limits{Min: 1}, Limits{Min: 2}, false},
		{"max within", Limits{Min: 1, Max: u(2)}, Limits{Min: 1, Max: u(4)}, true},
		{"max above", Limits{Min: 1, Max: u(8)}, Limits{Min: 1, Max: u(4)}, false},
		{"unbounded vs bounded", Limits{Min: 1}, Limits{Min: 1, Max: u(4)}, false},
		{"bounded vs unbounded", Limits{Min: 1, Max: u(4)}, Limits{Min: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.have.Satisfies(tt.want))
		})
	}
}
