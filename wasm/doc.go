// Package wasm reads and writes the parts of the WebAssembly binary format
// the host bridge needs.
//
// Two jobs drive it. The linker must know every import a guest declares,
// with its full type, before instantiating anything, and wazero does not
// report imported globals. And host-provided memories and globals must be
// exported from a module, which wazero's host module builder cannot do, so
// those namespaces are synthesized as small wasm modules.
//
// # Describing a module
//
//	desc, err := wasm.Describe(bin)
//	for _, imp := range desc.Imports {
//	    fmt.Println(imp.Module, imp.Name, imp.Type)
//	}
//
// # Building a module
//
//	m := &wasm.Module{
//	    Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.I32}, Results: []wasm.ValType{wasm.I32}}},
//	    Funcs: []uint32{0},
//	    Code: []wasm.FuncBody{
//	        new(wasm.Code).LocalGet(0).I32Const(1).I32Add().Body(),
//	    },
//	    Exports: []wasm.Export{{Name: "add_one", Kind: wasm.ExternFunc, Index: 0}},
//	}
//	bin := m.Encode()
package wasm
