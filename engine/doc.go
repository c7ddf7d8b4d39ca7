// Package engine binds the bridge to wazero.
//
// # Architecture
//
// The engine package provides four main types:
//
//	Engine   - Shared configuration and compilation cache, creates stores
//	Store    - One wazero runtime: module namespace, generation clock, last error
//	Module   - A compiled guest with its import/export description
//	Instance - A running guest with typed export calls and memory views
//
// # Instantiation Flow
//
//  1. Store.Compile() validates the binary and reads its imports and exports
//  2. Imports collects host functions, memories and globals by (module, name)
//  3. Store.Instantiate() checks every guest import against Imports, links
//     the set into the store and only then instantiates the guest
//  4. Instance.Invoke() calls exports with tagged scalars
//
// A namespace offering only functions becomes a wazero host module. A
// namespace that also offers a memory or globals becomes a small generated
// wasm module that defines them and re-exports the host functions, since
// host modules can only export functions.
//
// Store.EnableWASI adds wazero's wasi_snapshot_preview1 to the store. Guest
// imports from that namespace are checked against its exports, and every
// later instance gets the configured stdio, args and environment.
//
// # Call Outcomes
//
// Every call ends as one of: ok, trap (the guest aborted, including context
// cancellation), host_interrupted (a host import returned an error or called
// Interrupt), or a rejection before entering the guest (export_not_found,
// arity_mismatch, closed). The store's LastError reflects the most recent
// operation and is cleared by a success.
//
// # Memory Generations
//
// The store clock advances before and after every guest call and on every
// host-side Memory.Grow. Views stamped with an older generation fail with
// stale_view.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Store and Instance are NOT thread-safe
// and should be used by a single goroutine.
//
// Most users should use the runtime package for a simpler API.
package engine
