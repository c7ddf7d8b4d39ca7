// Package errors provides structured error types for the host bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the symbolic operation, its arguments and the cause chain,
// so failures coming out of the engine keep the engine's own message.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindArityMismatch).
//		Op("add_wasm_is_cool").
//		Args(uint32(12), "extra").
//		Detail("expected 1 params, got 2").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseMemory, "write", 96, 8, 100)
//	err := errors.ExportNotFound("add_one")
//
// All errors implement the standard error interface and support errors.Is/As.
// Kind sentinels such as ErrOutOfBounds match any error of that kind:
//
//	if errors.Is(err, hberrors.ErrOutOfBounds) { ... }
package errors
