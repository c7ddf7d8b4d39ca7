package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode  Phase = "encode"  // host bytes to guest buffer
	PhaseDecode  Phase = "decode"  // guest buffer to host bytes
	PhaseMemory  Phase = "memory"  // linear memory access
	PhaseCall    Phase = "call"    // export invocation
	PhaseLinking Phase = "linking" // import resolution
	PhaseLoad    Phase = "load"    // module loading
	PhaseHost    Phase = "host"    // host function registration
	PhaseConfig  Phase = "config"  // manifest and options
	PhaseParse   Phase = "parse"   // binary and signature parsing
	PhaseRuntime Phase = "runtime" // lifecycle operations
)

// Kind categorizes the error
type Kind string

const (
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindUnterminatedBuffer Kind = "unterminated_buffer"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindStaleView          Kind = "stale_view"
	KindExportNotFound     Kind = "export_not_found"
	KindArityMismatch      Kind = "arity_mismatch"
	KindTrap               Kind = "trap"
	KindHostInterrupted    Kind = "host_interrupted"
	KindImportResolution   Kind = "import_resolution"
	KindEngine             Kind = "engine"
	KindClosed             Kind = "closed"
	KindTypeMismatch       Kind = "type_mismatch"
	KindInvalidData        Kind = "invalid_data"
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
)

// Kind sentinels. errors.Is(err, ErrTrap) reports whether err is a trap,
// regardless of phase.
var (
	ErrCapacityExceeded   = &Error{Kind: KindCapacityExceeded}
	ErrUnterminatedBuffer = &Error{Kind: KindUnterminatedBuffer}
	ErrOutOfBounds        = &Error{Kind: KindOutOfBounds}
	ErrStaleView          = &Error{Kind: KindStaleView}
	ErrExportNotFound     = &Error{Kind: KindExportNotFound}
	ErrArityMismatch      = &Error{Kind: KindArityMismatch}
	ErrTrap               = &Error{Kind: KindTrap}
	ErrHostInterrupted    = &Error{Kind: KindHostInterrupted}
	ErrImportResolution   = &Error{Kind: KindImportResolution}
	ErrEngine             = &Error{Kind: KindEngine}
	ErrClosed             = &Error{Kind: KindClosed}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
	Args   []any
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
		b.WriteByte('(')
		for i, a := range e.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%v", a)
		}
		b.WriteByte(')')
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(firstLine(e.Cause.Error()))
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. An empty Phase on the
// target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// Is forwards to the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As forwards to the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the symbolic operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Args sets the operation arguments shown in diagnostics
func (b *Builder) Args(args ...any) *Builder {
	b.err.Args = args
	return b
}

// Path sets the item path, e.g. module and import name
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// CapacityExceeded creates an error for a payload that does not fit the guest buffer
func CapacityExceeded(op string, need, capacity uint64) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindCapacityExceeded,
		Op:     op,
		Detail: fmt.Sprintf("need %d bytes, buffer capacity is %d", need, capacity),
		Value:  need,
	}
}

// UnterminatedBuffer creates an error for a missing terminator within maxScan bytes
func UnterminatedBuffer(maxScan uint32) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnterminatedBuffer,
		Detail: fmt.Sprintf("no terminator within %d bytes", maxScan),
		Value:  maxScan,
	}
}

// OutOfBounds creates an out of bounds error for an access of length bytes at offset
func OutOfBounds(phase Phase, op string, offset, length, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Op:     op,
		Args:   []any{offset, length},
		Detail: fmt.Sprintf("range [%d, %d) exceeds length %d", offset, offset+length, size),
		Value:  offset,
	}
}

// StaleView creates an error for a memory view used after a guest call
func StaleView(op string, viewGen, currentGen uint64) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindStaleView,
		Op:     op,
		Detail: fmt.Sprintf("view generation %d, memory generation %d; re-acquire the view after every call", viewGen, currentGen),
	}
}

// ExportNotFound creates an error for a missing guest export
func ExportNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindExportNotFound,
		Op:     name,
		Detail: fmt.Sprintf("export %q not found", name),
	}
}

// ArityMismatch creates an error for a call whose arguments or results disagree with the export
func ArityMismatch(name string, args []any, detail string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindArityMismatch,
		Op:     name,
		Args:   args,
		Detail: detail,
	}
}

// Trap creates an error for a guest execution aborted by the engine
func Trap(name string, args []any, reason string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindTrap,
		Op:     name,
		Args:   args,
		Detail: reason,
		Cause:  cause,
	}
}

// HostInterrupted creates an error for a guest call unwound by a host import
func HostInterrupted(name string, args []any, code uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindHostInterrupted,
		Op:     name,
		Args:   args,
		Detail: fmt.Sprintf("interrupted by host (code %d)", code),
		Value:  code,
		Cause:  cause,
	}
}

// ImportResolution creates an import resolution error for module.name
func ImportResolution(module, name, detail string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindImportResolution,
		Path:   []string{module, name},
		Detail: detail,
	}
}

// Engine wraps an engine failure, keeping the engine message as the cause
func Engine(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindEngine,
		Op:    op,
		Cause: cause,
	}
}

// Closed creates an error for use of a released handle
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Path:   []string{name},
		Detail: what + " not found",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// UnresolvedImport is a single guest import the import set could not satisfy.
type UnresolvedImport struct {
	Module string
	Name   string
	Reason string
}

// UnresolvedImports collects every failed import of one instantiation into a
// single import_resolution error.
func UnresolvedImports(missing []UnresolvedImport) *Error {
	if len(missing) == 1 {
		return ImportResolution(missing[0].Module, missing[0].Name, missing[0].Reason)
	}
	parts := make([]string, 0, len(missing))
	for _, m := range missing {
		parts = append(parts, fmt.Sprintf("%s.%s: %s", m.Module, m.Name, m.Reason))
	}
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindImportResolution,
		Detail: fmt.Sprintf("%d imports unresolved: %s", len(missing), strings.Join(parts, "; ")),
		Value:  missing,
	}
}

// wazero errors append multi-line stack traces; diagnostics keep the first line.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
