package engine

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-hostbridge/errors"
)

// Interrupt codes used by the bridge itself. Host code may use any other
// value with Interrupt.
const (
	// InterruptRequested is the code of a bare Interrupt call made by an
	// interrupt-only import such as RegisterInterrupt.
	InterruptRequested uint32 = 1
	// InterruptHostError marks a host function that returned an error.
	InterruptHostError uint32 = 2
	// InterruptBadResults marks a host function whose results disagree with
	// its declared result types.
	InterruptBadResults uint32 = 3
)

// InterruptError unwinds a guest call from inside a host function. The call
// fails with host_interrupted; the instance stays usable.
type InterruptError struct {
	Cause  error
	Import string
	Code   uint32
}

func (e *InterruptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host interrupt %d", e.Code)
	if e.Import != "" {
		b.WriteString(" from ")
		b.WriteString(e.Import)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *InterruptError) Unwrap() error {
	return e.Cause
}

// Interrupt aborts the guest call that invoked the current host function.
// It never returns. Only call it from a HostFunc.
func Interrupt(code uint32) {
	panic(&InterruptError{Code: code})
}

// InterruptWith is Interrupt carrying a cause.
func InterruptWith(code uint32, cause error) {
	panic(&InterruptError{Code: code, Cause: cause})
}

// classify turns an error returned by wazero's Call into the bridge
// taxonomy.
func classify(export string, args []any, err error) *errors.Error {
	var ie *InterruptError
	if errors.As(err, &ie) {
		cause := ie.Cause
		if cause == nil {
			cause = ie
		}
		return errors.HostInterrupted(export, args, ie.Code, cause)
	}

	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeContextCanceled:
			return errors.Trap(export, args, "context canceled", err)
		case sys.ExitCodeDeadlineExceeded:
			return errors.Trap(export, args, "context deadline exceeded", err)
		}
		return errors.HostInterrupted(export, args, exit.ExitCode(), err)
	}

	if reason, ok := trapReason(err.Error()); ok {
		return errors.Trap(export, args, reason, err)
	}

	e := errors.Engine(errors.PhaseCall, export, err)
	e.Args = args
	return e
}

const trapPrefix = "wasm error: "

// trapReason extracts "integer divide by zero" from
// "wasm error: integer divide by zero\nwasm stack trace: ...". Start
// function failures carry a "start function[1] failed: " prefix.
func trapReason(msg string) (string, bool) {
	i := strings.Index(msg, trapPrefix)
	if i < 0 {
		return "", false
	}
	msg = msg[i+len(trapPrefix):]
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg, true
}
