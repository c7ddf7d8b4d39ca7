package engine

import (
	"time"

	"github.com/wippyai/wasm-hostbridge/errors"
)

// Outcome is the terminal state of a guest call.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeTrap        Outcome = "trap"
	OutcomeInterrupted Outcome = "host_interrupted"
	// OutcomeRejected covers calls refused before entering the guest:
	// unknown export, arity mismatch, closed instance.
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// OutcomeOf maps a call error to its outcome.
func OutcomeOf(err error) Outcome {
	switch errors.KindOf(err) {
	case "":
		if err == nil {
			return OutcomeOK
		}
		return OutcomeError
	case errors.KindTrap:
		return OutcomeTrap
	case errors.KindHostInterrupted:
		return OutcomeInterrupted
	case errors.KindExportNotFound, errors.KindArityMismatch, errors.KindClosed:
		return OutcomeRejected
	}
	return OutcomeError
}

// Direction of a host memory transfer.
type Direction string

const (
	DirectionWrite Direction = "write" // host to guest
	DirectionRead  Direction = "read"  // guest to host
)

// CallObserver receives call and transfer events from a store. Methods run
// on the calling goroutine and must not block.
type CallObserver interface {
	ObserveCall(export string, outcome Outcome, d time.Duration)
	ObserveMemory(direction Direction, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, Outcome, time.Duration) {}
func (nopObserver) ObserveMemory(Direction, int)               {}
