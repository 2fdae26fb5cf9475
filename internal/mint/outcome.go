package mint

import (
	"NaiVault/internal/event"
	fpmath "NaiVault/internal/math"
	"errors"
	"fmt"
)

// Outcome is the observed result slot of a mint call.
type Outcome struct {
	Status  event.MintStatus
	Payload []byte
	Reason  string
}

func Succeeded(payload []byte) Outcome {
	return Outcome{Status: event.MintStatusSucceeded, Payload: payload}
}

func Failed(reason string) Outcome {
	return Outcome{Status: event.MintStatusFailed, Reason: reason}
}

// Resolution says how an outcome turned into a settled amount.
type Resolution string

const (
	ResolutionMinted            Resolution = "minted"
	ResolutionMalformedResponse Resolution = "malformed_response"
	ResolutionRemoteFailure     Resolution = "remote_failure"
)

var ErrFatal = errors.New("fatal")

// FatalError aborts the call that raised it. It is raised with panic and
// recovered at the entry point that owns the call.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("FATAL: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() []error {
	return []error{ErrFatal, e.Err}
}

var ErrOutcomePending = errors.New("mint outcome observed before the call settled")

// Resolve maps an outcome to the amount actually minted. The issuer's success or
// failure signal is authoritative: a success whose payload is not a JSON U128
// settles as zero, and so does a failure. A pending outcome is a host contract
// violation and panics with *FatalError.
func Resolve(o Outcome) (fpmath.U128, Resolution) {
	switch o.Status {
	case event.MintStatusSucceeded:
		amount, err := fpmath.ParseU128JSON(o.Payload)
		if err != nil {
			return fpmath.U128{}, ResolutionMalformedResponse
		}
		return amount, ResolutionMinted
	case event.MintStatusFailed:
		return fpmath.U128{}, ResolutionRemoteFailure
	case event.MintStatusPending:
		panic(&FatalError{Op: "resolve mint outcome", Err: ErrOutcomePending})
	}
	panic(&FatalError{Op: "resolve mint outcome", Err: fmt.Errorf("unknown status %d", o.Status)})
}
