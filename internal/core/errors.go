package core

import (
	"NaiVault/internal/gate"
	"NaiVault/internal/ledger"
	"NaiVault/internal/mint"
	"errors"
)

var (
	// ErrRejected marks a final business decision: the event is consumed and
	// has no effect. Redelivery is treated as a duplicate.
	ErrRejected = errors.New("event rejected")

	ErrOutOfOrder  = errors.New("out-of-order event")
	ErrSequenceGap = errors.New("sequence gap")

	// ErrFatal is mint.ErrFatal: the call aborted with state untouched.
	ErrFatal = mint.ErrFatal
)

// RejectReason maps an error from ProcessEvent to a short label.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gate.ErrRejected):
		return gate.Reason(err)
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, ledger.ErrInvalidAccountID):
		return "invalid_account"
	case errors.Is(err, mint.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, mint.ErrZeroBorrow):
		return "zero_borrow"
	case errors.Is(err, mint.ErrUnknownCall):
		return "unknown_call"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrSequenceGap):
		return "sequence_gap"
	case errors.Is(err, ErrFatal):
		return "fatal"
	}
	return "error"
}
