package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	fpmath "NaiVault/internal/math"
)

var ErrMalformedMessage = errors.New("malformed transfer message")

// TransferAction is what an inbound transfer asks the vault to do.
type TransferAction string

const (
	ActionDeposit TransferAction = "deposit"
	ActionBorrow  TransferAction = "borrow"
)

// TransferMessage is the parsed message attached to an inbound transfer.
type TransferMessage struct {
	Action       TransferAction `json:"action"`
	BorrowAmount *fpmath.U128   `json:"borrow_amount,omitempty"`
}

// ParseTransferMessage accepts an empty message (plain deposit),
// {"action":"deposit"} or {"action":"borrow","borrow_amount":"<u128>"} with a
// positive amount. Anything else is ErrMalformedMessage.
func ParseTransferMessage(msg string) (TransferMessage, error) {
	if msg == "" {
		return TransferMessage{Action: ActionDeposit}, nil
	}

	var m TransferMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(msg)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return TransferMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if dec.More() {
		return TransferMessage{}, fmt.Errorf("%w: trailing data", ErrMalformedMessage)
	}

	switch m.Action {
	case ActionDeposit:
		if m.BorrowAmount != nil {
			return TransferMessage{}, fmt.Errorf("%w: borrow_amount on deposit", ErrMalformedMessage)
		}
	case ActionBorrow:
		if m.BorrowAmount == nil || m.BorrowAmount.IsZero() {
			return TransferMessage{}, fmt.Errorf("%w: borrow requires a positive borrow_amount", ErrMalformedMessage)
		}
	default:
		return TransferMessage{}, fmt.Errorf("%w: unknown action %q", ErrMalformedMessage, m.Action)
	}
	return m, nil
}
