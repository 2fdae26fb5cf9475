package event

import (
	fpmath "NaiVault/internal/math"
	"encoding/json"
	"fmt"
)

// Wire forms use snake_case keys and decimal strings for amounts. The same
// encoding is used on the bus and in the event log payload column.

type transferWire struct {
	TransferID string      `json:"transfer_id"`
	TokenID    string      `json:"token_id"`
	Sender     string      `json:"sender_id"`
	Amount     fpmath.U128 `json:"amount"`
	Msg        string      `json:"msg"`
	Sequence   int64       `json:"sequence"`
	Timestamp  int64       `json:"timestamp"`
}

type borrowWire struct {
	RequestID         string      `json:"request_id"`
	Account           string      `json:"account_id"`
	CollateralTokenID string      `json:"collateral_token_id"`
	CollateralAmount  fpmath.U128 `json:"collateral_amount"`
	BorrowAmount      fpmath.U128 `json:"borrow_amount"`
	Timestamp         int64       `json:"timestamp"`
}

type settledWire struct {
	CallID    string       `json:"call_id"`
	Status    string       `json:"status"`
	Payload   []byte       `json:"payload,omitempty"` // base64 of the issuer's bytes
	Reason    string       `json:"reason,omitempty"`
	Timestamp int64        `json:"timestamp"`
	Request   *MintRequest `json:"request,omitempty"`
}

type policyWire struct {
	UpdateID  string `json:"update_id"`
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Encode returns the wire JSON of evt.
func Encode(evt Event) ([]byte, error) {
	switch e := evt.(type) {
	case *TokenTransferReceived:
		return json.Marshal(transferWire{
			TransferID: e.TransferID, TokenID: e.TokenID, Sender: e.Sender,
			Amount: e.Amount, Msg: e.Msg, Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *BorrowRequested:
		return json.Marshal(borrowWire{
			RequestID: e.RequestID, Account: e.Account, CollateralTokenID: e.CollateralTokenID,
			CollateralAmount: e.CollateralAmount, BorrowAmount: e.BorrowAmount, Timestamp: e.Timestamp,
		})
	case *MintSettled:
		return json.Marshal(settledWire{
			CallID: e.CallID, Status: e.Status.String(), Payload: e.Payload,
			Reason: e.Reason, Timestamp: e.Timestamp, Request: e.Request,
		})
	case *PolicyUpdated:
		return json.Marshal(policyWire{
			UpdateID: e.UpdateID, Action: e.Action.String(), Target: e.Target, Timestamp: e.Timestamp,
		})
	}
	return nil, fmt.Errorf("encode: unsupported event %T", evt)
}

// Decode parses the wire JSON of an event of type et.
func Decode(et EventType, data []byte) (Event, error) {
	switch et {
	case EventTypeTokenTransferReceived:
		var w transferWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode transfer: %w", err)
		}
		if w.TransferID == "" || w.TokenID == "" {
			return nil, fmt.Errorf("decode transfer: transfer_id and token_id are required")
		}
		return &TokenTransferReceived{
			TransferID: w.TransferID, TokenID: w.TokenID, Sender: w.Sender,
			Amount: w.Amount, Msg: w.Msg, Sequence: w.Sequence, Timestamp: w.Timestamp,
		}, nil
	case EventTypeBorrowRequested:
		var w borrowWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode borrow: %w", err)
		}
		if w.RequestID == "" {
			return nil, fmt.Errorf("decode borrow: request_id is required")
		}
		return &BorrowRequested{
			RequestID: w.RequestID, Account: w.Account, CollateralTokenID: w.CollateralTokenID,
			CollateralAmount: w.CollateralAmount, BorrowAmount: w.BorrowAmount, Timestamp: w.Timestamp,
		}, nil
	case EventTypeMintSettled:
		var w settledWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode mint settlement: %w", err)
		}
		return &MintSettled{
			CallID: w.CallID, Status: ParseMintStatus(w.Status),
			Payload: w.Payload, Reason: w.Reason, Timestamp: w.Timestamp,
			Request: w.Request,
		}, nil
	case EventTypePolicyUpdated:
		var w policyWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		action, err := ParsePolicyAction(w.Action)
		if err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		return &PolicyUpdated{UpdateID: w.UpdateID, Action: action, Target: w.Target, Timestamp: w.Timestamp}, nil
	}
	return nil, fmt.Errorf("decode: unsupported event type %s", et)
}
