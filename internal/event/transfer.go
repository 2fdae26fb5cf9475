package event

import (
	fpmath "NaiVault/internal/math"
)

// TokenTransferReceived is the inbound transfer notification: Sender moved
// Amount of TokenID to the vault with an attached message.
type TokenTransferReceived struct {
	TransferID string
	TokenID    string
	Sender     string
	Amount     fpmath.U128
	Msg        string
	Sequence   int64 // per-token transfer sequence
	Timestamp  int64 // epoch microseconds
}

func (t *TokenTransferReceived) IdempotencyKey() string {
	return "transfer:" + t.TransferID
}

func (t *TokenTransferReceived) EventType() EventType {
	return EventTypeTokenTransferReceived
}

// Partition orders transfers per token contract.
func (t *TokenTransferReceived) Partition() *string {
	p := "token:" + t.TokenID
	return &p
}

func (t *TokenTransferReceived) SourceSequence() int64 {
	return t.Sequence
}

func (t *TokenTransferReceived) EventTime() int64 {
	return t.Timestamp
}
