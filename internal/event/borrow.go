package event

import (
	fpmath "NaiVault/internal/math"
)

// BorrowRequested asks the vault to mint BorrowAmount of NAI to Account
// against CollateralAmount of CollateralTokenID already deposited.
type BorrowRequested struct {
	RequestID         string
	Account           string
	CollateralTokenID string
	CollateralAmount  fpmath.U128
	BorrowAmount      fpmath.U128
	Timestamp         int64
}

func (b *BorrowRequested) IdempotencyKey() string {
	return "borrow:" + b.RequestID
}

func (b *BorrowRequested) EventType() EventType {
	return EventTypeBorrowRequested
}

func (b *BorrowRequested) Partition() *string {
	return nil
}

func (b *BorrowRequested) SourceSequence() int64 {
	return 0
}

func (b *BorrowRequested) EventTime() int64 {
	return b.Timestamp
}

// MintStatus is the state of an external mint call's result slot.
type MintStatus uint8

const (
	// MintStatusPending means the call has not answered yet. The zero value, so an
	// unset result slot reads as pending.
	MintStatusPending MintStatus = iota
	MintStatusSucceeded
	MintStatusFailed
)

func (s MintStatus) String() string {
	switch s {
	case MintStatusSucceeded:
		return "succeeded"
	case MintStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

func ParseMintStatus(s string) MintStatus {
	switch s {
	case "succeeded":
		return MintStatusSucceeded
	case "failed":
		return MintStatusFailed
	}
	return MintStatusPending
}

// MintRequest is the borrow request a settlement closes.
type MintRequest struct {
	Account             string      `json:"account_id"`
	CollateralTokenID   string      `json:"collateral_token_id"`
	CollateralAmount    fpmath.U128 `json:"collateral_amount"`
	DesiredBorrowAmount fpmath.U128 `json:"desired_borrow_amount"`
	RequestRef          string      `json:"request_ref"`
	RequestedAt         int64       `json:"requested_at"`
}

// MintSettled carries the observed result of the mint call identified by CallID.
// It is produced inside the service (scheduler or orphan finalizer), never by clients.
//
// The core fills Request in before the event is logged, so a logged settlement
// replays without the pending store.
type MintSettled struct {
	CallID    string
	Status    MintStatus
	Payload   []byte // raw reply body on success
	Reason    string // failure detail, informational
	Timestamp int64
	Request   *MintRequest
}

func (m *MintSettled) IdempotencyKey() string {
	return "mint_settled:" + m.CallID
}

func (m *MintSettled) EventType() EventType {
	return EventTypeMintSettled
}

func (m *MintSettled) Partition() *string {
	return nil
}

func (m *MintSettled) SourceSequence() int64 {
	return 0
}

func (m *MintSettled) EventTime() int64 {
	return m.Timestamp
}

// BorrowEvent is the immutable record emitted once per completed settlement.
type BorrowEvent struct {
	AccountID         string      `json:"account_id"`
	CollateralTokenID string      `json:"collateral_token_id"`
	BorrowAmount      fpmath.U128 `json:"borrow_amount"`
}
