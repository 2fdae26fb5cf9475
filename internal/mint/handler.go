package mint

import (
	"NaiVault/internal/event"
	"NaiVault/internal/ledger"
	fpmath "NaiVault/internal/math"
	"errors"
	"fmt"
)

var ErrUnknownCall = errors.New("mint: no pending request for call")

// SettlementLedger is the part of the ledger the finalizer writes to.
type SettlementLedger interface {
	RecordBorrowSettlement(ref ledger.EntryRef, account string, amount fpmath.U128) (*ledger.Batch, error)
}

// Settlement is the result of handling one mint outcome.
type Settlement struct {
	Context    MintRequestContext
	Actual     fpmath.U128
	Resolution Resolution
	Batch      *ledger.Batch
	Borrow     event.BorrowEvent
}

// Handler is the mint outcome handler.
type Handler struct {
	registry *Registry
	ledger   SettlementLedger
}

func NewHandler(registry *Registry, l SettlementLedger) *Handler {
	return &Handler{registry: registry, ledger: l}
}

// OnMintSettled settles the call identified by callID on outcome and returns the
// settlement, whose Actual is the amount minted.
//
// The context stays registered; the caller removes it with Complete once the
// settlement is committed. A pending outcome or a ledger failure panics with
// *FatalError before anything is written.
func (h *Handler) OnMintSettled(ref ledger.EntryRef, callID string, outcome Outcome) (Settlement, error) {
	c, ok := h.registry.Get(callID)
	if !ok {
		return Settlement{}, fmt.Errorf("%w %s", ErrUnknownCall, callID)
	}

	actual, resolution := Resolve(outcome)
	s := h.finishBorrow(ref, c, actual)
	s.Resolution = resolution
	return s, nil
}

// Complete forgets a committed settlement's context.
func (h *Handler) Complete(callID string) error {
	return h.registry.Remove(callID)
}

// finishBorrow records actual as the account's new debt, even when zero, and
// builds the borrow event for it.
func (h *Handler) finishBorrow(ref ledger.EntryRef, c MintRequestContext, actual fpmath.U128) Settlement {
	batch, err := h.ledger.RecordBorrowSettlement(ref, c.Account, actual)
	if err != nil {
		panic(&FatalError{Op: "finish borrow " + c.CallID, Err: err})
	}
	return Settlement{
		Context: c,
		Actual:  actual,
		Batch:   batch,
		Borrow: event.BorrowEvent{
			AccountID:         c.Account,
			CollateralTokenID: c.CollateralTokenID,
			BorrowAmount:      actual,
		},
	}
}
