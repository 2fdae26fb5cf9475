package mint

import (
	fpmath "NaiVault/internal/math"
	"errors"
	"fmt"
)

var (
	ErrZeroBorrow             = errors.New("mint: desired borrow amount must be positive")
	ErrInsufficientCollateral = errors.New("mint: insufficient collateral")
)

// DefaultGas is the resource budget attached to every mint call (10 Tgas).
const DefaultGas uint64 = 10_000_000_000_000

// RequestRef ties a mint request to the event that asked for it.
type RequestRef struct {
	Key       string // idempotency key of the requesting event
	Timestamp int64  // epoch microseconds
}

// SufficiencyRequest describes a borrow to be backed by collateral.
type SufficiencyRequest struct {
	Account   string
	Token     string
	Available fpmath.U128 // collateral the account holds, including any attached transfer
	Pledged   fpmath.U128
	Desired   fpmath.U128
}

// SufficiencyChecker decides whether a pledge backs a borrow. Valuation lives
// with the implementation.
type SufficiencyChecker interface {
	CheckSufficiency(req SufficiencyRequest) error
}

// HeldCollateral is the default SufficiencyChecker: it only requires that the
// account actually holds the collateral it pledges.
type HeldCollateral struct{}

func (HeldCollateral) CheckSufficiency(req SufficiencyRequest) error {
	if req.Available.Cmp(req.Pledged) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, pledged %s",
			ErrInsufficientCollateral, req.Account, req.Available, req.Token, req.Pledged)
	}
	return nil
}

// Requestor records mint requests and hands them to the scheduler.
type Requestor struct {
	registry  *Registry
	scheduler Scheduler
	gas       uint64
}

func NewRequestor(registry *Registry, scheduler Scheduler, gas uint64) *Requestor {
	if gas == 0 {
		gas = DefaultGas
	}
	return &Requestor{
		registry:  registry,
		scheduler: scheduler,
		gas:       gas,
	}
}

// RequestMint records the context of a mint of desired NAI to account and returns
// its handle. The borrowed balance is not touched: the amount is requested, not
// settled. The call itself leaves the process only on Dispatch.
func (r *Requestor) RequestMint(ref RequestRef, account, collateralTokenID string, collateralAmount, desired fpmath.U128) (PendingHandle, error) {
	if desired.IsZero() {
		return PendingHandle{}, ErrZeroBorrow
	}

	c := MintRequestContext{
		CallID:              CallIDFor(ref.Key),
		Account:             account,
		CollateralTokenID:   collateralTokenID,
		CollateralAmount:    collateralAmount,
		DesiredBorrowAmount: desired,
		RequestRef:          ref.Key,
		RequestedAt:         ref.Timestamp,
	}
	if err := r.registry.Put(c); err != nil {
		return PendingHandle{}, err
	}

	return r.handleFor(c), nil
}

// Dispatch sends the mint call. Once dispatched it cannot be cancelled.
func (r *Requestor) Dispatch(h PendingHandle) {
	if r.scheduler != nil {
		r.scheduler.Schedule(h.Call)
	}
}

func (r *Requestor) handleFor(c MintRequestContext) PendingHandle {
	return PendingHandle{
		CallID: c.CallID,
		Call: MintCall{
			CallID:    c.CallID,
			AccountID: c.Account,
			Amount:    c.DesiredBorrowAmount,
			Gas:       r.gas,
			Deposit:   fpmath.U128{},
		},
	}
}
