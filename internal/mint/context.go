// Package mint implements the mint-and-reconcile pipeline: issuing a mint call to
// the debt-token issuer, tracking it while in flight, and settling the ledger on
// the amount the issuer actually reports.
package mint

import (
	"NaiVault/internal/event"
	fpmath "NaiVault/internal/math"

	"github.com/google/uuid"
)

// callNamespace scopes call identities derived from request keys.
var callNamespace = uuid.MustParse("6f1d4a52-0c7e-4b8e-9a57-3c2f1d0e8b41")

// CallIDFor derives the call identity of the borrow request with the given
// idempotency key. Deterministic, so replaying a request reproduces its call id.
func CallIDFor(requestKey string) string {
	return uuid.NewSHA1(callNamespace, []byte(requestKey)).String()
}

// MintRequestContext is everything the settlement needs to know about an
// in-flight mint call. Created by RequestMint, consumed once by OnMintSettled.
type MintRequestContext struct {
	CallID              string      `json:"call_id"`
	Account             string      `json:"account_id"`
	CollateralTokenID   string      `json:"collateral_token_id"`
	CollateralAmount    fpmath.U128 `json:"collateral_amount"`
	DesiredBorrowAmount fpmath.U128 `json:"desired_borrow_amount"`
	RequestRef          string      `json:"request_ref"`
	RequestedAt         int64       `json:"requested_at"` // epoch microseconds
}

// Request is the form of c carried on a logged settlement.
func (c MintRequestContext) Request() *event.MintRequest {
	return &event.MintRequest{
		Account:             c.Account,
		CollateralTokenID:   c.CollateralTokenID,
		CollateralAmount:    c.CollateralAmount,
		DesiredBorrowAmount: c.DesiredBorrowAmount,
		RequestRef:          c.RequestRef,
		RequestedAt:         c.RequestedAt,
	}
}

// ContextFromRequest rebuilds the context of callID from a logged settlement.
func ContextFromRequest(callID string, r event.MintRequest) MintRequestContext {
	return MintRequestContext{
		CallID:              callID,
		Account:             r.Account,
		CollateralTokenID:   r.CollateralTokenID,
		CollateralAmount:    r.CollateralAmount,
		DesiredBorrowAmount: r.DesiredBorrowAmount,
		RequestRef:          r.RequestRef,
		RequestedAt:         r.RequestedAt,
	}
}

// MintCall is the outbound request to the issuer.
type MintCall struct {
	CallID    string      `json:"call_id"`
	AccountID string      `json:"account_id"`
	Amount    fpmath.U128 `json:"amount"`
	Gas       uint64      `json:"gas"`
	Deposit   fpmath.U128 `json:"deposit"`
}

// PendingHandle identifies a requested, not yet settled, mint.
type PendingHandle struct {
	CallID string
	Call   MintCall
}
