package ledger

import (
	fpmath "NaiVault/internal/math"
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustody verifies Σ user collateral == external custody, per token.
func (v *InvariantValidator) ValidateCustody() error {
	users, err := v.tracker.SumUsers(SubTypeCollateral)
	if err != nil {
		return err
	}
	return matchTotals("custody", users, v.tracker.ExternalBalances(SubTypeExternalCustody))
}

// ValidateIssuance verifies Σ user borrowed == externally minted. Recorded debt
// can therefore never exceed what the issuer reported as minted.
func (v *InvariantValidator) ValidateIssuance() error {
	users, err := v.tracker.SumUsers(SubTypeBorrowed)
	if err != nil {
		return err
	}
	return matchTotals("issuance", users, v.tracker.ExternalBalances(SubTypeExternalMinted))
}

func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateCustody(); err != nil {
		return err
	}
	return v.ValidateIssuance()
}

func matchTotals(name string, users, external map[string]fpmath.U128) error {
	for tok, sum := range users {
		if sum.Cmp(external[tok]) != 0 {
			return fmt.Errorf("%s mismatch for %s: users=%s external=%s", name, tok, sum, external[tok])
		}
	}
	for tok, ext := range external {
		if _, ok := users[tok]; !ok && !ext.IsZero() {
			return fmt.Errorf("%s mismatch for %s: users=0 external=%s", name, tok, ext)
		}
	}
	return nil
}
