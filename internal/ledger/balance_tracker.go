package ledger

import (
	fpmath "NaiVault/internal/math"
	"fmt"
	"sort"
)

// BalanceTracker maintains in-memory account balances.
//
// Balances are unsigned. Applying a journal adds the amount to the debit account.
// For the credit side, a user account is reduced while an external account grows:
// external accounts record the outstanding amount that crossed the boundary.
type BalanceTracker struct {
	balances map[AccountKey]fpmath.U128
	tokens   map[string]map[string]struct{} // owner -> tokens with collateral
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]fpmath.U128),
		tokens:   make(map[string]map[string]struct{}),
	}
}

// ApplyBatch applies all journals in a batch. Either every journal is applied or,
// on overflow/underflow, none is.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	staged, err := bt.Stage(batch)
	if err != nil {
		return err
	}
	bt.commit(staged)
	return nil
}

// Stage computes the post-batch balances of every touched account without
// writing them.
func (bt *BalanceTracker) Stage(batch *Batch) (map[AccountKey]fpmath.U128, error) {
	staged := make(map[AccountKey]fpmath.U128, 2*len(batch.Journals))
	get := func(k AccountKey) fpmath.U128 {
		if v, ok := staged[k]; ok {
			return v
		}
		return bt.balances[k]
	}

	for _, j := range batch.Journals {
		debit, err := get(j.DebitAccount).Add(j.Amount)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", j.DebitAccount.AccountPath(), err)
		}
		staged[j.DebitAccount] = debit

		var credit fpmath.U128
		if j.CreditAccount.IsExternal() {
			credit, err = get(j.CreditAccount).Add(j.Amount)
		} else {
			credit, err = get(j.CreditAccount).Sub(j.Amount)
		}
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", j.CreditAccount.AccountPath(), err)
		}
		staged[j.CreditAccount] = credit
	}
	return staged, nil
}

func (bt *BalanceTracker) commit(staged map[AccountKey]fpmath.U128) {
	for k, v := range staged {
		bt.set(k, v)
	}
}

func (bt *BalanceTracker) set(k AccountKey, v fpmath.U128) {
	bt.balances[k] = v
	if k.Scope == AccountScopeUser && k.SubType == SubTypeCollateral {
		owned, ok := bt.tokens[k.Owner]
		if !ok {
			owned = make(map[string]struct{})
			bt.tokens[k.Owner] = owned
		}
		owned[k.Token] = struct{}{}
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) fpmath.U128 {
	return bt.balances[key]
}

// GetCollateral returns the collateral an account holds in one token.
func (bt *BalanceTracker) GetCollateral(account, token string) fpmath.U128 {
	return bt.GetBalance(NewUserAccountKey(account, SubTypeCollateral, token))
}

// GetBorrowed returns an account's settled debt.
func (bt *BalanceTracker) GetBorrowed(account string) fpmath.U128 {
	return bt.GetBalance(NewUserAccountKey(account, SubTypeBorrowed, DebtToken))
}

// CollateralTokens returns, sorted, the tokens an account has ever deposited.
func (bt *BalanceTracker) CollateralTokens(account string) []string {
	owned := bt.tokens[account]
	out := make([]string, 0, len(owned))
	for tok := range owned {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// === Totals ===

// SumUsers sums user balances of one sub-type per token.
func (bt *BalanceTracker) SumUsers(subType AccountSubType) (map[string]fpmath.U128, error) {
	totals := make(map[string]fpmath.U128)
	for k, v := range bt.balances {
		if k.Scope != AccountScopeUser || k.SubType != subType {
			continue
		}
		sum, err := totals[k.Token].Add(v)
		if err != nil {
			return nil, fmt.Errorf("sum %s: %w", k.Token, err)
		}
		totals[k.Token] = sum
	}
	return totals, nil
}

// ExternalBalances returns external balances of one sub-type per token.
func (bt *BalanceTracker) ExternalBalances(subType AccountSubType) map[string]fpmath.U128 {
	out := make(map[string]fpmath.U128)
	for k, v := range bt.balances {
		if k.Scope == AccountScopeExternal && k.SubType == subType {
			out[k.Token] = v
		}
	}
	return out
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (bt *BalanceTracker) Snapshot() map[AccountKey]fpmath.U128 {
	snapshot := make(map[AccountKey]fpmath.U128, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances. Used when loading a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]fpmath.U128) {
	bt.balances = make(map[AccountKey]fpmath.U128, len(balances))
	bt.tokens = make(map[string]map[string]struct{})
	for k, v := range balances {
		bt.set(k, v)
	}
}
