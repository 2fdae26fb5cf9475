package ledger

import (
	fpmath "NaiVault/internal/math"
	"fmt"
)

// Position is an account's view of the vault.
type Position struct {
	Account    string
	Collateral map[string]fpmath.U128 // token -> amount
	Borrowed   fpmath.U128
}

// VaultLedger is the balance ledger: account → collateral and borrowed amounts.
// It is mutated only through DepositCollateral and RecordBorrowSettlement, and
// exposes no way to decrease a borrowed amount.
type VaultLedger struct {
	tracker *BalanceTracker
	gen     *JournalGenerator
}

func NewVaultLedger(tracker *BalanceTracker) *VaultLedger {
	return &VaultLedger{
		tracker: tracker,
		gen:     NewJournalGenerator(),
	}
}

// DepositCollateral increases account's collateral in token by amount.
// Overflow anywhere in the batch aborts the deposit with no balance written.
func (l *VaultLedger) DepositCollateral(ref EntryRef, account, token string, amount fpmath.U128) (*Batch, error) {
	batch := l.gen.GenerateCollateralDeposit(ref, account, token, amount)
	if err := l.tracker.ApplyBatch(batch); err != nil {
		return nil, fmt.Errorf("deposit %s %s for %s: %w", amount, token, account, err)
	}
	return batch, nil
}

// RecordBorrowSettlement increases account's borrowed amount by exactly amount.
// A zero amount produces an empty, still recorded, batch.
func (l *VaultLedger) RecordBorrowSettlement(ref EntryRef, account string, amount fpmath.U128) (*Batch, error) {
	batch := l.gen.GenerateBorrowSettlement(ref, account, amount)
	if err := l.tracker.ApplyBatch(batch); err != nil {
		return nil, fmt.Errorf("settle %s for %s: %w", amount, account, err)
	}
	return batch, nil
}

func (l *VaultLedger) Position(account string) Position {
	p := Position{
		Account:    account,
		Collateral: make(map[string]fpmath.U128),
		Borrowed:   l.tracker.GetBorrowed(account),
	}
	for _, tok := range l.tracker.CollateralTokens(account) {
		p.Collateral[tok] = l.tracker.GetCollateral(account, tok)
	}
	return p
}

func (l *VaultLedger) Collateral(account, token string) fpmath.U128 {
	return l.tracker.GetCollateral(account, token)
}

func (l *VaultLedger) Borrowed(account string) fpmath.U128 {
	return l.tracker.GetBorrowed(account)
}

func (l *VaultLedger) Tracker() *BalanceTracker {
	return l.tracker
}
