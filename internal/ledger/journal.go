package ledger

import (
	fpmath "NaiVault/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCollateralDeposit JournalType = iota
	JournalTypeBorrowSettlement
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollateralDeposit:
		return "collateral_deposit"
	case JournalTypeBorrowSettlement:
		return "borrow_settlement"
	}
	return fmt.Sprintf("journal_type(%d)", int32(t))
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string // Idempotency key of source event
	Sequence      int64  // Global event sequence
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Token         string
	Amount        fpmath.U128 // always non-zero
	JournalType   JournalType
	Timestamp     int64 // epoch microseconds, from the source event
}

// Batch represents a balanced set of journal entries produced by one event.
// A batch with no journals is legal: a zero-amount settlement is still recorded.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one amount from
// its credit account to its debit account, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Token != j.Token || j.CreditAccount.Token != j.Token {
			return fmt.Errorf("journal %s mixes tokens", j.JournalID)
		}
	}
	return nil
}

// IsEmpty reports whether the batch carries no journals.
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}
