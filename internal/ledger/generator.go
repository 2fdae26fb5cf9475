package ledger

import (
	fpmath "NaiVault/internal/math"

	"github.com/google/uuid"
)

// EntryRef ties generated journals to the event that caused them.
type EntryRef struct {
	EventRef  string
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// JournalGenerator creates balanced journal batches
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

func (jg *JournalGenerator) newBatch(ref EntryRef) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  ref.EventRef,
		Sequence:  ref.Sequence,
		Timestamp: ref.Timestamp,
		Journals:  make([]Journal, 0, 1),
	}
}

func (jg *JournalGenerator) add(b *Batch, debit, credit AccountKey, amount fpmath.U128, typ JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Token:         debit.Token,
		Amount:        amount,
		JournalType:   typ,
		Timestamp:     b.Timestamp,
	})
}

// GenerateCollateralDeposit books a deposit.
// Moves funds: external:custody → user:collateral. Zero amounts yield an empty batch.
func (jg *JournalGenerator) GenerateCollateralDeposit(ref EntryRef, account, token string, amount fpmath.U128) *Batch {
	b := jg.newBatch(ref)
	if amount.IsZero() {
		return b
	}
	jg.add(b,
		NewUserAccountKey(account, SubTypeCollateral, token),
		NewExternalAccountKey(SubTypeExternalCustody, token),
		amount, JournalTypeCollateralDeposit)
	return b
}

// GenerateBorrowSettlement books actually-minted debt.
// Moves funds: external:minted → user:borrowed. Zero amounts yield an empty batch.
func (jg *JournalGenerator) GenerateBorrowSettlement(ref EntryRef, account string, amount fpmath.U128) *Batch {
	b := jg.newBatch(ref)
	if amount.IsZero() {
		return b
	}
	jg.add(b,
		NewUserAccountKey(account, SubTypeBorrowed, DebtToken),
		NewExternalAccountKey(SubTypeExternalMinted, DebtToken),
		amount, JournalTypeBorrowSettlement)
	return b
}
