package projection_test

import (
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	"NaiVault/internal/ledger"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/projection"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(seq int64, et event.EventType) *event.EventEnvelope {
	return &event.EventEnvelope{
		Sequence:  seq,
		EventType: et,
		Timestamp: time.UnixMicro(1_000_000 + seq),
	}
}

func TestFromCoreOutput_DepositDeltas(t *testing.T) {
	l := ledger.NewVaultLedger(ledger.NewBalanceTracker())
	batch, err := l.DepositCollateral(ledger.EntryRef{EventRef: "transfer:t1", Sequence: 3}, "alice.near", "wrap.near", fpmath.NewU128(250))
	require.NoError(t, err)

	po := projection.FromCoreOutput(core.CoreOutput{
		Envelope: envelope(3, event.EventTypeTokenTransferReceived),
		Batch:    batch,
	})

	require.Len(t, po.Deltas, 2)
	byPath := map[string]string{}
	for _, d := range po.Deltas {
		byPath[d.Account.AccountPath()] = d.Delta.String()
	}
	assert.Equal(t, "250", byPath["user:alice.near:collateral:wrap.near"])
	assert.Equal(t, "250", byPath["external:custody:wrap.near"])
	assert.Nil(t, po.Borrow)
}

func TestFromCoreOutput_SettlementRecord(t *testing.T) {
	l := ledger.NewVaultLedger(ledger.NewBalanceTracker())
	batch, err := l.RecordBorrowSettlement(ledger.EntryRef{EventRef: "mint_settled:c1", Sequence: 9}, "bob.near", fpmath.NewU128(70))
	require.NoError(t, err)

	s := &mint.Settlement{
		Context: mint.MintRequestContext{
			CallID:              "c1",
			Account:             "bob.near",
			CollateralTokenID:   "usdc.near",
			DesiredBorrowAmount: fpmath.NewU128(100),
		},
		Actual:     fpmath.NewU128(70),
		Resolution: mint.ResolutionMinted,
		Batch:      batch,
	}
	po := projection.FromCoreOutput(core.CoreOutput{
		Envelope:   envelope(9, event.EventTypeMintSettled),
		Batch:      batch,
		Settlement: s,
	})

	require.NotNil(t, po.Borrow)
	assert.Equal(t, int64(9), po.Borrow.Sequence)
	assert.Equal(t, "100", po.Borrow.Requested.String())
	assert.Equal(t, "70", po.Borrow.Minted.String())
	assert.Equal(t, "minted", po.Borrow.Resolution)
	assert.Len(t, po.Deltas, 2)
}

func TestBorrowHistory_NewestFirstAndCapped(t *testing.T) {
	h := projection.NewBorrowHistory(3)
	for seq := int64(1); seq <= 5; seq++ {
		h.Add(projection.BorrowRecord{Sequence: seq, AccountID: "alice.near", Minted: fpmath.NewU128(uint64(seq))})
	}
	h.Add(projection.BorrowRecord{Sequence: 4, AccountID: "alice.near"}) // replayed, ignored

	got, ok := h.QueryByAccount("alice.near", 10)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{got[0].Sequence, got[1].Sequence, got[2].Sequence})

	got, _ = h.QueryByAccount("alice.near", 1)
	assert.Len(t, got, 1)

	_, ok = h.QueryByAccount("bob.near", 10)
	assert.False(t, ok)

	assert.True(t, h.Covers("alice.near", 3))
	assert.False(t, h.Covers("alice.near", 4))
	assert.False(t, h.Covers("bob.near", 1))
}
