package query_test

import (
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/projection"
	"NaiVault/internal/query"
	"NaiVault/internal/testutil"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *core.Loop {
	t.Helper()
	reg, err := mint.NewRegistry(mint.NewMemStore())
	require.NoError(t, err)
	c, err := core.NewVaultCore(core.Options{
		SupportedTokens: []string{"wrap.near"},
		Registry:        reg,
		Scheduler:       &testutil.RecordingScheduler{},
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	loop := core.NewLoop(c, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)
	return loop
}

func TestLiveViews(t *testing.T) {
	loop := startLoop(t)
	ctx := context.Background()

	require.NoError(t, loop.Submit(ctx, &event.TokenTransferReceived{
		TransferID: "t1",
		TokenID:    "wrap.near",
		Sender:     "alice.near",
		Amount:     fpmath.MustParseU128("2500000000000000000000000"),
		Msg:        `{"action":"borrow","borrow_amount":"1500000000000000000"}`,
		Timestamp:  1,
	}))

	qs := query.NewQueryService(nil, loop, nil, map[string]int32{"wrap.near": 24})

	pos, err := qs.GetLivePosition(ctx, "alice.near")
	require.NoError(t, err)
	require.Len(t, pos.Collateral, 1)
	assert.Equal(t, "2500000000000000000000000", pos.Collateral[0].Amount)
	assert.Equal(t, "2.5", pos.Collateral[0].Display)
	assert.Equal(t, "0", pos.Borrowed.Amount)
	assert.Equal(t, int64(0), pos.AsOfSequence)

	pending, err := qs.ListPendingMints(ctx, "alice.near")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "1.5", pending[0].Desired.Display)
	assert.Equal(t, mint.CallIDFor("transfer:t1"), pending[0].CallID)

	none, err := qs.ListPendingMints(ctx, "bob.near")
	require.NoError(t, err)
	assert.Empty(t, none)

	st, err := qs.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Sequence)
	assert.Equal(t, 1, st.PendingMints)
	assert.False(t, st.Paused)
	assert.Equal(t, []string{"wrap.near"}, st.SupportedTokens)
	assert.Len(t, st.StateHash, 64)
}

func TestBorrowHistory_ServedFromCache(t *testing.T) {
	history := projection.NewBorrowHistory(10)
	for seq := int64(1); seq <= 3; seq++ {
		history.Add(projection.BorrowRecord{
			Sequence:   seq,
			AccountID:  "alice.near",
			Requested:  fpmath.NewU128(1_000_000_000_000_000_000),
			Minted:     fpmath.NewU128(uint64(seq) * 100_000_000_000_000_000),
			Resolution: "minted",
		})
	}

	// no database: a cache miss would panic on the nil *sql.DB
	qs := query.NewQueryService(nil, nil, history, nil)
	resp, err := qs.GetBorrowHistory(context.Background(), "alice.near", 2)
	require.NoError(t, err)
	assert.Equal(t, "cache", resp.Source)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, int64(3), resp.Entries[0].Sequence)
	assert.Equal(t, "0.3", resp.Entries[0].Minted.Display)
	assert.Equal(t, "1", resp.Entries[0].Requested.Display)
}

func TestInvalidAccountRejected(t *testing.T) {
	qs := query.NewQueryService(nil, nil, nil, nil)
	_, err := qs.GetPosition(context.Background(), "Not An Account")
	assert.ErrorIs(t, err, query.ErrInvalidArgument)
	_, err = qs.GetBorrowHistory(context.Background(), "x", 10)
	assert.ErrorIs(t, err, query.ErrInvalidArgument)
}
