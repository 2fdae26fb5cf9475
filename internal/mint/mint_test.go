package mint_test

import (
	"context"
	"testing"
	"time"

	"NaiVault/internal/event"
	"NaiVault/internal/ledger"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var u = fpmath.NewU128

type fixture struct {
	ledger    *ledger.VaultLedger
	registry  *mint.Registry
	requestor *mint.Requestor
	handler   *mint.Handler
	scheduler *testutil.RecordingScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := mint.NewRegistry(mint.NewMemStore())
	require.NoError(t, err)
	l := ledger.NewVaultLedger(ledger.NewBalanceTracker())
	sched := &testutil.RecordingScheduler{}
	return &fixture{
		ledger:    l,
		registry:  reg,
		requestor: mint.NewRequestor(reg, sched, 0),
		handler:   mint.NewHandler(reg, l),
		scheduler: sched,
	}
}

func (f *fixture) request(t *testing.T, key, account string, desired uint64) mint.PendingHandle {
	t.Helper()
	h, err := f.requestor.RequestMint(mint.RequestRef{Key: key, Timestamp: 1}, account, "wrap.near", u(10), u(desired))
	require.NoError(t, err)
	return h
}

func (f *fixture) settle(t *testing.T, h mint.PendingHandle, o mint.Outcome) mint.Settlement {
	t.Helper()
	s, err := f.handler.OnMintSettled(ledger.EntryRef{EventRef: "settle:" + h.CallID}, h.CallID, o)
	require.NoError(t, err)
	require.NoError(t, f.handler.Complete(h.CallID))
	return s
}

// ============================================================================
// Test: Resolve
// ============================================================================

func TestResolve(t *testing.T) {
	cases := []struct {
		name       string
		outcome    mint.Outcome
		want       string
		resolution mint.Resolution
	}{
		{"success", mint.Succeeded([]byte(`"700"`)), "700", mint.ResolutionMinted},
		{"success zero", mint.Succeeded([]byte(`"0"`)), "0", mint.ResolutionMinted},
		{"unquoted number", mint.Succeeded([]byte(`700`)), "0", mint.ResolutionMalformedResponse},
		{"garbage", mint.Succeeded([]byte(`{"minted":1}`)), "0", mint.ResolutionMalformedResponse},
		{"empty payload", mint.Succeeded(nil), "0", mint.ResolutionMalformedResponse},
		{"too large", mint.Succeeded([]byte(`"340282366920938463463374607431768211456"`)), "0", mint.ResolutionMalformedResponse},
		{"failure", mint.Failed("boom"), "0", mint.ResolutionRemoteFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount, res := mint.Resolve(tc.outcome)
			assert.Equal(t, tc.want, amount.String())
			assert.Equal(t, tc.resolution, res)
		})
	}
}

func TestResolve_PendingPanicsWithFatal(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r, "pending outcome must panic")
		fe, ok := r.(*mint.FatalError)
		require.True(t, ok, "panic value %T", r)
		assert.ErrorIs(t, fe, mint.ErrFatal)
		assert.ErrorIs(t, fe, mint.ErrOutcomePending)
	}()
	mint.Resolve(mint.Outcome{})
}

// ============================================================================
// Test: RequestMint
// ============================================================================

func TestRequestMint_RecordsContextWithoutTouchingDebt(t *testing.T) {
	f := newFixture(t)
	h := f.request(t, "borrow:r1", "alice.near", 1000)

	c, ok := f.registry.Get(h.CallID)
	require.True(t, ok)
	assert.Equal(t, "alice.near", c.Account)
	assert.Equal(t, "wrap.near", c.CollateralTokenID)
	assert.Equal(t, "1000", c.DesiredBorrowAmount.String())
	assert.True(t, f.ledger.Borrowed("alice.near").IsZero())

	assert.Equal(t, mint.DefaultGas, h.Call.Gas)
	assert.True(t, h.Call.Deposit.IsZero())
	assert.Equal(t, "1000", h.Call.Amount.String())
	assert.Empty(t, f.scheduler.Dispatched(), "nothing leaves before Dispatch")

	f.requestor.Dispatch(h)
	assert.Len(t, f.scheduler.Dispatched(), 1)
}

func TestRequestMint_ZeroRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.requestor.RequestMint(mint.RequestRef{Key: "borrow:z"}, "alice.near", "wrap.near", u(1), u(0))
	assert.ErrorIs(t, err, mint.ErrZeroBorrow)
	assert.Equal(t, 0, f.registry.Len())
}

func TestCallIDFor_Deterministic(t *testing.T) {
	assert.Equal(t, mint.CallIDFor("borrow:a"), mint.CallIDFor("borrow:a"))
	assert.NotEqual(t, mint.CallIDFor("borrow:a"), mint.CallIDFor("borrow:b"))
}

func TestHeldCollateral(t *testing.T) {
	chk := mint.HeldCollateral{}
	req := mint.SufficiencyRequest{Account: "alice.near", Token: "wrap.near", Available: u(50), Pledged: u(50), Desired: u(1)}
	assert.NoError(t, chk.CheckSufficiency(req))

	req.Pledged = u(51)
	assert.ErrorIs(t, chk.CheckSufficiency(req), mint.ErrInsufficientCollateral)
}

// ============================================================================
// Test: OnMintSettled / finishBorrow
// ============================================================================

func TestSettle_PartialMintRecordsActual(t *testing.T) {
	f := newFixture(t)
	h := f.request(t, "borrow:r1", "alice.near", 1000)

	s := f.settle(t, h, mint.Succeeded([]byte(`"700"`)))

	assert.Equal(t, "700", s.Actual.String())
	assert.Equal(t, "700", f.ledger.Borrowed("alice.near").String())
	assert.Equal(t, event.BorrowEvent{AccountID: "alice.near", CollateralTokenID: "wrap.near", BorrowAmount: u(700)}, s.Borrow)
	assert.Equal(t, 0, f.registry.Len())
}

func TestSettle_FailureLeavesDebtUnchanged(t *testing.T) {
	f := newFixture(t)
	first := f.request(t, "borrow:r1", "alice.near", 100)
	f.settle(t, first, mint.Succeeded([]byte(`"100"`)))

	h := f.request(t, "borrow:r2", "alice.near", 1000)
	s := f.settle(t, h, mint.Failed("issuer rejected"))

	assert.True(t, s.Actual.IsZero())
	assert.Equal(t, mint.ResolutionRemoteFailure, s.Resolution)
	assert.Equal(t, "100", f.ledger.Borrowed("alice.near").String())
	assert.True(t, s.Batch.IsEmpty())
	assert.True(t, s.Borrow.BorrowAmount.IsZero(), "zero settlements still emit an event")
}

func TestSettle_MalformedPayloadRecordsZero(t *testing.T) {
	f := newFixture(t)
	h := f.request(t, "borrow:r1", "alice.near", 1000)

	s := f.settle(t, h, mint.Succeeded([]byte(`not json`)))

	assert.True(t, s.Actual.IsZero())
	assert.Equal(t, mint.ResolutionMalformedResponse, s.Resolution)
	assert.True(t, f.ledger.Borrowed("alice.near").IsZero())
}

func TestSettle_SequentialRequestsDoNotCrossContaminate(t *testing.T) {
	f := newFixture(t)
	h1 := f.request(t, "borrow:r1", "alice.near", 1000)
	h2 := f.request(t, "borrow:r2", "alice.near", 50)
	require.NotEqual(t, h1.CallID, h2.CallID)
	require.Equal(t, 2, f.registry.Len())

	// settle out of order
	s2 := f.settle(t, h2, mint.Succeeded([]byte(`"50"`)))
	s1 := f.settle(t, h1, mint.Succeeded([]byte(`"400"`)))

	assert.Equal(t, "50", s2.Context.DesiredBorrowAmount.String())
	assert.Equal(t, "1000", s1.Context.DesiredBorrowAmount.String())
	assert.Equal(t, "450", f.ledger.Borrowed("alice.near").String())
}

func TestSettle_UnknownCall(t *testing.T) {
	f := newFixture(t)
	_, err := f.handler.OnMintSettled(ledger.EntryRef{}, "nope", mint.Succeeded([]byte(`"1"`)))
	assert.ErrorIs(t, err, mint.ErrUnknownCall)
}

func TestSettle_SecondSettlementOfSameCallIsUnknown(t *testing.T) {
	f := newFixture(t)
	h := f.request(t, "borrow:r1", "alice.near", 10)
	f.settle(t, h, mint.Succeeded([]byte(`"10"`)))

	_, err := f.handler.OnMintSettled(ledger.EntryRef{}, h.CallID, mint.Succeeded([]byte(`"10"`)))
	assert.ErrorIs(t, err, mint.ErrUnknownCall)
	assert.Equal(t, "10", f.ledger.Borrowed("alice.near").String())
}

func TestSettle_PendingAbortsWithoutEffect(t *testing.T) {
	f := newFixture(t)
	h := f.request(t, "borrow:r1", "alice.near", 10)

	assert.Panics(t, func() {
		_, _ = f.handler.OnMintSettled(ledger.EntryRef{}, h.CallID, mint.Outcome{Status: event.MintStatusPending})
	})
	assert.True(t, f.ledger.Borrowed("alice.near").IsZero())
	_, ok := f.registry.Get(h.CallID)
	assert.True(t, ok, "context survives the aborted call")
}

func TestSettle_OverflowIsFatal(t *testing.T) {
	f := newFixture(t)
	h1 := f.request(t, "borrow:r1", "alice.near", 1)
	f.settle(t, h1, mint.Succeeded([]byte(`"`+fpmath.MaxU128.String()+`"`)))

	h2 := f.request(t, "borrow:r2", "alice.near", 1)
	assert.Panics(t, func() {
		_, _ = f.handler.OnMintSettled(ledger.EntryRef{}, h2.CallID, mint.Succeeded([]byte(`"1"`)))
	})
	assert.Equal(t, fpmath.MaxU128.String(), f.ledger.Borrowed("alice.near").String())
}

// ============================================================================
// Test: Registry + LevelDB store
// ============================================================================

func TestRegistry_SurvivesRestartOnLevelDB(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	defer db.Close()

	reg, err := mint.NewRegistry(mint.NewLevelDBStore(db))
	require.NoError(t, err)
	req := mint.NewRequestor(reg, nil, 0)
	h1, err := req.RequestMint(mint.RequestRef{Key: "borrow:a", Timestamp: 2}, "alice.near", "wrap.near", u(1), u(5))
	require.NoError(t, err)
	_, err = req.RequestMint(mint.RequestRef{Key: "borrow:b", Timestamp: 1}, "bob.near", "wrap.near", u(1), u(7))
	require.NoError(t, err)
	require.NoError(t, reg.Remove(h1.CallID))

	reopened, err := mint.NewRegistry(mint.NewLevelDBStore(db))
	require.NoError(t, err)
	pending := reopened.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "bob.near", pending[0].Account)
	assert.Equal(t, "7", pending[0].DesiredBorrowAmount.String())
}

func TestRegistry_PendingOrder(t *testing.T) {
	reg, err := mint.NewRegistry(mint.NewMemStore())
	require.NoError(t, err)
	require.NoError(t, reg.Put(mint.MintRequestContext{CallID: "b", RequestedAt: 5}))
	require.NoError(t, reg.Put(mint.MintRequestContext{CallID: "a", RequestedAt: 5}))
	require.NoError(t, reg.Put(mint.MintRequestContext{CallID: "c", RequestedAt: 1}))

	var ids []string
	for _, c := range reg.Pending() {
		ids = append(ids, c.CallID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

// ============================================================================
// Test: AsyncScheduler
// ============================================================================

func TestAsyncScheduler_PostsSettlement(t *testing.T) {
	issuer := testutil.NewFakeIssuer(mint.Failed("default"))
	issuer.Script("alice.near", mint.Succeeded([]byte(`"42"`)))

	out := make(chan event.Event, 2)
	s := mint.NewAsyncScheduler(context.Background(), issuer, time.Second, out, zerolog.Nop())
	s.Schedule(mint.MintCall{CallID: "c1", AccountID: "alice.near", Amount: u(42)})
	s.Schedule(mint.MintCall{CallID: "c2", AccountID: "bob.near", Amount: u(1)})
	s.Wait()
	close(out)

	got := map[string]*event.MintSettled{}
	for e := range out {
		ms := e.(*event.MintSettled)
		got[ms.CallID] = ms
	}
	require.Len(t, got, 2)
	assert.Equal(t, event.MintStatusSucceeded, got["c1"].Status)
	assert.Equal(t, `"42"`, string(got["c1"].Payload))
	assert.Equal(t, event.MintStatusFailed, got["c2"].Status)
	assert.Equal(t, 2, issuer.CallCount())
}
