package persistence_test

import (
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/persistence"
	"NaiVault/internal/testutil"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice.near"
	wrap  = "wrap.near"
)

func newCore(t *testing.T, persist chan core.CoreOutput) (*core.VaultCore, *testutil.RecordingScheduler) {
	t.Helper()
	reg, err := mint.NewRegistry(mint.NewMemStore())
	require.NoError(t, err)
	sched := &testutil.RecordingScheduler{}
	c, err := core.NewVaultCore(core.Options{
		SupportedTokens: []string{wrap},
		Registry:        reg,
		Scheduler:       sched,
		PersistChan:     persist,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	return c, sched
}

func transfer(id string, amount uint64, msg string, seq int64) *event.TokenTransferReceived {
	return &event.TokenTransferReceived{
		TransferID: id,
		TokenID:    wrap,
		Sender:     alice,
		Amount:     fpmath.NewU128(amount),
		Msg:        msg,
		Sequence:   seq,
		Timestamp:  1_000_000 + seq*1000,
	}
}

// seedLog runs a deposit, a borrow and its settlement through a core and
// writes the outputs with a persistence worker.
func seedLog(t *testing.T, db *sql.DB) *core.VaultCore {
	t.Helper()
	persist := make(chan core.CoreOutput, 16)
	c, sched := newCore(t, persist)

	require.NoError(t, c.ProcessEvent(transfer("t1", 100, "", 0)))
	require.NoError(t, c.ProcessEvent(transfer("t2", 50, `{"action":"borrow","borrow_amount":"40"}`, 1)))
	calls := sched.Dispatched()
	require.Len(t, calls, 1)
	require.NoError(t, c.ProcessEvent(&event.MintSettled{
		CallID:    calls[0].CallID,
		Status:    event.MintStatusSucceeded,
		Payload:   []byte(`"40"`),
		Timestamp: 2_000_000,
	}))
	close(persist)

	worker := persistence.NewPersistenceWorker(db, persist, 2, 5*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, worker.Run(context.Background()))
	return c
}

func TestEventLog_ReplayReproducesState(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	live := seedLog(t, db)
	sm := persistence.NewSnapshotManager(db)

	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest)

	replica, sched := newCore(t, nil)
	n, err := persistence.Replay(ctx, sm, replica, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, live.GetStateHash(), replica.GetStateHash())
	require.Equal(t, "40", replica.Position(alice).Borrowed.String())
	require.Empty(t, replica.PendingMints())
	require.Empty(t, sched.Dispatched(), "replay must not dispatch mints")
}

func TestEventLog_DecodeRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	seedLog(t, db)
	rows, err := persistence.NewSnapshotManager(db).LoadEventsFrom(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	evt, err := persistence.DecodeEvent(rows[1])
	require.NoError(t, err)
	tr, ok := evt.(*event.TokenTransferReceived)
	require.True(t, ok)
	require.Equal(t, "transfer:t2", tr.IdempotencyKey())
	require.Equal(t, "50", tr.Amount.String())
	require.NotNil(t, rows[1].PartitionKey)
	require.Equal(t, "token:wrap.near", *rows[1].PartitionKey)

	settledEvt, err := persistence.DecodeEvent(rows[2])
	require.NoError(t, err)
	require.Equal(t, []byte(`"40"`), settledEvt.(*event.MintSettled).Payload)
}

func TestIdempotency_LoggedKeysAreDuplicates(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedLog(t, db)
	checker := persistence.NewPostgresIdempotencyChecker(db)

	dup, err := checker.IsDuplicate("TokenTransferReceived", "transfer:t1")
	require.NoError(t, err)
	require.True(t, dup)

	dup, err = checker.IsDuplicate("TokenTransferReceived", "transfer:unknown")
	require.NoError(t, err)
	require.False(t, dup)

	keys, err := checker.RecentKeys(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"TokenTransferReceived:transfer:t2"}, keys[:1])
	require.Len(t, keys, 2)
}

func TestSnapshot_VerifiedOnlyAgainstLog(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	live := seedLog(t, db)
	sm := persistence.NewSnapshotManager(db)

	state := live.CreateSnapshotState()
	_, err := sm.SaveSnapshot(ctx, &persistence.SnapshotData{SnapshotState: *state, CreatedAt: time.Now()})
	require.NoError(t, err)

	snap, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, snap, "unverified snapshots are not loaded")

	require.NoError(t, sm.MarkVerified(ctx, state.Sequence))
	snap, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, int64(2), snap.Sequence)
	require.Equal(t, live.GetStateHash(), snap.StateHash)

	restored, _ := newCore(t, nil)
	require.NoError(t, restored.RestoreFromSnapshot(&snap.SnapshotState))
	n, err := persistence.Replay(ctx, sm, restored, restored.GetSequence())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, live.GetStateHash(), restored.GetStateHash())

	bogus := *state
	bogus.Sequence = 9
	_, err = sm.SaveSnapshot(ctx, &persistence.SnapshotData{SnapshotState: bogus, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.Error(t, sm.MarkVerified(ctx, 9))
}
