package main

import (
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	"NaiVault/internal/observability"
	"NaiVault/internal/persistence"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// recentKeyLimit caps how many logged idempotency keys warm the LRU on start.
const recentKeyLimit = 100_000

// recoverCore restores the latest verified snapshot, replays the event log on
// top and warms the idempotency cache. Nothing is dispatched or persisted while
// replaying.
func recoverCore(
	ctx context.Context,
	c *core.VaultCore,
	snapMgr *persistence.SnapshotManager,
	keys *persistence.PostgresIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		// A bad snapshot is not fatal: the full log replays from zero.
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from the start")
		snap = nil
	}
	if snap != nil {
		if err := c.RestoreFromSnapshot(&snap.SnapshotState); err != nil {
			return fmt.Errorf("restore snapshot at %d: %w", snap.Sequence, err)
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	start := time.Now()
	replayed, err := persistence.Replay(ctx, snapMgr, c, c.GetSequence())
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("event log replayed")

	// Warmed after replay: a warm key would make its own logged event look
	// like a duplicate.
	limit := lruCapacity
	if limit <= 0 || limit > recentKeyLimit {
		limit = recentKeyLimit
	}
	recent, err := keys.RecentKeys(ctx, limit)
	if err != nil {
		return fmt.Errorf("load recent idempotency keys: %w", err)
	}
	c.WarmLRU(recent)
	return nil
}

// finalizeOrphans settles every mint still pending after replay as failed.
// Their calls went out before the restart and their outcome can no longer be
// observed.
func finalizeOrphans(ctx context.Context, loop *core.Loop, logger zerolog.Logger) error {
	var orphans []*event.MintSettled
	if err := loop.Inspect(ctx, func(c *core.VaultCore) {
		orphans = c.OrphanSettlements(time.Now().UnixMicro())
	}); err != nil {
		return err
	}
	for _, o := range orphans {
		if err := loop.Submit(ctx, o); err != nil {
			return fmt.Errorf("finalize orphaned mint %s: %w", o.CallID, err)
		}
		logger.Warn().Str("call_id", o.CallID).Msg("orphaned mint settled as failed")
	}
	return nil
}

// runPeriodicSnapshots snapshots the core every interval events, checking
// every 10s.
func runPeriodicSnapshots(
	ctx context.Context,
	loop *core.Loop,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	var lastSnapshotSeq int64
	if err := loop.Inspect(ctx, func(c *core.VaultCore) { lastSnapshotSeq = c.GetSequence() }); err != nil {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var state *core.SnapshotState
			err := loop.Inspect(ctx, func(c *core.VaultCore) {
				if c.GetSequence()-lastSnapshotSeq >= interval {
					state = c.CreateSnapshotState()
				}
			})
			if err != nil || state == nil {
				continue
			}
			if err := takeSnapshot(ctx, state, snapMgr, metrics, logger); err != nil {
				logger.Warn().Err(err).Int64("sequence", state.Sequence).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = state.Sequence + 1
		}
	}
}

// takeSnapshot stores state and marks it verified once the event it ends at is
// durable in the log with the same hash.
func takeSnapshot(
	ctx context.Context,
	state *core.SnapshotState,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	if state.Sequence < 0 {
		return nil
	}

	size, err := snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{
		SnapshotState: *state,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := verifyWhenDurable(ctx, snapMgr, state.Sequence); err != nil {
		return err
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	logger.Info().Int64("sequence", state.Sequence).Int("size_bytes", size).Msg("snapshot saved")
	return nil
}

// verifyWhenDurable retries MarkVerified while the persistence worker catches
// up to the snapshot's sequence.
func verifyWhenDurable(ctx context.Context, snapMgr *persistence.SnapshotManager, sequence int64) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt < 8; attempt++ {
		if err = snapMgr.MarkVerified(ctx, sequence); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("verify snapshot %d: %w", sequence, err)
}
