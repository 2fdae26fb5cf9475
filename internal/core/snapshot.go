package core

import (
	"NaiVault/internal/event"
	"NaiVault/internal/gate"
	"NaiVault/internal/ledger"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"fmt"
)

// SnapshotState is the core's full in-memory state at a sequence.
type SnapshotState struct {
	Sequence        int64                     `json:"sequence"`
	StateHash       [32]byte                  `json:"state_hash"`
	Balances        map[string]fpmath.U128    `json:"balances"` // account path -> balance
	Gate            gate.Snapshot             `json:"gate"`
	Pending         []mint.MintRequestContext `json:"pending"`
	SequenceState   map[string]int64          `json:"sequence_state"`
	IdempotencyKeys []string                  `json:"idempotency_keys"`
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Events after snap.Sequence are then replayed on top.
func (c *VaultCore) RestoreFromSnapshot(snap *SnapshotState) error {
	balances := make(map[ledger.AccountKey]fpmath.U128, len(snap.Balances))
	for path, v := range snap.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		balances[key] = v
	}
	if err := c.registry.Restore(snap.Pending); err != nil {
		return fmt.Errorf("restore pending mints: %w", err)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.balanceTracker.Restore(balances)
	c.gateState.Restore(snap.Gate)
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	if err := c.validator.ValidateAll(); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *VaultCore) CreateSnapshotState() *SnapshotState {
	balances := make(map[string]fpmath.U128)
	for key, v := range c.balanceTracker.Snapshot() {
		balances[key.AccountPath()] = v
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1, // last processed
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        balances,
		Gate:            c.gateState.Snapshot(),
		Pending:         c.registry.Pending(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *VaultCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// SetReplaying switches mint dispatch off while the event log is replayed:
// calls recorded during replay were already sent by the previous process.
func (c *VaultCore) SetReplaying(replaying bool) {
	c.replaying = replaying
	c.idempotency.localOnly = replaying
}

// OrphanSettlements builds a failed settlement for every pending mint. Run once
// after replay: a call whose result never reached the log before a restart can
// no longer be observed, so its borrow settles at zero.
func (c *VaultCore) OrphanSettlements(timestamp int64) []*event.MintSettled {
	pending := c.registry.Pending()
	out := make([]*event.MintSettled, 0, len(pending))
	for _, p := range pending {
		out = append(out, &event.MintSettled{
			CallID:    p.CallID,
			Status:    event.MintStatusFailed,
			Reason:    "orphaned",
			Timestamp: timestamp,
		})
	}
	if c.metrics != nil {
		c.metrics.MintOrphaned.Add(float64(len(out)))
	}
	return out
}

// GetSequence returns the next global sequence number to assign.
func (c *VaultCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *VaultCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

func (c *VaultCore) Position(account string) ledger.Position {
	return c.ledger.Position(account)
}

func (c *VaultCore) PendingMints() []mint.MintRequestContext {
	return c.registry.Pending()
}

func (c *VaultCore) GateSnapshot() gate.Snapshot {
	return c.gateState.Snapshot()
}
