package projection

import (
	fpmath "NaiVault/internal/math"
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// BorrowRecord is one settled borrow.
type BorrowRecord struct {
	Sequence          int64
	CallID            string
	AccountID         string
	CollateralTokenID string
	Requested         fpmath.U128
	Minted            fpmath.U128
	Resolution        string
	SettledAt         int64 // epoch microseconds
}

// BorrowHistory keeps the most recent settlements per account in memory.
// Safe for concurrent use: the projection worker writes, the query API reads.
type BorrowHistory struct {
	mu         sync.RWMutex
	perAccount int
	entries    map[string][]BorrowRecord // oldest first
}

func NewBorrowHistory(perAccount int) *BorrowHistory {
	if perAccount <= 0 {
		perAccount = 100
	}
	return &BorrowHistory{
		perAccount: perAccount,
		entries:    make(map[string][]BorrowRecord),
	}
}

// Add records a settlement. A sequence already held is ignored.
func (h *BorrowHistory) Add(r BorrowRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.entries[r.AccountID]
	if n := len(list); n > 0 && list[n-1].Sequence >= r.Sequence {
		return
	}
	list = append(list, r)
	if len(list) > h.perAccount {
		list = append([]BorrowRecord(nil), list[len(list)-h.perAccount:]...)
	}
	h.entries[r.AccountID] = list
}

// QueryByAccount returns up to limit settlements, newest first. ok is false
// when nothing is cached for the account.
func (h *BorrowHistory) QueryByAccount(account string, limit int) (records []BorrowRecord, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list, ok := h.entries[account]
	if !ok {
		return nil, false
	}
	result := make([]BorrowRecord, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, list[i])
	}
	return result, true
}

// Covers reports whether the cache alone can answer a query for limit rows.
// The cache only holds settlements seen since startup, so fewer than limit
// entries never prove the account has no older ones.
func (h *BorrowHistory) Covers(account string, limit int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.entries[account])
	return n > 0 && n >= limit
}

func insertBorrow(ctx context.Context, tx *sql.Tx, r BorrowRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.borrow_history
			(sequence, call_id, account_id, collateral_token_id, requested_amount, borrow_amount, resolution, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, r.Sequence, r.CallID, r.AccountID, r.CollateralTokenID,
		r.Requested.String(), r.Minted.String(), r.Resolution, r.SettledAt)
	return err
}

// QueryBorrowHistory reads an account's settlements from Postgres, newest first.
func QueryBorrowHistory(ctx context.Context, db *sql.DB, account string, limit int) ([]BorrowRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, call_id, account_id, collateral_token_id,
		       requested_amount::text, borrow_amount::text, resolution, settled_at
		FROM projections.borrow_history
		WHERE account_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BorrowRecord
	for rows.Next() {
		var r BorrowRecord
		var requested, minted string
		if err := rows.Scan(&r.Sequence, &r.CallID, &r.AccountID, &r.CollateralTokenID,
			&requested, &minted, &r.Resolution, &r.SettledAt); err != nil {
			return nil, err
		}
		if r.Requested, err = fpmath.ParseU128(requested); err != nil {
			return nil, fmt.Errorf("borrow history seq %d: %w", r.Sequence, err)
		}
		if r.Minted, err = fpmath.ParseU128(minted); err != nil {
			return nil, fmt.Errorf("borrow history seq %d: %w", r.Sequence, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
