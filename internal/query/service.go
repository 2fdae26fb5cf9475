package query

import (
	"NaiVault/internal/core"
	"NaiVault/internal/ledger"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/projection"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Inspector runs a read on the core goroutine.
type Inspector interface {
	Inspect(ctx context.Context, fn func(*core.VaultCore)) error
}

// QueryService is the read side. Positions and history come from the
// projection tables (eventually consistent, tagged with as_of_sequence);
// live views go through the core loop.
type QueryService struct {
	db       *sql.DB
	core     Inspector
	history  *projection.BorrowHistory
	decimals map[string]int32
}

// NewQueryService wires the read side. decimals maps token ids to display
// decimals; the debt token is always known.
func NewQueryService(db *sql.DB, inspector Inspector, history *projection.BorrowHistory, decimals map[string]int32) *QueryService {
	d := map[string]int32{ledger.DebtToken: fpmath.NAIUnits.Decimals}
	for tok, n := range decimals {
		d[tok] = n
	}
	return &QueryService{db: db, core: inspector, history: history, decimals: d}
}

func (qs *QueryService) amount(token string, v fpmath.U128) TokenAmount {
	ta := TokenAmount{Token: token, Amount: v.String(), Display: v.String()}
	if n, ok := qs.decimals[token]; ok {
		ta.Display = fpmath.FormatUnits(v, n)
	}
	return ta
}

// GetPosition returns an account's collateral and debt from the balance
// projection.
func (qs *QueryService) GetPosition(ctx context.Context, account string) (*PositionResponse, error) {
	if err := ledger.ValidateAccountID(account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	asOfSeq, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sub_type, token, balance::text
		FROM projections.balances
		WHERE owner = $1
		ORDER BY token
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &PositionResponse{
		AccountID:    account,
		Collateral:   []TokenAmount{},
		Borrowed:     qs.amount(ledger.DebtToken, fpmath.U128{}),
		AsOfSequence: asOfSeq,
	}
	for rows.Next() {
		var subType, token, balance string
		if err := rows.Scan(&subType, &token, &balance); err != nil {
			return nil, err
		}
		v, err := fpmath.ParseU128(balance)
		if err != nil {
			return nil, fmt.Errorf("balance of %s %s: %w", account, token, err)
		}
		switch subType {
		case ledger.SubTypeCollateral.String():
			if !v.IsZero() {
				resp.Collateral = append(resp.Collateral, qs.amount(token, v))
			}
		case ledger.SubTypeBorrowed.String():
			resp.Borrowed = qs.amount(token, v)
		}
	}
	return resp, rows.Err()
}

// GetLivePosition reads the position from the core itself. AsOfSequence is
// the last applied sequence.
func (qs *QueryService) GetLivePosition(ctx context.Context, account string) (*PositionResponse, error) {
	if err := ledger.ValidateAccountID(account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var pos ledger.Position
	var seq int64
	if err := qs.core.Inspect(ctx, func(c *core.VaultCore) {
		pos = c.Position(account)
		seq = c.GetSequence() - 1
	}); err != nil {
		return nil, err
	}

	resp := &PositionResponse{
		AccountID:    account,
		Collateral:   make([]TokenAmount, 0, len(pos.Collateral)),
		Borrowed:     qs.amount(ledger.DebtToken, pos.Borrowed),
		AsOfSequence: seq,
	}
	tokens := make([]string, 0, len(pos.Collateral))
	for tok := range pos.Collateral {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	for _, tok := range tokens {
		resp.Collateral = append(resp.Collateral, qs.amount(tok, pos.Collateral[tok]))
	}
	return resp, nil
}

// GetBorrowHistory returns an account's settlements, newest first. Served from
// the in-memory cache when it holds enough entries, otherwise from Postgres.
func (qs *QueryService) GetBorrowHistory(ctx context.Context, account string, limit int) (*BorrowHistoryResponse, error) {
	if err := ledger.ValidateAccountID(account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	resp := &BorrowHistoryResponse{AccountID: account, Entries: []BorrowHistoryEntry{}}
	var records []projection.BorrowRecord
	if qs.history != nil && qs.history.Covers(account, limit) {
		records, _ = qs.history.QueryByAccount(account, limit)
		resp.Source = "cache"
	}
	if resp.Source == "" {
		var err error
		records, err = projection.QueryBorrowHistory(ctx, qs.db, account, limit)
		if err != nil {
			return nil, err
		}
		resp.Source = "postgres"
	}

	for _, r := range records {
		resp.Entries = append(resp.Entries, BorrowHistoryEntry{
			Sequence:          r.Sequence,
			CallID:            r.CallID,
			CollateralTokenID: r.CollateralTokenID,
			Requested:         qs.amount(ledger.DebtToken, r.Requested),
			Minted:            qs.amount(ledger.DebtToken, r.Minted),
			Resolution:        r.Resolution,
			SettledAt:         r.SettledAt,
		})
	}
	return resp, nil
}

// ListPendingMints returns in-flight mint calls, optionally for one account.
func (qs *QueryService) ListPendingMints(ctx context.Context, account string) ([]PendingMintResponse, error) {
	var pending []mint.MintRequestContext
	if err := qs.core.Inspect(ctx, func(c *core.VaultCore) {
		pending = c.PendingMints()
	}); err != nil {
		return nil, err
	}

	out := []PendingMintResponse{}
	for _, p := range pending {
		if account != "" && p.Account != account {
			continue
		}
		out = append(out, PendingMintResponse{
			CallID:            p.CallID,
			AccountID:         p.Account,
			CollateralTokenID: p.CollateralTokenID,
			CollateralAmount:  qs.amount(p.CollateralTokenID, p.CollateralAmount),
			Desired:           qs.amount(ledger.DebtToken, p.DesiredBorrowAmount),
			RequestedAt:       p.RequestedAt,
		})
	}
	return out, nil
}

// GetSystemStatus returns the live sequence, hash and gate state.
func (qs *QueryService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	var st SystemStatus
	if err := qs.core.Inspect(ctx, func(c *core.VaultCore) {
		hash := c.GetStateHash()
		g := c.GateSnapshot()
		st = SystemStatus{
			Sequence:        c.GetSequence() - 1,
			StateHash:       hex.EncodeToString(hash[:]),
			Paused:          g.Paused,
			Blacklist:       g.Blacklist,
			SupportedTokens: g.SupportedTokens,
			PendingMints:    len(c.PendingMints()),
		}
	}); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that the
// balance projection satisfies the custody and issuance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// collateral pairs with custody, borrowed with minted
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT token,
		       CASE WHEN owner = 'external' THEN
		            CASE sub_type WHEN 'custody' THEN 'collateral' ELSE 'borrowed' END
		       ELSE sub_type END AS kind,
		       COALESCE(SUM(balance) FILTER (WHERE owner <> 'external'), 0)::text,
		       COALESCE(SUM(balance) FILTER (WHERE owner = 'external'), 0)::text
		FROM projections.balances
		GROUP BY 1, 2
		HAVING COALESCE(SUM(balance) FILTER (WHERE owner <> 'external'), 0)
		    != COALESCE(SUM(balance) FILTER (WHERE owner = 'external'), 0)
		ORDER BY 1, 2
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedToken
		if err := balanceRows.Scan(&u.Token, &u.SubType, &u.UserTotal, &u.ExternalTotal); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, nil
}
