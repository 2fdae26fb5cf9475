package projection

import (
	"NaiVault/internal/core"
	"NaiVault/internal/ledger"
	"NaiVault/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const watermarkName = "main"

// ProjectionOutput is the part of a core output the read models need.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Deltas    []BalanceDelta
	Borrow    *BorrowRecord
	Timestamp int64
}

// BalanceDelta is the signed change of one account's balance.
type BalanceDelta struct {
	Account ledger.AccountKey
	Delta   decimal.Decimal
}

// FromCoreOutput derives balance deltas and the borrow record from a core
// output. Debits increase a balance; credits increase external accounts and
// decrease user accounts, the same rule the core's tracker applies.
func FromCoreOutput(out core.CoreOutput) ProjectionOutput {
	po := ProjectionOutput{
		Sequence:  out.Envelope.Sequence,
		EventType: out.Envelope.EventType.String(),
		Timestamp: out.Envelope.Timestamp.UnixMicro(),
	}

	if out.Batch != nil {
		sums := make(map[ledger.AccountKey]decimal.Decimal)
		for _, j := range out.Batch.Journals {
			amount := decimal.NewFromBigInt(j.Amount.BigInt(), 0)
			sums[j.DebitAccount] = sums[j.DebitAccount].Add(amount)
			if j.CreditAccount.IsExternal() {
				sums[j.CreditAccount] = sums[j.CreditAccount].Add(amount)
			} else {
				sums[j.CreditAccount] = sums[j.CreditAccount].Sub(amount)
			}
		}
		for key, d := range sums {
			po.Deltas = append(po.Deltas, BalanceDelta{Account: key, Delta: d})
		}
		sort.Slice(po.Deltas, func(i, j int) bool {
			return po.Deltas[i].Account.AccountPath() < po.Deltas[j].Account.AccountPath()
		})
	}

	if s := out.Settlement; s != nil {
		po.Borrow = &BorrowRecord{
			Sequence:          po.Sequence,
			CallID:            s.Context.CallID,
			AccountID:         s.Context.Account,
			CollateralTokenID: s.Context.CollateralTokenID,
			Requested:         s.Context.DesiredBorrowAmount,
			Minted:            s.Actual,
			Resolution:        string(s.Resolution),
			SettledAt:         po.Timestamp,
		}
	}
	return po
}

// ProjectionWorker updates projection tables from processed events.
// Its channel is fed with drop-on-full sends; a projection that falls behind
// is rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	history   *BorrowHistory
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, history *BorrowHistory, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			po := FromCoreOutput(out)
			if po.Borrow != nil && pw.history != nil {
				pw.history.Add(*po.Borrow)
			}
			if po.Sequence <= pw.lastSeq {
				continue
			}

			if err := pw.processOutput(ctx, po); err != nil {
				// Eventually consistent; a rebuild restores it from the log.
				pw.logger.Warn().Err(err).Int64("sequence", po.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = po.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionSequence.Set(float64(po.Sequence))
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, po ProjectionOutput) error {
	start := time.Now()
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range po.Deltas {
		if err := updateBalance(ctx, tx, d, po.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	pw.observe("balances", start)

	if po.Borrow != nil {
		start = time.Now()
		if err := insertBorrow(ctx, tx, *po.Borrow); err != nil {
			return fmt.Errorf("borrow history projection: %w", err)
		}
		pw.observe("borrow_history", start)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, po.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

func updateBalance(ctx context.Context, tx *sql.Tx, d BalanceDelta, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, owner, sub_type, token, balance, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $5, last_sequence = $6, updated_at = NOW()
	`, d.Account.AccountPath(), ownerColumn(d.Account), d.Account.SubType.String(), d.Account.Token, d.Delta.String(), seq)
	return err
}

func ownerColumn(k ledger.AccountKey) string {
	if k.IsExternal() {
		return "external"
	}
	return k.Owner
}

// LoadWatermark returns the last sequence applied to the projections, or -1.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`, watermarkName,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

// RebuildProjections rebuilds the balance projection from the journal. Borrow
// history rows are keyed by sequence and survive a rebuild.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	// Debits add; credits add on external accounts and subtract on user accounts.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, owner, sub_type, token, balance, last_sequence)
		SELECT account_path,
		       CASE WHEN account_path LIKE 'external:%' THEN 'external' ELSE split_part(account_path, ':', 2) END,
		       CASE WHEN account_path LIKE 'external:%' THEN split_part(account_path, ':', 2) ELSE split_part(account_path, ':', 3) END,
		       token,
		       SUM(delta),
		       MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, token, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account, token,
			       CASE WHEN credit_account LIKE 'external:%' THEN amount ELSE -amount END,
			       sequence
			FROM event_log.journal
		) entries
		GROUP BY account_path, token
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		SELECT $1, COALESCE(MAX(sequence), -1), NOW() FROM event_log.events
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, watermarkName); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
