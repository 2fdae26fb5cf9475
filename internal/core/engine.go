package core

import (
	"NaiVault/internal/event"
	"NaiVault/internal/gate"
	"NaiVault/internal/ledger"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/observability"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// VaultCore is the single-threaded event processor. It is the only writer of the
// ledger, the gate state and the pending-mint registry; every state-mutating
// entry point is an event passed to ProcessEvent, which runs to completion
// before the next one starts.
type VaultCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	ledger            *ledger.VaultLedger
	validator         *ledger.InvariantValidator
	gateState         *gate.State
	gate              *gate.Gate
	registry          *mint.Registry
	requestor         *mint.Requestor
	handler           *mint.Handler
	sufficiency       mint.SufficiencyChecker
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	invariantInterval int64
	replaying         bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	publishChan    chan<- CoreOutput
}

// CoreOutput is everything one committed event produced.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event
	Batch      *ledger.Batch
	Settlement *mint.Settlement // set for MintSettled
	Borrow     *event.BorrowEvent
	StateDelta []byte
}

// Options configures a VaultCore.
type Options struct {
	StartSequence       int64
	SupportedTokens     []string
	IdempotencyCapacity int
	MintGas             uint64
	InvariantInterval   int64 // full invariant check every N events; 0 means every event

	Registry    *mint.Registry
	Scheduler   mint.Scheduler
	Sufficiency mint.SufficiencyChecker
	DBChecker   DBIdempotencyChecker

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	PublishChan    chan<- CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

func NewVaultCore(opts Options) (*VaultCore, error) {
	if opts.Registry == nil {
		return nil, errors.New("core: registry is required")
	}
	capacity := opts.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	sufficiency := opts.Sufficiency
	if sufficiency == nil {
		sufficiency = mint.HeldCollateral{}
	}

	tracker := ledger.NewBalanceTracker()
	vaultLedger := ledger.NewVaultLedger(tracker)
	gateState := gate.NewState(opts.SupportedTokens...)

	return &VaultCore{
		sequence:          opts.StartSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    tracker,
		ledger:            vaultLedger,
		validator:         ledger.NewInvariantValidator(tracker),
		gateState:         gateState,
		gate:              gate.New(gateState),
		registry:          opts.Registry,
		requestor:         mint.NewRequestor(opts.Registry, opts.Scheduler, opts.MintGas),
		handler:           mint.NewHandler(opts.Registry, vaultLedger),
		sufficiency:       sufficiency,
		idempotency:       NewIdempotencyChecker(capacity, opts.DBChecker, opts.Metrics),
		sequenceValidator: NewSequenceValidator(),
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		invariantInterval: opts.InvariantInterval,
		persistChan:       opts.PersistChan,
		projectionChan:    opts.ProjectionChan,
		publishChan:       opts.PublishChan,
	}, nil
}

// result is what a handler produced for one event.
type result struct {
	batch      *ledger.Batch
	extra      []byte // digest material for state not held in balances
	handle     *mint.PendingHandle
	settlement *mint.Settlement
}

// ProcessEvent is the main processing pipeline.
//
// Errors wrapping ErrRejected are final decisions; errors wrapping ErrFatal mean
// the call aborted with no state change; anything else is transient and the
// event may be retried.
func (c *VaultCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation for ordered sources
	partition := evt.Partition()
	if partition != nil {
		err := c.sequenceValidator.ValidateSequence(*partition, evt.SourceSequence(), isDuplicate)
		// The log only holds committed events, so rejected ones show up as gaps
		// on replay.
		if err != nil && c.replaying && errors.Is(err, ErrSequenceGap) {
			err = nil
		}
		if err != nil {
			c.recordRejected(eventType, err)
			if c.metrics != nil {
				if errors.Is(err, ErrSequenceGap) {
					c.metrics.EventSequenceGap.WithLabelValues(*partition).Inc()
				} else {
					c.metrics.EventOutOfOrder.WithLabelValues(*partition).Inc()
				}
			}
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		return nil
	}

	evt = c.withRequest(evt)
	payload, err := event.Encode(evt)
	if err != nil {
		c.consume(evt)
		c.recordRejected(eventType, err)
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}

	// Step 3: Dispatch. Handlers validate everything before their first write.
	res, err := c.apply(evt)
	if err != nil {
		switch {
		case errors.Is(err, ErrFatal):
			// Final for the event's source slot: the same input aborts the
			// same way. The key stays unmarked so a settlement aborted on a
			// pending outcome can still take the real one.
			if partition != nil {
				c.sequenceValidator.Advance(*partition, evt.SourceSequence())
			}
			if c.metrics != nil {
				c.metrics.CoreFatalAborts.WithLabelValues(eventType).Inc()
			}
			c.logger.Error().Err(err).
				Str("event_type", eventType).
				Str("idempotency_key", idempotencyKey).
				Msg("call aborted")
		case errors.Is(err, ErrRejected):
			c.consume(evt)
			c.recordRejected(eventType, err)
			c.logger.Info().
				Str("event_type", eventType).
				Str("idempotency_key", idempotencyKey).
				Str("reason", RejectReason(err)).
				Msg("event rejected")
		}
		return err
	}

	// Step 4: State hash
	stateDigest := c.computeStateDigest(res.batch, res.extra)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      partition,
		Timestamp:      time.UnixMicro(evt.EventTime()).UTC(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{
		Envelope:   envelope,
		Event:      evt,
		Batch:      res.batch,
		Settlement: res.settlement,
		StateDelta: stateDigest,
	}
	if res.settlement != nil {
		borrow := res.settlement.Borrow
		output.Borrow = &borrow
	}

	c.hasher.Advance(stateHash)
	c.sequence++

	// Step 5: Post-checks
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: Emit. Persistence blocks so nothing is lost; projections and the
	// outbound bus drop on full and catch up from the event log. Replayed events
	// are already in the log.
	if c.persistChan != nil && !c.replaying {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if c.publishChan != nil && !c.replaying {
		select {
		case c.publishChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}

	// Step 7: Mark as processed
	c.consume(evt)

	// Step 8: Release what waited on the commit
	if res.settlement != nil {
		if err := c.handler.Complete(res.settlement.Context.CallID); err != nil {
			c.logger.Warn().Err(err).Str("call_id", res.settlement.Context.CallID).
				Msg("settled mint still in pending store")
		}
	}
	if res.handle != nil && !c.replaying {
		c.requestor.Dispatch(*res.handle)
	}

	c.recordApplied(eventType, res, start)
	return nil
}

// apply runs the handler for evt, converting a *mint.FatalError panic into a
// returned error.
func (c *VaultCore) apply(evt event.Event) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*mint.FatalError)
			if !ok {
				panic(r)
			}
			res, err = result{}, fe
		}
	}()
	return c.dispatchEvent(evt)
}

// consume advances the event's partition and remembers its key.
func (c *VaultCore) consume(evt event.Event) {
	if p := evt.Partition(); p != nil {
		c.sequenceValidator.Advance(*p, evt.SourceSequence())
	}
	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
}

func (c *VaultCore) dispatchEvent(evt event.Event) (result, error) {
	switch e := evt.(type) {
	case *event.TokenTransferReceived:
		return c.handleTransfer(e)
	case *event.BorrowRequested:
		return c.handleBorrowRequested(e)
	case *event.MintSettled:
		return c.handleMintSettled(e)
	case *event.PolicyUpdated:
		return c.handlePolicyUpdated(e)
	default:
		return result{}, fmt.Errorf("%w: unknown event type %T", ErrRejected, evt)
	}
}

func reject(err error) error {
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

func (c *VaultCore) entryRef(evt event.Event) ledger.EntryRef {
	return ledger.EntryRef{
		EventRef:  evt.IdempotencyKey(),
		Sequence:  c.sequence,
		Timestamp: evt.EventTime(),
	}
}

// handleTransfer is on_token_received: gate, parse the message, deposit, and
// for a borrow message, request the mint.
func (c *VaultCore) handleTransfer(e *event.TokenTransferReceived) (result, error) {
	if err := c.gate.CanAccept(e.Sender, e.TokenID); err != nil {
		return result{}, reject(err)
	}
	if err := ledger.ValidateAccountID(e.Sender); err != nil {
		return result{}, reject(err)
	}
	msg, err := ParseTransferMessage(e.Msg)
	if err != nil {
		return result{}, reject(err)
	}

	var res result
	if msg.Action == ActionBorrow {
		available, err := c.ledger.Collateral(e.Sender, e.TokenID).Add(e.Amount)
		if err != nil {
			panic(&mint.FatalError{Op: "deposit collateral", Err: err})
		}
		if err := c.sufficiency.CheckSufficiency(mint.SufficiencyRequest{
			Account:   e.Sender,
			Token:     e.TokenID,
			Available: available,
			Pledged:   e.Amount,
			Desired:   *msg.BorrowAmount,
		}); err != nil {
			return result{}, reject(err)
		}

		ref := mint.RequestRef{Key: e.IdempotencyKey(), Timestamp: e.Timestamp}
		h, err := c.requestor.RequestMint(ref, e.Sender, e.TokenID, e.Amount, *msg.BorrowAmount)
		if err != nil {
			return result{}, err
		}
		res.handle = &h
		res.extra = pendingDigest(h.CallID, *msg.BorrowAmount)
	}

	batch, err := c.ledger.DepositCollateral(c.entryRef(e), e.Sender, e.TokenID, e.Amount)
	if err != nil {
		if res.handle != nil {
			_ = c.registry.Remove(res.handle.CallID)
		}
		panic(&mint.FatalError{Op: "deposit collateral", Err: err})
	}
	res.batch = batch
	return res, nil
}

// handleBorrowRequested requests a mint against collateral already deposited.
func (c *VaultCore) handleBorrowRequested(e *event.BorrowRequested) (result, error) {
	if err := c.gate.CanAccept(e.Account, e.CollateralTokenID); err != nil {
		return result{}, reject(err)
	}
	if err := ledger.ValidateAccountID(e.Account); err != nil {
		return result{}, reject(err)
	}
	if e.BorrowAmount.IsZero() {
		return result{}, reject(mint.ErrZeroBorrow)
	}
	if err := c.sufficiency.CheckSufficiency(mint.SufficiencyRequest{
		Account:   e.Account,
		Token:     e.CollateralTokenID,
		Available: c.ledger.Collateral(e.Account, e.CollateralTokenID),
		Pledged:   e.CollateralAmount,
		Desired:   e.BorrowAmount,
	}); err != nil {
		return result{}, reject(err)
	}

	ref := mint.RequestRef{Key: e.IdempotencyKey(), Timestamp: e.Timestamp}
	h, err := c.requestor.RequestMint(ref, e.Account, e.CollateralTokenID, e.CollateralAmount, e.BorrowAmount)
	if err != nil {
		return result{}, err
	}

	return result{
		batch:  c.emptyBatch(e),
		extra:  pendingDigest(h.CallID, e.BorrowAmount),
		handle: &h,
	}, nil
}

// handleMintSettled is on_mint_settled followed by finish_borrow.
func (c *VaultCore) handleMintSettled(e *event.MintSettled) (result, error) {
	// A settlement logged for a context the pending store has since dropped,
	// e.g. an orphan whose request never reached the log.
	if c.replaying && e.Request != nil {
		if _, ok := c.registry.Get(e.CallID); !ok {
			if err := c.registry.Put(mint.ContextFromRequest(e.CallID, *e.Request)); err != nil {
				return result{}, err
			}
		}
	}

	outcome := mint.Outcome{Status: e.Status, Payload: e.Payload, Reason: e.Reason}
	s, err := c.handler.OnMintSettled(c.entryRef(e), e.CallID, outcome)
	if err != nil {
		return result{}, reject(err)
	}

	return result{
		batch:      s.Batch,
		extra:      settlementDigest(e.CallID, s.Actual),
		settlement: &s,
	}, nil
}

// withRequest returns evt, or for a settlement of a pending call a copy
// carrying that call's request.
func (c *VaultCore) withRequest(evt event.Event) event.Event {
	e, ok := evt.(*event.MintSettled)
	if !ok || e.Request != nil {
		return evt
	}
	p, ok := c.registry.Get(e.CallID)
	if !ok {
		return evt
	}
	cp := *e
	cp.Request = p.Request()
	return &cp
}

func (c *VaultCore) handlePolicyUpdated(e *event.PolicyUpdated) (result, error) {
	if err := c.gateState.Apply(e); err != nil {
		return result{}, reject(err)
	}
	extra := []byte("policy:" + e.Action.String() + ":" + e.Target)
	return result{batch: c.emptyBatch(e), extra: extra}, nil
}

func (c *VaultCore) emptyBatch(evt event.Event) *ledger.Batch {
	ref := c.entryRef(evt)
	return &ledger.Batch{EventRef: ref.EventRef, Sequence: ref.Sequence, Timestamp: ref.Timestamp}
}

// computeStateDigest creates canonical bytes for state hash: every touched
// account with its new balance, followed by extra.
func (c *VaultCore) computeStateDigest(batch *ledger.Batch, extra []byte) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*96+len(extra))
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)

		balance := c.balanceTracker.GetBalance(key).Bytes16()
		digest = append(digest, balance[:]...)
	}
	return append(digest, extra...)
}

func pendingDigest(callID string, desired fpmath.U128) []byte {
	b := desired.Bytes16()
	return append([]byte("pending:"+callID+":"), b[:]...)
}

func settlementDigest(callID string, actual fpmath.U128) []byte {
	b := actual.Bytes16()
	return append([]byte("settled:"+callID+":"), b[:]...)
}

// postCheckInvariants runs the full custody and issuance checks periodically.
func (c *VaultCore) postCheckInvariants() error {
	if c.invariantInterval > 1 && c.sequence%c.invariantInterval != 0 {
		return nil
	}
	return c.validator.ValidateAll()
}

func (c *VaultCore) recordRejected(eventType string, err error) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, RejectReason(err)).Inc()
	}
}

func (c *VaultCore) recordApplied(eventType string, res result, start time.Time) {
	if res.settlement != nil {
		c.logSettlement(res.settlement)
	}
	if c.metrics == nil {
		return
	}
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
	c.metrics.DedupLRUEvictions.Set(float64(c.idempotency.Evictions()))
	c.metrics.MintPending.Set(float64(c.registry.Len()))
	if res.batch != nil {
		for _, j := range res.batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	if res.handle != nil {
		c.metrics.MintRequested.Inc()
	}
	if res.settlement != nil {
		c.metrics.MintSettlements.WithLabelValues(string(res.settlement.Resolution)).Inc()
		c.metrics.BorrowEvents.Inc()
	}
}

// logSettlement keeps the two zero-minted cases apart: a remote failure is the
// issuer saying no, a malformed response is the issuer saying yes in a shape
// we could not read.
func (c *VaultCore) logSettlement(s *mint.Settlement) {
	var ev *zerolog.Event
	switch s.Resolution {
	case mint.ResolutionMalformedResponse:
		ev = c.logger.Warn()
	case mint.ResolutionRemoteFailure:
		ev = c.logger.Info()
	default:
		ev = c.logger.Info()
		if s.Actual.Cmp(s.Context.DesiredBorrowAmount) > 0 {
			ev = c.logger.Warn().Bool("minted_above_request", true)
		}
	}
	ev.Str("call_id", s.Context.CallID).
		Str("account_id", s.Context.Account).
		Str("collateral_token_id", s.Context.CollateralTokenID).
		Str("requested", s.Context.DesiredBorrowAmount.String()).
		Str("minted", s.Actual.String()).
		Str("resolution", string(s.Resolution)).
		Bool("replay", c.replaying).
		Msg("borrow settled")
}
