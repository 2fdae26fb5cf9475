package core

import (
	"NaiVault/internal/event"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

type submission struct {
	evt    event.Event
	result chan error
}

// Loop owns a VaultCore and serializes every access to it on one goroutine.
// Inbound events, mint settlements and read queries all go through Run.
type Loop struct {
	core        *VaultCore
	inbox       chan submission
	settlements chan event.Event
	queries     chan func(*VaultCore)
	logger      zerolog.Logger
}

func NewLoop(c *VaultCore, inboxSize int, logger zerolog.Logger) *Loop {
	return NewLoopWithSettlements(c, make(chan event.Event, inboxSize), inboxSize, logger)
}

// NewLoopWithSettlements uses a settlement channel created by the caller, so
// the mint scheduler can be built before the core that needs it.
func NewLoopWithSettlements(c *VaultCore, settlements chan event.Event, inboxSize int, logger zerolog.Logger) *Loop {
	return &Loop{
		core:        c,
		inbox:       make(chan submission, inboxSize),
		settlements: settlements,
		queries:     make(chan func(*VaultCore)),
		logger:      logger,
	}
}

// Settlements is where the mint scheduler posts observed outcomes.
func (l *Loop) Settlements() chan<- event.Event {
	return l.settlements
}

// Run processes events until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s := <-l.inbox:
			s.result <- l.process(s.evt)

		case evt := <-l.settlements:
			l.process(evt)

		case fn := <-l.queries:
			fn(l.core)
		}
	}
}

func (l *Loop) process(evt event.Event) error {
	err := l.core.ProcessEvent(evt)
	if err != nil && !errors.Is(err, ErrRejected) {
		l.logger.Error().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("process event failed")
	}
	return err
}

// Submit hands evt to the core and waits until it has been processed.
func (l *Loop) Submit(ctx context.Context, evt event.Event) error {
	result := make(chan error, 1)
	select {
	case l.inbox <- submission{evt: evt, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inspect runs fn on the core goroutine. fn must not retain the core.
func (l *Loop) Inspect(ctx context.Context, fn func(*VaultCore)) error {
	done := make(chan struct{})
	wrapped := func(c *VaultCore) {
		defer close(done)
		fn(c)
	}
	select {
	case l.queries <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}
