package mint

import (
	"NaiVault/internal/event"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Issuer is the debt-token issuer capability. Mint must return a settled
// outcome: Succeeded with the raw reply, or Failed.
type Issuer interface {
	Mint(ctx context.Context, call MintCall) Outcome
}

// Scheduler dispatches mint calls without blocking the caller.
type Scheduler interface {
	Schedule(call MintCall)
}

// AsyncScheduler runs each call on its own goroutine and posts the observed
// outcome back as a MintSettled event.
type AsyncScheduler struct {
	ctx     context.Context
	issuer  Issuer
	timeout time.Duration
	out     chan<- event.Event
	now     func() time.Time
	logger  zerolog.Logger

	wg sync.WaitGroup
}

func NewAsyncScheduler(ctx context.Context, issuer Issuer, timeout time.Duration, out chan<- event.Event, logger zerolog.Logger) *AsyncScheduler {
	return &AsyncScheduler{
		ctx:     ctx,
		issuer:  issuer,
		timeout: timeout,
		out:     out,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *AsyncScheduler) Schedule(call MintCall) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		callCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
		outcome := s.issuer.Mint(callCtx, call)
		cancel()

		s.logger.Debug().
			Str("call_id", call.CallID).
			Str("status", outcome.Status.String()).
			Msg("mint call returned")

		settled := &event.MintSettled{
			CallID:    call.CallID,
			Status:    outcome.Status,
			Payload:   outcome.Payload,
			Reason:    outcome.Reason,
			Timestamp: s.now().UnixMicro(),
		}
		select {
		case s.out <- settled:
		case <-s.ctx.Done():
			// Shutting down: the context stays in the registry and is
			// finalized as orphaned on the next start.
			s.logger.Warn().Str("call_id", call.CallID).Msg("dropping settlement on shutdown")
		}
	}()
}

// Wait blocks until every scheduled call has posted its outcome or given up.
func (s *AsyncScheduler) Wait() {
	s.wg.Wait()
}
