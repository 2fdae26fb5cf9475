package ingestion

import (
	"NaiVault/internal/core"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	outboundStream       = "NAI_VAULT_EVENTS"
	outboundEventsPrefix = "nai.vault.events."
	borrowEventsSubject  = "nai.vault.borrows"
)

// OutboundPublisher publishes processed events to NATS for downstream consumers.
// Subjects: nai.vault.events.{event_type}, plus nai.vault.borrows for each
// completed borrow.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is a processed event as seen by downstream consumers.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Partition      *string         `json:"partition,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PublishableBorrow is the borrow event with the sequence of the settlement
// that produced it.
type PublishableBorrow struct {
	Sequence          int64  `json:"sequence"`
	AccountID         string `json:"account_id"`
	CollateralTokenID string `json:"collateral_token_id"`
	BorrowAmount      string `json:"borrow_amount"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes until ctx is done or the input closes. Failures are logged and
// skipped: the event log is the source of truth.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// ToPublishable converts a core output to its outbound form.
func ToPublishable(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	evt := ToPublishable(out)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Msg-Id dedups republished sequences within the stream window.
	msgID := fmt.Sprintf("seq-%d", evt.Sequence)
	if _, err := op.js.Publish(ctx, outboundEventsPrefix+evt.EventType, data, jetstream.WithMsgID(msgID)); err != nil {
		return err
	}

	if out.Borrow == nil {
		return nil
	}
	data, err = json.Marshal(PublishableBorrow{
		Sequence:          evt.Sequence,
		AccountID:         out.Borrow.AccountID,
		CollateralTokenID: out.Borrow.CollateralTokenID,
		BorrowAmount:      out.Borrow.BorrowAmount.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal borrow: %w", err)
	}
	_, err = op.js.Publish(ctx, borrowEventsSubject, data, jetstream.WithMsgID("borrow-"+msgID))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, maxAge time.Duration) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{"nai.vault.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
