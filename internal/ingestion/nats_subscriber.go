package ingestion

import (
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	"NaiVault/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// nakDelay spaces out redeliveries of messages the core could not take yet.
const nakDelay = time.Second

// NATSSubscriber consumes the inbound JetStream subjects and hands raw
// messages to the ingestion pump.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an inbound message before parsing.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
	TermFunc  func() // stop redelivery of a message that can never parse
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the inbound subject configuration. Transfers are
// published per token contract, nai.transfers.<token>, so each token's
// sequence arrives in order.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "nai.transfers.>", EventType: event.EventTypeTokenTransferReceived.String(), ConsumerName: "vault-transfers", StreamName: "NAI_TRANSFERS"},
		{Subject: "nai.borrows.>", EventType: event.EventTypeBorrowRequested.String(), ConsumerName: "vault-borrows", StreamName: "NAI_BORROWS"},
		{Subject: "nai.policy.>", EventType: event.EventTypePolicyUpdated.String(), ConsumerName: "vault-policy", StreamName: "NAI_POLICY"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.NakWithDelay(nakDelay) },
				TermFunc:  func() { msg.Term() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, maxAge time.Duration) error {
	for _, cfg := range DefaultSubjects() {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  []string{cfg.Subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    maxAge,
			Replicas:  1,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// Pump parses raw messages and submits them to the core one at a time. A
// message is acked once the core has decided it: applied, duplicate, rejected
// or fatally aborted. Anything else is nakked for redelivery, which includes a
// sequence gap ahead of a message still to be redelivered.
func Pump(ctx context.Context, rawChan <-chan RawEvent, subjects []SubjectConfig, sink Submitter, metrics *observability.Metrics, logger zerolog.Logger) {
	count := func(result string) {
		if metrics != nil {
			metrics.IngestMessages.WithLabelValues("nats", result).Inc()
		}
	}
	nak := func(raw RawEvent) {
		if raw.NakFunc != nil {
			raw.NakFunc()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			eventType := ResolveEventType(raw.Subject, subjects)
			evt, err := ParseRawEvent(raw, eventType)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable message")
				count("invalid")
				terminate(raw)
				continue
			}

			err = sink.Submit(ctx, evt)
			switch {
			case err == nil:
				if raw.AckFunc != nil {
					raw.AckFunc()
				}
				count("accepted")
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				nak(raw)
				return
			case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrFatal), errors.Is(err, core.ErrOutOfOrder):
				if raw.AckFunc != nil {
					raw.AckFunc()
				}
				count("rejected")
			default:
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("core did not take message, redelivering")
				nak(raw)
				count("retry")
			}
		}
	}
}

func terminate(raw RawEvent) {
	switch {
	case raw.TermFunc != nil:
		raw.TermFunc()
	case raw.AckFunc != nil:
		raw.AckFunc()
	}
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
