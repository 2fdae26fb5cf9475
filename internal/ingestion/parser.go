package ingestion

import (
	"NaiVault/internal/event"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEvent = errors.New("invalid event")

// ParseRawEvent converts a RawEvent (wire JSON + event type name) into a typed
// event. Only client-originated types are accepted: mint settlements are
// produced inside the service and never ingested.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	et := event.ParseEventType(eventType)
	switch et {
	case event.EventTypeTokenTransferReceived, event.EventTypeBorrowRequested, event.EventTypePolicyUpdated:
	default:
		return nil, fmt.Errorf("%w: event type %q is not ingestible", ErrInvalidEvent, eventType)
	}

	evt, err := event.Decode(et, raw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := validate(evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEvent, eventType, err)
	}
	return evt, nil
}

// validate checks shape only. Business checks (gate, account ids, amounts)
// belong to the core, which records them as rejections.
func validate(evt event.Event) error {
	if evt.EventTime() <= 0 {
		return errors.New("timestamp is required")
	}
	switch e := evt.(type) {
	case *event.TokenTransferReceived:
		if e.Sender == "" {
			return errors.New("sender_id is required")
		}
		if e.Sequence < 0 {
			return errors.New("sequence must not be negative")
		}
	case *event.BorrowRequested:
		if e.Account == "" || e.CollateralTokenID == "" {
			return errors.New("account_id and collateral_token_id are required")
		}
	case *event.PolicyUpdated:
		if e.UpdateID == "" {
			return errors.New("update_id is required")
		}
	}
	return nil
}

// ResolveEventType finds the event type for a NATS subject by longest
// matching subject prefix.
func ResolveEventType(subject string, subjects []SubjectConfig) string {
	bestLen := -1
	bestType := ""
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestType = cfg.EventType
		}
	}
	return bestType
}
