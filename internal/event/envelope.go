package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTokenTransferReceived
	EventTypeBorrowRequested
	EventTypeMintSettled
	EventTypePolicyUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Ordering partition (nil for unordered events)
	Partition *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the upstream ordering partition, or nil when the
	// source gives no ordering guarantee.
	Partition() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTime returns the event's own timestamp in epoch microseconds.
	EventTime() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeTokenTransferReceived:
		return "TokenTransferReceived"
	case EventTypeBorrowRequested:
		return "BorrowRequested"
	case EventTypeMintSettled:
		return "MintSettled"
	case EventTypePolicyUpdated:
		return "PolicyUpdated"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for et := EventTypeTokenTransferReceived; et <= EventTypePolicyUpdated; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
