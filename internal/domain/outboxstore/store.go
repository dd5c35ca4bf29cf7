// Package outboxstore defines persistence contracts for the durable,
// lease-claimed queue of pending change notifications.
package outboxstore

import (
	"context"
	"time"
)

// Status enumerates the OutboxEvent lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
)

// EventType enumerates the change notification kinds the Reconciler emits.
type EventType string

const (
	EventProductCreated EventType = "product_created"
	EventProductUpdated EventType = "product_updated"
)

// Payload is the event body: a product summary snapshot plus a change
// descriptor, as the Reconciler recorded it at insert time.
type Payload struct {
	ProductKey      string   `bson:"product_key"`
	URL             string   `bson:"url"`
	Title           *string  `bson:"title"`
	PriceAmount     *string  `bson:"price_amount"`
	PriceCurrency   *string  `bson:"price_currency"`
	ChangedFields   []string `bson:"changed_fields"`
	PreviousVersion *int     `bson:"previous_version"`
}

// Event is a new outbox entry ready to be inserted.
type Event struct {
	DedupeKey  string
	ProductKey string
	Version    int
	EventType  EventType
	Payload    Payload
}

// EventRecord is the persisted state of an outbox entry.
type EventRecord struct {
	DedupeKey    string    `bson:"dedupe_key"`
	ProductKey   string    `bson:"product_key"`
	Version      int       `bson:"version"`
	EventType    EventType `bson:"event_type"`
	Payload      Payload   `bson:"payload"`
	Status       Status    `bson:"status"`
	TryCount     int       `bson:"try_count"`
	LastError    string    `bson:"last_error"`
	StrategyUsed string    `bson:"strategy_used"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// Store abstracts outbox persistence. Implementations must enforce a
// unique index on DedupeKey and a compound `(status, created_at)` index
// supporting ListPending, and must implement Claim as a single atomic
// conditional read-modify-write.
type Store interface {
	// Insert adds a new pending event. A DedupeKey collision is absorbed:
	// the call returns (false, nil) rather than an error.
	Insert(ctx context.Context, evt Event) (inserted bool, err error)

	// ListPending returns up to limit pending events ordered by
	// CreatedAt ascending.
	ListPending(ctx context.Context, limit int) ([]EventRecord, error)

	// Claim atomically transitions one event from pending to processing,
	// incrementing TryCount and stamping UpdatedAt. ok is false if the
	// event was not pending (already claimed, or already sent); the
	// caller must treat this as skipped, not as an error.
	Claim(ctx context.Context, dedupeKey string) (record EventRecord, ok bool, err error)

	// MarkSent transitions an event to sent, recording the strategy used
	// and clearing LastError.
	MarkSent(ctx context.Context, dedupeKey string, strategyUsed string) error

	// RevertToPending transitions an event back to pending after a
	// transport failure, recording the error message.
	RevertToPending(ctx context.Context, dedupeKey string, lastError string) error

	// ReclaimStale transitions events stuck in processing for longer than
	// olderThan back to pending. It is an opt-in extension the core
	// dispatcher never calls by default; dispatcher.ReclaimStale is the
	// operator-facing wrapper around it.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// EnsureIndexes creates the indexes this store depends on. It must be
	// safe to call on every process start.
	EnsureIndexes(ctx context.Context) error
}
