// Package receiptstore defines the persistence contract for the
// idempotence primitive: a durable record that a dedupe key has already
// been delivered at least once.
package receiptstore

import (
	"context"
	"time"
)

// Receipt records a confirmed downstream delivery, keyed by DedupeKey.
type Receipt struct {
	DedupeKey  string    `bson:"dedupe_key"`
	TargetChat string    `bson:"target_chat"`
	MessageIDs []string  `bson:"message_ids"`
	SentAt     time.Time `bson:"sent_at"`
}

// Store abstracts receipt persistence. Implementations must enforce a
// unique index on DedupeKey; insertion succeeding is the only proof a
// caller needs that no prior delivery exists for that key.
type Store interface {
	// Insert writes a new receipt. A DedupeKey collision is absorbed: the
	// call returns (false, nil) rather than an error, signaling the
	// caller that a concurrent worker already recorded the delivery.
	Insert(ctx context.Context, receipt Receipt) (inserted bool, err error)

	// Get returns the receipt for dedupeKey, or ok=false if none exists.
	Get(ctx context.Context, dedupeKey string) (receipt Receipt, ok bool, err error)

	// EnsureIndexes creates the indexes this store depends on. It must be
	// safe to call on every process start.
	EnsureIndexes(ctx context.Context) error
}
