package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/outboxstore"
)

// OutboxStore adapts outboxstore.Store onto the outbox_events collection.
// The pending->processing transition is a single FindOneAndUpdate
// conditional on status=pending; Mongo's document-level atomicity is
// the mutual-exclusion primitive, so at most one caller ever observes
// ok=true for a given event.
type OutboxStore struct {
	db *Database
}

// NewOutboxStore constructs an OutboxStore over db.
func NewOutboxStore(db *Database) *OutboxStore {
	return &OutboxStore{db: db}
}

var _ outboxstore.Store = (*OutboxStore)(nil)

// EnsureIndexes creates the unique dedupe_key index and the compound
// (status, created_at) index used by ListPending.
func (s *OutboxStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.outbox.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "dedupe_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errs.New("outboxstore.ensure_indexes", errs.CodeStorage, errs.WithCause(err))
	}
	_, err = s.db.outbox.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
		},
	})
	if err != nil {
		return errs.New("outboxstore.ensure_indexes", errs.CodeStorage, errs.WithCause(err))
	}
	return nil
}

// Insert adds a new pending event, absorbing a dedupe_key collision
// (the expected retry-of-the-same-reconciliation case) as inserted=false.
func (s *OutboxStore) Insert(ctx context.Context, evt outboxstore.Event) (bool, error) {
	now := s.db.now()
	doc := outboxstore.EventRecord{
		DedupeKey:  evt.DedupeKey,
		ProductKey: evt.ProductKey,
		Version:    evt.Version,
		EventType:  evt.EventType,
		Payload:    evt.Payload,
		Status:     outboxstore.StatusPending,
		TryCount:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.outbox.InsertOne(ctx, doc)
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, errs.New("outboxstore.insert", errs.CodeStorage, errs.WithCause(err))
}

// ListPending returns up to limit pending events ordered by created_at.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]outboxstore.EventRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.outbox.Find(ctx, bson.M{"status": outboxstore.StatusPending}, opts)
	if err != nil {
		return nil, errs.New("outboxstore.list_pending", errs.CodeStorage, errs.WithCause(err))
	}
	defer cursor.Close(ctx)
	var out []outboxstore.EventRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errs.New("outboxstore.list_pending", errs.CodeStorage, errs.WithCause(err))
	}
	return out, nil
}

// Claim atomically transitions one event from pending to processing.
func (s *OutboxStore) Claim(ctx context.Context, dedupeKey string) (outboxstore.EventRecord, bool, error) {
	filter := bson.M{"dedupe_key": dedupeKey, "status": outboxstore.StatusPending}
	update := bson.M{
		"$set": bson.M{"status": outboxstore.StatusProcessing, "updated_at": s.db.now()},
		"$inc": bson.M{"try_count": 1},
	}
	after := options.After
	var record outboxstore.EventRecord
	err := s.db.outbox.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return outboxstore.EventRecord{}, false, nil
	}
	if err != nil {
		return outboxstore.EventRecord{}, false, errs.New("outboxstore.claim", errs.CodeStorage, errs.WithCause(err))
	}
	return record, true, nil
}

// MarkSent transitions an event to sent.
func (s *OutboxStore) MarkSent(ctx context.Context, dedupeKey string, strategyUsed string) error {
	_, err := s.db.outbox.UpdateOne(ctx,
		bson.M{"dedupe_key": dedupeKey},
		bson.M{"$set": bson.M{
			"status":        outboxstore.StatusSent,
			"strategy_used": strategyUsed,
			"last_error":    "",
			"updated_at":    s.db.now(),
		}})
	if err != nil {
		return errs.New("outboxstore.mark_sent", errs.CodeStorage, errs.WithCause(err))
	}
	return nil
}

// RevertToPending transitions an event back to pending after a transport
// failure, leaving try_count as the Claim call left it (it is observable
// but never capped here).
func (s *OutboxStore) RevertToPending(ctx context.Context, dedupeKey string, lastError string) error {
	_, err := s.db.outbox.UpdateOne(ctx,
		bson.M{"dedupe_key": dedupeKey},
		bson.M{"$set": bson.M{
			"status":     outboxstore.StatusPending,
			"last_error": lastError,
			"updated_at": s.db.now(),
		}})
	if err != nil {
		return errs.New("outboxstore.revert_to_pending", errs.CodeStorage, errs.WithCause(err))
	}
	return nil
}

// ReclaimStale reverts processing events untouched for longer than
// olderThan back to pending. Opt-in extension; never called by the
// default dispatcher loop.
func (s *OutboxStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.db.now().Add(-olderThan)
	res, err := s.db.outbox.UpdateMany(ctx,
		bson.M{"status": outboxstore.StatusProcessing, "updated_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"status": outboxstore.StatusPending, "updated_at": s.db.now()}})
	if err != nil {
		return 0, errs.New("outboxstore.reclaim_stale", errs.CodeStorage, errs.WithCause(err))
	}
	return res.ModifiedCount, nil
}
