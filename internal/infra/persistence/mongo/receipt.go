package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/receiptstore"
)

// ReceiptStore adapts receiptstore.Store onto the send_receipts
// collection. Insert succeeding is the idempotence primitive: any caller
// who succeeds knows no prior delivery existed for that dedupe key.
type ReceiptStore struct {
	db *Database
}

// NewReceiptStore constructs a ReceiptStore over db.
func NewReceiptStore(db *Database) *ReceiptStore {
	return &ReceiptStore{db: db}
}

var _ receiptstore.Store = (*ReceiptStore)(nil)

// EnsureIndexes creates the unique dedupe_key index.
func (s *ReceiptStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.receipts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "dedupe_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errs.New("receiptstore.ensure_indexes", errs.CodeStorage, errs.WithCause(err))
	}
	return nil
}

// Insert writes a new receipt, absorbing a duplicate dedupe_key as
// inserted=false, meaning a concurrent worker already recorded the delivery.
func (s *ReceiptStore) Insert(ctx context.Context, receipt receiptstore.Receipt) (bool, error) {
	_, err := s.db.receipts.InsertOne(ctx, receipt)
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, errs.New("receiptstore.insert", errs.CodeStorage, errs.WithCause(err))
}

// Get returns the receipt for dedupeKey, or ok=false if none exists.
func (s *ReceiptStore) Get(ctx context.Context, dedupeKey string) (receiptstore.Receipt, bool, error) {
	var receipt receiptstore.Receipt
	err := s.db.receipts.FindOne(ctx, bson.M{"dedupe_key": dedupeKey}).Decode(&receipt)
	if err == mongo.ErrNoDocuments {
		return receiptstore.Receipt{}, false, nil
	}
	if err != nil {
		return receiptstore.Receipt{}, false, errs.New("receiptstore.get", errs.CodeStorage, errs.WithCause(err))
	}
	return receipt, true, nil
}
