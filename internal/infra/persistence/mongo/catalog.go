package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
)

// CatalogStore adapts catalogstore.Store onto the products/product_media
// collections.
type CatalogStore struct {
	db *Database
}

// NewCatalogStore constructs a CatalogStore over db.
func NewCatalogStore(db *Database) *CatalogStore {
	return &CatalogStore{db: db}
}

var _ catalogstore.Store = (*CatalogStore)(nil)

// EnsureIndexes creates the unique product_key index and the composite
// unique media index.
func (s *CatalogStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.products.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "product_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errs.New("catalogstore.ensure_indexes", errs.CodeStorage, errs.WithCause(err))
	}
	_, err = s.db.media.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "product_key", Value: 1},
			{Key: "version", Value: 1},
			{Key: "media_type", Value: 1},
			{Key: "source_url", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errs.New("catalogstore.ensure_indexes", errs.CodeStorage, errs.WithCause(err))
	}
	return nil
}

// GetProduct returns the current product row for productKey.
func (s *CatalogStore) GetProduct(ctx context.Context, productKey string) (catalogstore.Product, error) {
	var product catalogstore.Product
	err := s.db.products.FindOne(ctx, bson.M{"product_key": productKey}).Decode(&product)
	if err == mongo.ErrNoDocuments {
		return catalogstore.Product{}, errs.New("catalogstore.get_product", errs.CodeNotFound,
			errs.WithMessage("product not found: "+productKey))
	}
	if err != nil {
		return catalogstore.Product{}, errs.New("catalogstore.get_product", errs.CodeStorage, errs.WithCause(err))
	}
	return product, nil
}

// UpsertProduct inserts or replaces the product row in a single upsert,
// preserving CreatedAt on update via $setOnInsert.
func (s *CatalogStore) UpsertProduct(ctx context.Context, product catalogstore.Product) error {
	filter := bson.M{"product_key": product.ProductKey}
	update := bson.M{
		"$set": bson.M{
			"url":         product.URL,
			"title":       product.Title,
			"price":       product.Price,
			"raw":         product.Raw,
			"fingerprint": product.Fingerprint,
			"version":     product.Version,
			"updated_at":  product.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"product_key": product.ProductKey,
			"created_at":  product.CreatedAt,
		},
	}
	_, err := s.db.products.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return errs.New("catalogstore.upsert_product", errs.CodeStorage, errs.WithCause(err))
	}
	return nil
}

// InsertMedia inserts media rows for a single version, absorbing
// duplicate-key collisions on the composite unique index without
// aborting the rest of the batch.
func (s *CatalogStore) InsertMedia(ctx context.Context, media []catalogstore.Media) error {
	if len(media) == 0 {
		return nil
	}
	docs := make([]any, 0, len(media))
	for _, m := range media {
		docs = append(docs, m)
	}
	_, err := s.db.media.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}
	if isDuplicateKeyOnly(err) {
		return nil
	}
	return errs.New("catalogstore.insert_media", errs.CodeStorage, errs.WithCause(err))
}

// ListMedia returns up to limit media rows for (productKey, version),
// ordered by CreatedAt ascending.
func (s *CatalogStore) ListMedia(ctx context.Context, productKey string, version int, limit int) ([]catalogstore.Media, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.media.Find(ctx, bson.M{"product_key": productKey, "version": version}, opts)
	if err != nil {
		return nil, errs.New("catalogstore.list_media", errs.CodeStorage, errs.WithCause(err))
	}
	defer cursor.Close(ctx)
	var out []catalogstore.Media
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errs.New("catalogstore.list_media", errs.CodeStorage, errs.WithCause(err))
	}
	return out, nil
}

// isDuplicateKeyOnly reports whether err is exclusively a duplicate-key
// error (including the partial failures InsertMany reports via
// mongo.BulkWriteException when SetOrdered(false) is used), the expected,
// absorbed case for write-once media rows.
func isDuplicateKeyOnly(err error) bool {
	// Inspect the unordered-batch case first: IsDuplicateKeyError is
	// satisfied by ANY duplicate in the batch, which would mask a batch
	// that also carried a real write failure.
	if bwe, ok := err.(mongo.BulkWriteException); ok {
		if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
			return false
		}
		for _, we := range bwe.WriteErrors {
			if we.Code != 11000 {
				return false
			}
		}
		return true
	}
	return mongo.IsDuplicateKeyError(err)
}
