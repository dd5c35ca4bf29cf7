// Package catalogstore defines persistence contracts for the versioned
// product catalog: products and their per-version media rows.
package catalogstore

import (
	"context"
	"time"
)

// Price is the canonical persisted price shape.
type Price struct {
	Amount   string `bson:"amount"`
	Currency string `bson:"currency"`
}

// Product is the persisted catalog record, keyed by ProductKey.
type Product struct {
	ProductKey  string    `bson:"product_key"`
	URL         string    `bson:"url"`
	Title       *string   `bson:"title"`
	Price       *Price    `bson:"price"`
	Raw         any       `bson:"raw"`
	Fingerprint string    `bson:"fingerprint"`
	Version     int       `bson:"version"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// MediaType enumerates the kinds of media a product can carry.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Media is a write-once row attached to a product at a specific version.
type Media struct {
	ProductKey string    `bson:"product_key"`
	Version    int       `bson:"version"`
	MediaType  MediaType `bson:"media_type"`
	SourceURL  string    `bson:"source_url"`
	LocalPath  *string   `bson:"local_path"`
	CreatedAt  time.Time `bson:"created_at"`
}

// Store abstracts persistence for the product catalog. Implementations
// must enforce `product_key` uniqueness on Product and the composite
// unique key `(product_key, version, media_type, source_url)` on Media.
type Store interface {
	// GetProduct returns the current product row. If absent, it returns an
	// error satisfying errs.Is(err, errs.CodeNotFound).
	GetProduct(ctx context.Context, productKey string) (Product, error)

	// UpsertProduct inserts or replaces the product row. product.CreatedAt
	// is used only on insert; an existing row's CreatedAt is preserved.
	UpsertProduct(ctx context.Context, product Product) error

	// InsertMedia inserts media rows for a single product version.
	// Duplicate composite keys are absorbed: the call still reports
	// success, and the batch is not aborted.
	InsertMedia(ctx context.Context, media []Media) error

	// ListMedia returns up to limit media rows for (productKey, version),
	// ordered by CreatedAt ascending, for Strategy Renderer consumption.
	ListMedia(ctx context.Context, productKey string, version int, limit int) ([]Media, error)

	// EnsureIndexes creates the unique indexes this store depends on. It
	// must be safe to call on every process start.
	EnsureIndexes(ctx context.Context) error
}
