// Package mongo adapts the domain store contracts (catalogstore,
// outboxstore, receiptstore) onto MongoDB, using the document-level
// atomicity of FindOneAndUpdate and unique indexes as the sole
// synchronization primitives the core depends on.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bling0390/vivbliss-sync/errs"
)

const (
	collectionProducts     = "products"
	collectionProductMedia = "product_media"
	collectionOutboxEvents = "outbox_events"
	collectionSendReceipts = "send_receipts"
)

// Database bundles the collections every store implementation needs.
type Database struct {
	client   *mongo.Client
	db       *mongo.Database
	products *mongo.Collection
	media    *mongo.Collection
	outbox   *mongo.Collection
	receipts *mongo.Collection
}

// Connect dials MongoDB and returns a Database handle bound to dbName.
// Callers are responsible for calling Disconnect during shutdown.
func Connect(ctx context.Context, uri string, dbName string) (*Database, error) {
	if uri == "" || dbName == "" {
		return nil, errs.New("mongo.connect", errs.CodeConfig, errs.WithMessage("mongo uri and database name are required"))
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errs.New("mongo.connect", errs.CodeStorage, errs.WithCause(err))
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, errs.New("mongo.connect", errs.CodeStorage, errs.WithMessage("ping failed"), errs.WithCause(err))
	}
	db := client.Database(dbName)
	return &Database{
		client:   client,
		db:       db,
		products: db.Collection(collectionProducts),
		media:    db.Collection(collectionProductMedia),
		outbox:   db.Collection(collectionOutboxEvents),
		receipts: db.Collection(collectionSendReceipts),
	}, nil
}

// Disconnect releases the underlying client connection.
func (d *Database) Disconnect(ctx context.Context) error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Disconnect(ctx)
}

func (d *Database) now() time.Time {
	return time.Now().UTC()
}
