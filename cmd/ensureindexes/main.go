// Command ensureindexes connects to MongoDB and creates the unique indexes
// every store implementation relies on for its duplicate-suppression and
// atomic-claim guarantees. It is the Mongo analog of a schema migration
// step and is meant to run once before the main runtime starts, or
// idempotently on every deploy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bling0390/vivbliss-sync/internal/infra/config"
	mongostore "github.com/bling0390/vivbliss-sync/internal/infra/persistence/mongo"
)

const (
	defaultConfigPath = "config.yaml"
	connectTimeout    = 15 * time.Second
)

func main() {
	cfgPathFlag := flag.String("config", "", fmt.Sprintf("path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()

	logger := log.New(os.Stdout, "ensureindexes ", log.LstdFlags)

	cfgPath := *cfgPathFlag
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatalf("connect to mongo: %v", err)
	}
	defer db.Disconnect(context.Background())

	catalog := mongostore.NewCatalogStore(db)
	outbox := mongostore.NewOutboxStore(db)
	receipts := mongostore.NewReceiptStore(db)

	if err := catalog.EnsureIndexes(ctx); err != nil {
		logger.Fatalf("ensure catalog indexes: %v", err)
	}
	logger.Print("catalog indexes ensured")

	if err := outbox.EnsureIndexes(ctx); err != nil {
		logger.Fatalf("ensure outbox indexes: %v", err)
	}
	logger.Print("outbox indexes ensured")

	if err := receipts.EnsureIndexes(ctx); err != nil {
		logger.Fatalf("ensure receipt indexes: %v", err)
	}
	logger.Print("receipt indexes ensured")
}
