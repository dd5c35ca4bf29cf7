// Command vivblisssync launches the catalog-reconciliation and
// chat-notification runtime: it crawls the configured extractor, reconciles
// product records against the Mongo-backed catalog, and dispatches outbox
// events to Telegram on independent tickers until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/bling0390/vivbliss-sync/internal/dispatcher"
	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/domain/outboxstore"
	"github.com/bling0390/vivbliss-sync/internal/domain/receiptstore"
	"github.com/bling0390/vivbliss-sync/internal/extractor"
	"github.com/bling0390/vivbliss-sync/internal/infra/config"
	mongostore "github.com/bling0390/vivbliss-sync/internal/infra/persistence/mongo"
	"github.com/bling0390/vivbliss-sync/internal/infra/telemetry"
	"github.com/bling0390/vivbliss-sync/internal/observability"
	"github.com/bling0390/vivbliss-sync/internal/reconciler"
	"github.com/bling0390/vivbliss-sync/internal/scheduler"
	"github.com/bling0390/vivbliss-sync/internal/strategy"
	"github.com/bling0390/vivbliss-sync/internal/transport"
	"github.com/bling0390/vivbliss-sync/internal/transport/telegram"
	"github.com/bling0390/vivbliss-sync/lib/async"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultConfigPath  = "config.yaml"
	loggerPrefix       = "vivblisssync "
	crawlInterval      = 15 * time.Minute
	dispatchInterval   = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
	mongoConnectMaxTry = 5
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(&stdLogger{logger: logger})

	cfg, err := config.Load(resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration loaded: mongo_db=%s strategy=%s chat=%s",
		cfg.MongoDatabase, cfg.MessageStrategy, cfg.TargetChat)

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.OTLPEndpoint != "",
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	observability.SetMetrics(telemetry.NewRecorder(telemetryProvider.Meter()))

	db, err := connectMongoWithRetry(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatalf("connect to mongo: %v", err)
	}

	catalog := mongostore.NewCatalogStore(db)
	outbox := mongostore.NewOutboxStore(db)
	receipts := mongostore.NewReceiptStore(db)

	if err := ensureIndexes(ctx, catalog, outbox, receipts); err != nil {
		logger.Fatalf("ensure indexes: %v", err)
	}

	rec := reconciler.New(catalog, outbox)

	telegramClient := telegram.New(cfg.Telegram.BotToken)
	var transportClient transport.Transport = telegramClient
	renderer := strategy.New(catalog, transportClient)

	pool, err := async.NewPool(cfg.WorkerPoolSize, cfg.WorkerPoolQueueCap)
	if err != nil {
		logger.Fatalf("initialize worker pool: %v", err)
	}
	defer pool.Close()

	disp := dispatcher.New(outbox, receipts, renderer, pool, strategy.Name(cfg.MessageStrategy), cfg.TargetChat)

	proc := extractor.NewProcessExtractor(cfg.ExtractorName, cfg.DataDir)
	sched := scheduler.New(proc, rec, disp, cfg.DataDir)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		sched.Run(ctx, crawlInterval, dispatchInterval)
	})

	logger.Print("vivblisssync started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, draining in-flight work")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	waitCh := make(chan struct{})
	go func() {
		lifecycle.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-shutdownCtx.Done():
		logger.Print("shutdown timed out waiting for scheduler loop")
	}

	if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown telemetry: %v", err)
	}
	if err := db.Disconnect(shutdownCtx); err != nil {
		logger.Printf("disconnect mongo: %v", err)
	}
	logger.Print("shutdown complete")
}

// stdLogger adapts the process logger to the observability.Logger
// interface so component-level structured entries share the same sink as
// the lifecycle messages below.
type stdLogger struct {
	logger *log.Logger
}

func (l *stdLogger) Debug(msg string, fields ...observability.Field) { l.write("DEBUG", msg, fields) }
func (l *stdLogger) Info(msg string, fields ...observability.Field)  { l.write("INFO", msg, fields) }
func (l *stdLogger) Error(msg string, fields ...observability.Field) { l.write("ERROR", msg, fields) }

func (l *stdLogger) write(level, msg string, fields []observability.Field) {
	if len(fields) == 0 {
		l.logger.Printf("%s %s", level, msg)
		return
	}
	buf := make([]byte, 0, 64)
	for _, f := range fields {
		buf = append(buf, ' ')
		buf = append(buf, f.Key...)
		buf = append(buf, '=')
		buf = fmt.Appendf(buf, "%v", f.Value)
	}
	l.logger.Printf("%s %s%s", level, msg, buf)
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("VIVBLISS_CONFIG_PATH"); env != "" {
		return env
	}
	return defaultConfigPath
}

func connectMongoWithRetry(ctx context.Context, uri, dbName string) (*mongostore.Database, error) {
	operation := func() (*mongostore.Database, error) {
		db, err := mongostore.Connect(ctx, uri, dbName)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return backoff.Retry(ctx, operation, backoff.WithMaxTries(uint(mongoConnectMaxTry)))
}

func ensureIndexes(ctx context.Context, catalog catalogstore.Store, outbox outboxstore.Store, receipts receiptstore.Store) error {
	if err := catalog.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("catalog indexes: %w", err)
	}
	if err := outbox.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("outbox indexes: %w", err)
	}
	if err := receipts.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("receipt indexes: %w", err)
	}
	return nil
}
