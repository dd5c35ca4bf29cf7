// Package scheduler implements the two scheduling entry points
// (`RunCrawl`, `DispatchOutbox`) plus a ticker-driven loop that
// invokes them on a cadence: the concrete, in-process scheduler this
// repository ships so the binary is runnable end-to-end. The core
// (Reconciler, Dispatcher) never depends on this package; it is wired
// the other way around.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/dispatcher"
	"github.com/bling0390/vivbliss-sync/internal/extractor"
	"github.com/bling0390/vivbliss-sync/internal/observability"
	"github.com/bling0390/vivbliss-sync/internal/reconciler"
)

const stateMarkerFileName = "crawl_state.txt"

// Scheduler drives the extractor-to-reconciler crawl pipeline and the
// outbox dispatch poll on behalf of whatever cron-like trigger the
// deployment uses.
type Scheduler struct {
	extractor  extractor.Extractor
	reconciler *reconciler.Reconciler
	dispatcher *dispatcher.Dispatcher
	dataDir    string
}

// New constructs a Scheduler. dataDir roots the extractor state marker.
func New(ext extractor.Extractor, rec *reconciler.Reconciler, disp *dispatcher.Dispatcher, dataDir string) *Scheduler {
	return &Scheduler{extractor: ext, reconciler: rec, dispatcher: disp, dataDir: dataDir}
}

// RunCrawl ensures the data directory layout exists, invokes the
// extractor in full mode when no prior state marker exists or forceFull
// is true, else incremental, reconciles every returned record, and
// persists a new state marker on success. Failure propagates.
func (s *Scheduler) RunCrawl(ctx context.Context, forceFull bool) error {
	stateDir := filepath.Join(s.dataDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return errs.New("scheduler.run_crawl", errs.CodeConfig, errs.WithCause(err))
	}
	markerPath := filepath.Join(stateDir, stateMarkerFileName)

	mode := extractor.ModeIncremental
	if forceFull {
		mode = extractor.ModeFull
	} else if _, err := os.Stat(markerPath); os.IsNotExist(err) {
		mode = extractor.ModeFull
	}

	records, err := s.extractor.Run(ctx, mode)
	if err != nil {
		return err
	}

	// One malformed record must not block the rest of the batch; failures
	// are collected and propagated together after every record had its
	// chance to reconcile.
	var reconcileErrs []error
	for _, rec := range records {
		if _, err := s.reconciler.Reconcile(ctx, rec); err != nil {
			reconcileErrs = append(reconcileErrs, err)
		}
	}
	if err := observability.AggregateErrors("run_crawl.reconcile", reconcileErrs); err != nil {
		return err
	}

	completedAt := time.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(markerPath, []byte(completedAt), 0o644); err != nil {
		return errs.New("scheduler.run_crawl", errs.CodeStorage, errs.WithCause(err))
	}

	observability.Log().Info("crawl completed",
		observability.Field{Key: "mode", Value: string(mode)},
		observability.Field{Key: "records", Value: len(records)},
	)
	return nil
}

// DispatchOutbox fans up to batchSize pending outbox events into the
// dispatcher's worker pool and returns the count dispatched.
func (s *Scheduler) DispatchOutbox(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 20
	}
	return s.dispatcher.Poll(ctx, batchSize)
}

// Run drives RunCrawl and DispatchOutbox on independent tickers until ctx
// is canceled. Errors are logged, not fatal; a single failed cycle must
// not stop subsequent cycles from firing.
func (s *Scheduler) Run(ctx context.Context, crawlInterval, dispatchInterval time.Duration) {
	crawlTicker := time.NewTicker(crawlInterval)
	dispatchTicker := time.NewTicker(dispatchInterval)
	defer crawlTicker.Stop()
	defer dispatchTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-crawlTicker.C:
			if err := s.RunCrawl(ctx, false); err != nil {
				observability.Log().Error("crawl cycle failed", observability.Field{Key: "error", Value: err.Error()})
			}
		case <-dispatchTicker.C:
			if _, err := s.DispatchOutbox(ctx, 20); err != nil {
				observability.Log().Error("dispatch cycle failed", observability.Field{Key: "error", Value: err.Error()})
			}
		}
	}
}
