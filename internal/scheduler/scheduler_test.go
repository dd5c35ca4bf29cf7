package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/domain/outboxstore"
	"github.com/bling0390/vivbliss-sync/internal/extractor"
	"github.com/bling0390/vivbliss-sync/internal/reconciler"
)

type fakeExtractor struct {
	lastMode extractor.Mode
	records  []reconciler.Record
}

func (f *fakeExtractor) Run(_ context.Context, mode extractor.Mode) ([]reconciler.Record, error) {
	f.lastMode = mode
	return f.records, nil
}

type memCatalog struct {
	mu       sync.Mutex
	products map[string]catalogstore.Product
}

func newMemCatalog() *memCatalog { return &memCatalog{products: map[string]catalogstore.Product{}} }

func (c *memCatalog) GetProduct(_ context.Context, key string) (catalogstore.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[key]
	if !ok {
		return catalogstore.Product{}, errs.New("memcatalog.get_product", errs.CodeNotFound)
	}
	return p, nil
}
func (c *memCatalog) UpsertProduct(_ context.Context, p catalogstore.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ProductKey] = p
	return nil
}
func (c *memCatalog) InsertMedia(context.Context, []catalogstore.Media) error { return nil }
func (c *memCatalog) ListMedia(context.Context, string, int, int) ([]catalogstore.Media, error) {
	return nil, nil
}
func (c *memCatalog) EnsureIndexes(context.Context) error { return nil }

type memOutbox struct {
	mu    sync.Mutex
	count int
}

func (o *memOutbox) Insert(context.Context, outboxstore.Event) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.count++
	return true, nil
}
func (o *memOutbox) ListPending(context.Context, int) ([]outboxstore.EventRecord, error) { return nil, nil }
func (o *memOutbox) Claim(context.Context, string) (outboxstore.EventRecord, bool, error) {
	return outboxstore.EventRecord{}, false, nil
}
func (o *memOutbox) MarkSent(context.Context, string, string) error             { return nil }
func (o *memOutbox) RevertToPending(context.Context, string, string) error      { return nil }
func (o *memOutbox) ReclaimStale(context.Context, time.Duration) (int64, error) { return 0, nil }
func (o *memOutbox) EnsureIndexes(context.Context) error                        { return nil }

func TestRunCrawlUsesFullModeWithoutPriorMarker(t *testing.T) {
	dataDir := t.TempDir()
	ext := &fakeExtractor{records: []reconciler.Record{{ProductKey: "42", URL: "u"}}}
	catalog := newMemCatalog()
	outbox := &memOutbox{}
	rec := reconciler.New(catalog, outbox)
	s := New(ext, rec, nil, dataDir)

	if err := s.RunCrawl(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.lastMode != extractor.ModeFull {
		t.Fatalf("expected full mode on first run, got %s", ext.lastMode)
	}

	markerPath := filepath.Join(dataDir, "state", "crawl_state.txt")
	if _, err := os.Stat(markerPath); err != nil {
		t.Fatalf("expected state marker to be written: %v", err)
	}
	if outbox.count != 1 {
		t.Fatalf("expected one outbox event from the crawl, got %d", outbox.count)
	}
}

func TestRunCrawlCollectsRecordFailuresAndSkipsMarker(t *testing.T) {
	dataDir := t.TempDir()
	ext := &fakeExtractor{records: []reconciler.Record{
		{URL: "u"}, // missing product_key, rejected before any write
		{ProductKey: "43", URL: "u2"},
	}}
	catalog := newMemCatalog()
	outbox := &memOutbox{}
	rec := reconciler.New(catalog, outbox)
	s := New(ext, rec, nil, dataDir)

	err := s.RunCrawl(context.Background(), false)
	if err == nil {
		t.Fatal("expected the malformed record's failure to propagate")
	}
	if outbox.count != 1 {
		t.Fatalf("expected the valid record to still reconcile, got %d events", outbox.count)
	}
	markerPath := filepath.Join(dataDir, "state", "crawl_state.txt")
	if _, statErr := os.Stat(markerPath); !os.IsNotExist(statErr) {
		t.Fatal("expected no state marker after a failed crawl")
	}
}

func TestRunCrawlUsesIncrementalModeAfterMarkerExists(t *testing.T) {
	dataDir := t.TempDir()
	ext := &fakeExtractor{}
	catalog := newMemCatalog()
	outbox := &memOutbox{}
	rec := reconciler.New(catalog, outbox)
	s := New(ext, rec, nil, dataDir)

	if err := s.RunCrawl(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RunCrawl(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.lastMode != extractor.ModeIncremental {
		t.Fatalf("expected incremental mode once a marker exists, got %s", ext.lastMode)
	}
}

func TestRunCrawlForceFullOverridesMarker(t *testing.T) {
	dataDir := t.TempDir()
	ext := &fakeExtractor{}
	catalog := newMemCatalog()
	outbox := &memOutbox{}
	rec := reconciler.New(catalog, outbox)
	s := New(ext, rec, nil, dataDir)

	if err := s.RunCrawl(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RunCrawl(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.lastMode != extractor.ModeFull {
		t.Fatalf("expected force_full to override the marker, got %s", ext.lastMode)
	}
}
