package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/domain/outboxstore"
)

// fakeCatalog and fakeOutbox are minimal in-memory stand-ins for the Mongo
// implementations, sufficient to exercise the Reconciler's decision logic
// without a real database.

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]catalogstore.Product
	media    map[string]bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: map[string]catalogstore.Product{}, media: map[string]bool{}}
}

func (f *fakeCatalog) GetProduct(_ context.Context, productKey string) (catalogstore.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productKey]
	if !ok {
		return catalogstore.Product{}, errs.New("fake.get_product", errs.CodeNotFound)
	}
	return p, nil
}

func (f *fakeCatalog) UpsertProduct(_ context.Context, product catalogstore.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[product.ProductKey] = product
	return nil
}

func (f *fakeCatalog) InsertMedia(_ context.Context, media []catalogstore.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range media {
		key := mediaKey(m.ProductKey, m.Version, string(m.MediaType), m.SourceURL)
		f.media[key] = true
	}
	return nil
}

func (f *fakeCatalog) ListMedia(_ context.Context, productKey string, version int, _ int) ([]catalogstore.Media, error) {
	return nil, nil
}

func (f *fakeCatalog) EnsureIndexes(context.Context) error { return nil }

func (f *fakeCatalog) mediaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.media)
}

func mediaKey(productKey string, version int, mediaType, sourceURL string) string {
	return fmt.Sprintf("%s|%d|%s|%s", productKey, version, mediaType, sourceURL)
}

type fakeOutbox struct {
	mu     sync.Mutex
	events map[string]outboxstore.EventRecord
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{events: map[string]outboxstore.EventRecord{}}
}

func (f *fakeOutbox) Insert(_ context.Context, evt outboxstore.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.events[evt.DedupeKey]; exists {
		return false, nil
	}
	f.events[evt.DedupeKey] = outboxstore.EventRecord{
		DedupeKey: evt.DedupeKey, ProductKey: evt.ProductKey, Version: evt.Version,
		EventType: evt.EventType, Payload: evt.Payload, Status: outboxstore.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	return true, nil
}

func (f *fakeOutbox) ListPending(context.Context, int) ([]outboxstore.EventRecord, error) { return nil, nil }
func (f *fakeOutbox) Claim(context.Context, string) (outboxstore.EventRecord, bool, error) {
	return outboxstore.EventRecord{}, false, nil
}
func (f *fakeOutbox) MarkSent(context.Context, string, string) error             { return nil }
func (f *fakeOutbox) RevertToPending(context.Context, string, string) error      { return nil }
func (f *fakeOutbox) ReclaimStale(context.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeOutbox) EnsureIndexes(context.Context) error                        { return nil }

func (f *fakeOutbox) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeOutbox) eventForVersion(version int) (outboxstore.EventRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.Version == version {
			return e, true
		}
	}
	return outboxstore.EventRecord{}, false
}

func strp(s string) *string { return &s }

func TestReconcileFirstIngestCreatesVersion1AndEvent(t *testing.T) {
	catalog := newFakeCatalog()
	outbox := newFakeOutbox()
	r := New(catalog, outbox)

	rec := Record{
		ProductKey: "42", URL: "u", Title: strp("T"),
		Price: &catalogstore.Price{Amount: "9.99", Currency: "$"},
		Media: []MediaInput{{MediaType: catalogstore.MediaImage, SourceURL: "i1"}},
	}
	_, err := r.Reconcile(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, err := catalog.GetProduct(context.Background(), "42")
	if err != nil {
		t.Fatalf("expected product to exist: %v", err)
	}
	if product.Version != 1 {
		t.Fatalf("expected version 1, got %d", product.Version)
	}
	if outbox.count() != 1 {
		t.Fatalf("expected exactly one outbox event, got %d", outbox.count())
	}
}

func TestReconcileNoOpReingestEmitsNoNewEvent(t *testing.T) {
	catalog := newFakeCatalog()
	outbox := newFakeOutbox()
	r := New(catalog, outbox)

	rec := Record{ProductKey: "42", URL: "u", Title: strp("T")}
	ctx := context.Background()
	if _, err := r.Reconcile(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Reconcile(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outbox.count() != 1 {
		t.Fatalf("expected reprocessing to be idempotent, got %d events", outbox.count())
	}
	product, _ := catalog.GetProduct(ctx, "42")
	if product.Version != 1 {
		t.Fatalf("expected version unchanged at 1, got %d", product.Version)
	}
}

func TestReconcileTitleChangeBumpsVersionAndRecordsChangedField(t *testing.T) {
	catalog := newFakeCatalog()
	outbox := newFakeOutbox()
	r := New(catalog, outbox)
	ctx := context.Background()

	first := Record{ProductKey: "42", URL: "u", Title: strp("T")}
	if _, err := r.Reconcile(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := Record{ProductKey: "42", URL: "u", Title: strp("T2")}
	if _, err := r.Reconcile(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, _ := catalog.GetProduct(ctx, "42")
	if product.Version != 2 {
		t.Fatalf("expected version 2 after title change, got %d", product.Version)
	}
	if outbox.count() != 2 {
		t.Fatalf("expected a second outbox event, got %d", outbox.count())
	}

	evt, ok := outbox.eventForVersion(2)
	if !ok {
		t.Fatal("expected an event for version 2")
	}
	if evt.EventType != outboxstore.EventProductUpdated {
		t.Fatalf("expected product_updated, got %s", evt.EventType)
	}
	if len(evt.Payload.ChangedFields) != 1 || evt.Payload.ChangedFields[0] != "title" {
		t.Fatalf("expected changed_fields [title], got %v", evt.Payload.ChangedFields)
	}
	if evt.Payload.PreviousVersion == nil || *evt.Payload.PreviousVersion != 1 {
		t.Fatalf("expected previous_version 1, got %v", evt.Payload.PreviousVersion)
	}
}

func TestReconcileMediaOnlyChangeStillEmitsEventWithEmptyChangedFields(t *testing.T) {
	catalog := newFakeCatalog()
	outbox := newFakeOutbox()
	r := New(catalog, outbox)
	ctx := context.Background()

	first := Record{ProductKey: "42", URL: "u", Title: strp("T"),
		Media: []MediaInput{{MediaType: catalogstore.MediaImage, SourceURL: "i1"}}}
	if _, err := r.Reconcile(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := Record{ProductKey: "42", URL: "u", Title: strp("T"),
		Media: []MediaInput{
			{MediaType: catalogstore.MediaImage, SourceURL: "i1"},
			{MediaType: catalogstore.MediaImage, SourceURL: "i2"},
		}}
	if _, err := r.Reconcile(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, _ := catalog.GetProduct(ctx, "42")
	if product.Version != 2 {
		t.Fatalf("expected version 2 after media-only change, got %d", product.Version)
	}
	if outbox.count() != 2 {
		t.Fatalf("expected a second outbox event for the media change, got %d", outbox.count())
	}

	evt, ok := outbox.eventForVersion(2)
	if !ok {
		t.Fatal("expected an event for version 2")
	}
	if len(evt.Payload.ChangedFields) != 0 {
		t.Fatalf("expected empty changed_fields for a media-only change, got %v", evt.Payload.ChangedFields)
	}
}

func TestReconcileRejectsMissingProductKey(t *testing.T) {
	r := New(newFakeCatalog(), newFakeOutbox())
	_, err := r.Reconcile(context.Background(), Record{URL: "u"})
	if !errs.Is(err, errs.CodeLogic) {
		t.Fatalf("expected a logic error for missing product_key, got %v", err)
	}
}
