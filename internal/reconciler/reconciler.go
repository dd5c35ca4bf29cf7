// Package reconciler implements the change-detection core: it compares an
// incoming product record against the catalog, assigns a version, and
// emits an outbox event when the content has semantically changed.
package reconciler

import (
	"context"
	"time"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/domain/outboxstore"
	"github.com/bling0390/vivbliss-sync/internal/fingerprint"
	"github.com/bling0390/vivbliss-sync/internal/observability"
)

// MediaInput is a single media descriptor as produced by the extractor.
type MediaInput struct {
	MediaType catalogstore.MediaType
	SourceURL string
	LocalPath *string
}

// Record is a normalized product record, the Reconciler's sole input.
type Record struct {
	ProductKey string
	URL        string
	Title      *string
	Price      *catalogstore.Price
	Media      []MediaInput
	Raw        any
}

// changedFieldsWhitelist is the fixed set of fields the Reconciler diffs
// when deciding ChangedFields, so noise in Raw never produces a
// misleading change descriptor.
var changedFieldsWhitelist = []string{"title", "price", "url"}

// Reconciler compares incoming records to the catalog and drives the
// version and event-type decision. It is the sole writer of
// Product and OutboxEvent inserts/updates; media rows are write-once.
type Reconciler struct {
	catalog catalogstore.Store
	outbox  outboxstore.Store
}

// New constructs a Reconciler over the given catalog and outbox stores.
func New(catalog catalogstore.Store, outbox outboxstore.Store) *Reconciler {
	return &Reconciler{catalog: catalog, outbox: outbox}
}

// Reconcile fingerprints the record, decides create/update/no-op
// against the stored product, applies the catalog writes, and emits an
// outbox event when content changed. It returns the input record
// unchanged on success.
func (r *Reconciler) Reconcile(ctx context.Context, rec Record) (Record, error) {
	if rec.ProductKey == "" {
		return rec, errs.New("reconciler.reconcile", errs.CodeLogic, errs.WithMessage("product_key must not be empty"))
	}

	fp, err := fingerprint.Compute(toSnapshot(rec))
	if err != nil {
		return rec, err
	}

	existing, getErr := r.catalog.GetProduct(ctx, rec.ProductKey)
	notFound := errs.Is(getErr, errs.CodeNotFound)
	if getErr != nil && !notFound {
		return rec, getErr
	}

	now := time.Now().UTC()
	var (
		version         int
		eventType       outboxstore.EventType
		changedFields   []string
		previousVersion *int
		needEvent       bool
		createdAt       time.Time
	)

	var decision string
	switch {
	case notFound:
		version = 1
		eventType = outboxstore.EventProductCreated
		needEvent = true
		createdAt = now
		decision = "created"
	case existing.Fingerprint == fp:
		// Unchanged content: refresh updated_at only, no version bump,
		// no event.
		version = existing.Version
		createdAt = existing.CreatedAt
		decision = "unchanged"
	default:
		version = existing.Version + 1
		eventType = outboxstore.EventProductUpdated
		prev := existing.Version
		previousVersion = &prev
		changedFields = diffWhitelistedFields(existing, rec)
		needEvent = true
		createdAt = existing.CreatedAt
		decision = "updated"
	}
	observability.Telemetry().IncCounter("reconcile.decisions", 1, map[string]string{"decision": decision})

	product := catalogstore.Product{
		ProductKey:  rec.ProductKey,
		URL:         rec.URL,
		Title:       rec.Title,
		Price:       rec.Price,
		Raw:         rec.Raw,
		Fingerprint: fp,
		Version:     version,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}
	if err := r.catalog.UpsertProduct(ctx, product); err != nil {
		return rec, err
	}

	if mediaRows := toMediaRows(rec, version, now); len(mediaRows) > 0 {
		if err := r.catalog.InsertMedia(ctx, mediaRows); err != nil {
			return rec, err
		}
	}

	if needEvent {
		dedupeKey := fingerprint.BuildDedupeKey(rec.ProductKey, version, string(eventType))
		evt := outboxstore.Event{
			DedupeKey:  dedupeKey,
			ProductKey: rec.ProductKey,
			Version:    version,
			EventType:  eventType,
			Payload:    toPayload(rec, changedFields, previousVersion),
		}
		inserted, err := r.outbox.Insert(ctx, evt)
		if err != nil {
			return rec, err
		}
		observability.Log().Info("outbox event recorded",
			observability.Field{Key: "product_key", Value: rec.ProductKey},
			observability.Field{Key: "version", Value: version},
			observability.Field{Key: "event_type", Value: string(eventType)},
			observability.Field{Key: "inserted", Value: inserted},
		)
	}

	return rec, nil
}

func toSnapshot(rec Record) fingerprint.Snapshot {
	snapshot := fingerprint.Snapshot{
		ProductKey: rec.ProductKey,
		URL:        rec.URL,
		Title:      rec.Title,
	}
	if rec.Price != nil {
		snapshot.Price = &fingerprint.Price{Amount: rec.Price.Amount, Currency: rec.Price.Currency}
	}
	for _, m := range rec.Media {
		snapshot.Media = append(snapshot.Media, fingerprint.MediaRef{
			MediaType: string(m.MediaType),
			SourceURL: m.SourceURL,
		})
	}
	return snapshot
}

func toMediaRows(rec Record, version int, createdAt time.Time) []catalogstore.Media {
	rows := make([]catalogstore.Media, 0, len(rec.Media))
	for _, m := range rec.Media {
		rows = append(rows, catalogstore.Media{
			ProductKey: rec.ProductKey,
			Version:    version,
			MediaType:  m.MediaType,
			SourceURL:  m.SourceURL,
			LocalPath:  m.LocalPath,
			CreatedAt:  createdAt,
		})
	}
	return rows
}

func toPayload(rec Record, changedFields []string, previousVersion *int) outboxstore.Payload {
	payload := outboxstore.Payload{
		ProductKey:      rec.ProductKey,
		URL:             rec.URL,
		Title:           rec.Title,
		ChangedFields:   changedFields,
		PreviousVersion: previousVersion,
	}
	if rec.Price != nil {
		amount := rec.Price.Amount
		currency := rec.Price.Currency
		payload.PriceAmount = &amount
		payload.PriceCurrency = &currency
	}
	return payload
}

// diffWhitelistedFields returns the subset of {title, price, url} that
// differ by value equality between the stored product and the incoming
// record. A fingerprint change with no whitelisted diff (e.g. a
// media-only change) still returns an empty slice; the event is still
// emitted by the caller, just with an empty descriptor.
func diffWhitelistedFields(existing catalogstore.Product, rec Record) []string {
	var changed []string
	for _, field := range changedFieldsWhitelist {
		switch field {
		case "title":
			if !stringPtrEqual(existing.Title, rec.Title) {
				changed = append(changed, "title")
			}
		case "price":
			if !pricesEqual(existing.Price, rec.Price) {
				changed = append(changed, "price")
			}
		case "url":
			if existing.URL != rec.URL {
				changed = append(changed, "url")
			}
		}
	}
	return changed
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func pricesEqual(a *catalogstore.Price, b *catalogstore.Price) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Amount == b.Amount && a.Currency == b.Currency
}
