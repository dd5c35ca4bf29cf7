// Package strategy implements the Strategy Renderer: a closed sum type
// over {S1, S2, S3} that turns an outbox event into a message bundle.
// Deliberately not an open registry: adding a fourth strategy means
// adding a fourth case here.
package strategy

import (
	"context"
	"fmt"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/transport"
)

// Name identifies one of the three closed strategy variants.
type Name string

const (
	S1 Name = "S1"
	S2 Name = "S2"
	S3 Name = "S3"
)

const maxMediaItems = 10

// ProductSummary is the rendering input: the product fields a message
// body is built from.
type ProductSummary struct {
	ProductKey string
	URL        string
	Title      *string
	Price      *catalogstore.Price
}

// ChangeDescriptor carries the Reconciler's diff output for S3 rendering.
type ChangeDescriptor struct {
	ChangedFields   []string
	PreviousVersion *int
}

// MediaLister resolves the media rows for a product version. In
// production this is catalogstore.Store.ListMedia; tests can substitute
// a fake.
type MediaLister interface {
	ListMedia(ctx context.Context, productKey string, version int, limit int) ([]catalogstore.Media, error)
}

// Renderer renders outbox events into message bundles and dispatches
// them through the configured Transport. It only ever reads the catalog.
type Renderer struct {
	media     MediaLister
	transport transport.Transport
}

// New constructs a Renderer over the given media source and transport.
func New(media MediaLister, t transport.Transport) *Renderer {
	return &Renderer{media: media, transport: t}
}

// Render dispatches the event per the requested strategy and returns the
// message IDs produced plus the strategy actually used (S1 may degrade
// to S2 when no media exists).
func (r *Renderer) Render(ctx context.Context, requested Name, chat string, version int,
	product ProductSummary, change ChangeDescriptor) ([]string, Name, error) {
	switch requested {
	case S1:
		return r.renderS1(ctx, chat, version, product)
	case S2:
		ids, err := r.renderS2(ctx, chat, product)
		return ids, S2, err
	case S3:
		return r.renderS3(ctx, chat, version, product, change)
	default:
		return nil, "", errs.New("strategy.render", errs.CodeLogic,
			errs.WithMessage("unknown strategy: "+string(requested)))
	}
}

func (r *Renderer) renderS1(ctx context.Context, chat string, version int, product ProductSummary) ([]string, Name, error) {
	media, err := r.media.ListMedia(ctx, product.ProductKey, version, maxMediaItems)
	if err != nil {
		return nil, "", err
	}
	if len(media) == 0 {
		ids, err := r.renderS2(ctx, chat, product)
		return ids, S2, err
	}

	items := toMediaItems(media, summaryText(product))
	groupIDs, err := r.transport.SendMediaGroup(ctx, chat, items)
	if err != nil {
		return nil, "", errs.New("strategy.render_s1", errs.CodeTransport, errs.WithCause(err))
	}
	ctaID, err := r.transport.SendMessage(ctx, chat, ctaText(product), ctaAction(product))
	if err != nil {
		return nil, "", errs.New("strategy.render_s1", errs.CodeTransport, errs.WithCause(err))
	}
	return append(groupIDs, ctaID), S1, nil
}

func (r *Renderer) renderS2(ctx context.Context, chat string, product ProductSummary) ([]string, error) {
	text := summaryText(product) + "\n\n" + ctaText(product)
	id, err := r.transport.SendMessage(ctx, chat, text, ctaAction(product))
	if err != nil {
		return nil, errs.New("strategy.render_s2", errs.CodeTransport, errs.WithCause(err))
	}
	return []string{id}, nil
}

func (r *Renderer) renderS3(ctx context.Context, chat string, version int, product ProductSummary, change ChangeDescriptor) ([]string, Name, error) {
	text := diffLine(change) + "\n\n" + summaryText(product) + "\n\n" + ctaText(product)
	textID, err := r.transport.SendMessage(ctx, chat, text, ctaAction(product))
	if err != nil {
		return nil, "", errs.New("strategy.render_s3", errs.CodeTransport, errs.WithCause(err))
	}
	ids := []string{textID}

	media, err := r.media.ListMedia(ctx, product.ProductKey, version, maxMediaItems)
	if err != nil {
		return nil, "", err
	}
	if len(media) > 0 {
		groupIDs, err := r.transport.SendMediaGroup(ctx, chat, toMediaItems(media, ""))
		if err != nil {
			return nil, "", errs.New("strategy.render_s3", errs.CodeTransport, errs.WithCause(err))
		}
		ids = append(ids, groupIDs...)
	}
	return ids, S3, nil
}

func toMediaItems(media []catalogstore.Media, firstCaption string) []transport.MediaItem {
	items := make([]transport.MediaItem, 0, len(media))
	for i, m := range media {
		source := m.SourceURL
		if m.LocalPath != nil && *m.LocalPath != "" {
			source = *m.LocalPath
		}
		caption := ""
		if i == 0 {
			caption = firstCaption
		}
		items = append(items, transport.MediaItem{Source: source, Caption: caption})
	}
	return items
}

func summaryText(product ProductSummary) string {
	title := "Untitled product"
	if product.Title != nil && *product.Title != "" {
		title = *product.Title
	}
	text := title
	if product.Price != nil {
		text += fmt.Sprintf("\n%s %s", product.Price.Amount, product.Price.Currency)
	}
	text += "\n" + product.URL
	return text
}

func ctaText(product ProductSummary) string {
	return "View product: " + product.URL
}

func ctaAction(product ProductSummary) *transport.Action {
	return &transport.Action{Label: "View product", URL: product.URL}
}

func diffLine(change ChangeDescriptor) string {
	if len(change.ChangedFields) == 0 {
		return "Content changed"
	}
	line := "Changed: "
	for i, field := range change.ChangedFields {
		if i > 0 {
			line += ", "
		}
		line += field
	}
	return line
}
