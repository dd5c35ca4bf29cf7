// Package dispatcher implements the outbox dispatcher: it polls pending
// outbox events, leases them via an atomic claim, and drives the
// per-event send state machine against the Strategy Renderer and
// receipt store.
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/domain/outboxstore"
	"github.com/bling0390/vivbliss-sync/internal/domain/receiptstore"
	"github.com/bling0390/vivbliss-sync/internal/observability"
	"github.com/bling0390/vivbliss-sync/internal/strategy"
	"github.com/bling0390/vivbliss-sync/lib/async"
)

// Outcome is the per-event result of Send, used for logging and tests.
type Outcome string

const (
	OutcomeSent                Outcome = "sent"
	OutcomeDuplicateSuppressed Outcome = "duplicate-suppressed"
	OutcomeSkipped             Outcome = "skipped"
	OutcomeFailed              Outcome = "failed"
)

// Renderer is the subset of strategy.Renderer the Dispatcher depends on.
type Renderer interface {
	Render(ctx context.Context, requested strategy.Name, chat string, version int,
		product strategy.ProductSummary, change strategy.ChangeDescriptor) ([]string, strategy.Name, error)
}

// Dispatcher fans pending events into a bounded worker pool and drives
// each one through claim -> receipt-check -> render -> settle.
type Dispatcher struct {
	outbox       outboxstore.Store
	receipts     receiptstore.Store
	renderer     Renderer
	pool         *async.Pool
	strategyName strategy.Name
	targetChat   string
}

// New constructs a Dispatcher. pool sizes the background worker
// concurrency that Poll fans send tasks into.
func New(outbox outboxstore.Store, receipts receiptstore.Store, renderer Renderer, pool *async.Pool,
	strategyName strategy.Name, targetChat string) *Dispatcher {
	return &Dispatcher{
		outbox:       outbox,
		receipts:     receipts,
		renderer:     renderer,
		pool:         pool,
		strategyName: strategyName,
		targetChat:   targetChat,
	}
}

// Poll fetches up to batchSize pending events and enqueues a Send task
// per event on the worker pool. It returns the count dispatched and does
// not wait for completion; it is a pure fan-out.
func (d *Dispatcher) Poll(ctx context.Context, batchSize int) (int, error) {
	events, err := d.outbox.ListPending(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	batchID := uuid.NewString()
	dispatched := 0
	for _, evt := range events {
		dedupeKey := evt.DedupeKey
		submitErr := d.pool.Submit(ctx, func(taskCtx context.Context) error {
			_, sendErr := d.Send(taskCtx, dedupeKey)
			return sendErr
		})
		if submitErr != nil {
			observability.Log().Error("failed to enqueue send task",
				observability.Field{Key: "batch_id", Value: batchID},
				observability.Field{Key: "dedupe_key", Value: dedupeKey},
				observability.Field{Key: "error", Value: submitErr.Error()},
			)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// Send runs the per-event state machine: claim, receipt check, render,
// settle. Outbox and receipt storage errors bubble up; any error from the
// renderer (a transport failure, or a failed media lookup) is converted
// into a pending state transition and reported as OutcomeFailed with a
// nil error, so the worker runtime never sees the task itself as crashed.
func (d *Dispatcher) Send(ctx context.Context, dedupeKey string) (Outcome, error) {
	record, claimed, err := d.outbox.Claim(ctx, dedupeKey)
	if err != nil {
		return "", err
	}
	if !claimed {
		recordOutcome(OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	_, found, err := d.receipts.Get(ctx, dedupeKey)
	if err != nil {
		return "", err
	}
	if found {
		if err := d.outbox.MarkSent(ctx, dedupeKey, priorStrategy(record)); err != nil {
			return "", err
		}
		recordOutcome(OutcomeDuplicateSuppressed)
		return OutcomeDuplicateSuppressed, nil
	}

	product := strategy.ProductSummary{
		ProductKey: record.Payload.ProductKey,
		URL:        record.Payload.URL,
		Title:      record.Payload.Title,
	}
	if record.Payload.PriceAmount != nil && record.Payload.PriceCurrency != nil {
		product.Price = &catalogstore.Price{Amount: *record.Payload.PriceAmount, Currency: *record.Payload.PriceCurrency}
	}
	change := strategy.ChangeDescriptor{
		ChangedFields:   record.Payload.ChangedFields,
		PreviousVersion: record.Payload.PreviousVersion,
	}

	start := time.Now()
	messageIDs, used, renderErr := d.renderer.Render(ctx, d.strategyName, d.targetChat, record.Version, product, change)
	observability.Telemetry().ObserveHistogram("dispatch.duration_ms", float64(time.Since(start).Milliseconds()), nil)
	if renderErr != nil {
		if err := d.outbox.RevertToPending(ctx, dedupeKey, renderErr.Error()); err != nil {
			return "", err
		}
		observability.Log().Error("send failed, reverted to pending",
			observability.Field{Key: "dedupe_key", Value: dedupeKey},
			observability.Field{Key: "error", Value: renderErr.Error()},
		)
		recordOutcome(OutcomeFailed)
		return OutcomeFailed, nil
	}

	inserted, err := d.receipts.Insert(ctx, receiptstore.Receipt{
		DedupeKey:  dedupeKey,
		TargetChat: d.targetChat,
		MessageIDs: messageIDs,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		// A concurrent worker already recorded the delivery; accept as
		// success rather than double-counting it.
		observability.Log().Info("receipt already present, accepting concurrent delivery as success",
			observability.Field{Key: "dedupe_key", Value: dedupeKey})
	}

	if err := d.outbox.MarkSent(ctx, dedupeKey, string(used)); err != nil {
		return "", err
	}
	recordOutcome(OutcomeSent)
	return OutcomeSent, nil
}

// ReclaimStale reverts events stuck in processing for longer than
// olderThan back to pending so a later poll can pick them up again. It
// is an opt-in operator extension: nothing in Poll or Send calls it, and
// events abandoned mid-processing otherwise stay put.
func (d *Dispatcher) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	reclaimed, err := d.outbox.ReclaimStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		observability.Log().Info("reclaimed stale processing events",
			observability.Field{Key: "count", Value: reclaimed})
	}
	return reclaimed, nil
}

// priorStrategy labels an event settled through the receipt-suppression
// path: the prior delivery's strategy if the record carries one, else a
// placeholder since the transport was never invoked this time around.
func priorStrategy(record outboxstore.EventRecord) string {
	if record.StrategyUsed != "" {
		return record.StrategyUsed
	}
	return "unknown"
}

func recordOutcome(outcome Outcome) {
	observability.Telemetry().IncCounter("dispatch.outcomes", 1, map[string]string{"outcome": string(outcome)})
}
