package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bling0390/vivbliss-sync/internal/observability"
)

var _ observability.Metrics = (*Recorder)(nil)

// Recorder implements observability.Metrics against OpenTelemetry
// instruments, creating each named instrument lazily on first use and
// caching it for reuse.
type Recorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

// NewRecorder builds a Recorder bound to meter (typically Provider.Meter()).
func NewRecorder(meter metric.Meter) *Recorder {
	return &Recorder{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// IncCounter records value against a counter instrument named name, tagged
// with labels as OTel attributes.
func (r *Recorder) IncCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	c, ok := r.counters[name]
	if !ok {
		var err error
		c, err = r.meter.Float64Counter(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		r.counters[name] = c
	}
	r.mu.Unlock()
	c.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// ObserveHistogram records value against a histogram instrument named name.
func (r *Recorder) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	h, ok := r.histograms[name]
	if !ok {
		var err error
		h, err = r.meter.Float64Histogram(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		r.histograms[name] = h
	}
	r.mu.Unlock()
	h.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// SetGauge records value against a gauge instrument named name.
func (r *Recorder) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	g, ok := r.gauges[name]
	if !ok {
		var err error
		g, err = r.meter.Float64Gauge(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		r.gauges[name] = g
	}
	r.mu.Unlock()
	g.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// Metric and label names the dispatcher and reconciler emit against,
// kept here as the single spelling for tests and dashboards.
const (
	MetricDispatchOutcomes   = "dispatch.outcomes"
	MetricDispatchDuration   = "dispatch.duration_ms"
	MetricReconcileDecisions = "reconcile.decisions"

	LabelOutcome      = "outcome"
	LabelEventType    = "event_type"
	LabelStrategyUsed = "strategy_used"
	LabelDecision     = "decision"
)
