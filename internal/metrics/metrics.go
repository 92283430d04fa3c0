package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes and events used as label values.
const (
	OutcomeApplied   = "applied"
	OutcomeFailed    = "failed"
	OutcomeQueued    = "queued"
	OutcomeCommitted = "committed"

	EventCreated   = "created"
	EventBilled    = "billed"
	EventReturned  = "returned"
	EventDeleted   = "deleted"
	EventDuplicate = "duplicate"
)

// Recorder receives billing observations. Implementations must be safe for
// concurrent use and never fail the caller.
type Recorder interface {
	ObserveAdjustments(ctx context.Context, outcome string, n int)
	ObserveSave(ctx context.Context, outcome string, d time.Duration)
	ObserveBill(ctx context.Context, event string)
}

// BillingMetrics exports counters on a Prometheus registerer.
type BillingMetrics struct {
	adjustments  *prometheus.CounterVec
	saves        *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
	bills        *prometheus.CounterVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustments_total",
		Help: "Inventory deltas by outcome.",
	}, []string{"outcome"})
	saves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_saves_total",
		Help: "Bill edit saves by outcome.",
	}, []string{"outcome"})
	saveDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bill_save_duration_seconds",
		Help:    "Duration of bill edit saves in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	bills := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_events_total",
		Help: "Bill lifecycle events.",
	}, []string{"event"})
	reg.MustRegister(adjustments, saves, saveDuration, bills)
	return &BillingMetrics{
		adjustments:  adjustments,
		saves:        saves,
		saveDuration: saveDuration,
		bills:        bills,
	}
}

func (m *BillingMetrics) ObserveAdjustments(_ context.Context, outcome string, n int) {
	if m == nil || m.adjustments == nil || n <= 0 {
		return
	}
	m.adjustments.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

func (m *BillingMetrics) ObserveSave(_ context.Context, outcome string, d time.Duration) {
	if m == nil || m.saves == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.saves.WithLabelValues(label).Inc()
	m.saveDuration.WithLabelValues(label).Observe(d.Seconds())
}

func (m *BillingMetrics) ObserveBill(_ context.Context, event string) {
	if m == nil || m.bills == nil {
		return
	}
	m.bills.WithLabelValues(normalizeLabel(event)).Inc()
}

// Multi fans observations out to several recorders.
type Multi []Recorder

func (m Multi) ObserveAdjustments(ctx context.Context, outcome string, n int) {
	for _, r := range m {
		r.ObserveAdjustments(ctx, outcome, n)
	}
}

func (m Multi) ObserveSave(ctx context.Context, outcome string, d time.Duration) {
	for _, r := range m {
		r.ObserveSave(ctx, outcome, d)
	}
}

func (m Multi) ObserveBill(ctx context.Context, event string) {
	for _, r := range m {
		r.ObserveBill(ctx, event)
	}
}

// Nop discards observations.
type Nop struct{}

func (Nop) ObserveAdjustments(context.Context, string, int) {}
func (Nop) ObserveSave(context.Context, string, time.Duration) {}
func (Nop) ObserveBill(context.Context, string) {}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
