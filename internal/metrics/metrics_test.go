package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/imrishuroy/go-rental-billing/internal/aws/awstest"
)

func TestBillingMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBillingMetrics(reg)
	ctx := context.Background()

	m.ObserveAdjustments(ctx, OutcomeApplied, 3)
	m.ObserveAdjustments(ctx, OutcomeFailed, 1)
	m.ObserveAdjustments(ctx, OutcomeQueued, 0)
	m.ObserveSave(ctx, OutcomeCommitted, 120*time.Millisecond)
	m.ObserveBill(ctx, EventReturned)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "inventory_adjustments_total", "outcome", OutcomeApplied); err != nil {
		t.Fatalf("fetch applied: %v", err)
	} else if got != 3 {
		t.Fatalf("expected applied=3, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "inventory_adjustments_total", "outcome", OutcomeFailed); err != nil {
		t.Fatalf("fetch failed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failed=1, got %f", got)
	}
	if _, err := fetchCounterValue(mfs, "inventory_adjustments_total", "outcome", OutcomeQueued); err == nil {
		t.Fatalf("zero adjustments should not create a series")
	}
	if got, err := fetchCounterValue(mfs, "bill_saves_total", "outcome", OutcomeCommitted); err != nil || got != 1 {
		t.Fatalf("expected one committed save, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "bill_events_total", "event", EventReturned); err != nil || got != 1 {
		t.Fatalf("expected one returned event, got %f (%v)", got, err)
	}
}

func TestNilBillingMetricsIsSafe(t *testing.T) {
	var m *BillingMetrics
	m.ObserveAdjustments(context.Background(), OutcomeApplied, 1)
	m.ObserveSave(context.Background(), OutcomeFailed, time.Second)
	NewBillingMetrics(nil).ObserveBill(context.Background(), EventCreated)
}

func TestCloudWatchPublishes(t *testing.T) {
	cw := &awstest.CloudWatch{}
	r := NewCloudWatch(cw, "RentalBilling")

	Multi{r, Nop{}}.ObserveSave(context.Background(), OutcomeCommitted, 2*time.Second)

	calls := cw.Inputs()
	if len(calls) != 1 {
		t.Fatalf("expected one PutMetricData call, got %d", len(calls))
	}
	if *calls[0].Namespace != "RentalBilling" {
		t.Fatalf("unexpected namespace %q", *calls[0].Namespace)
	}
	if len(calls[0].MetricData) != 2 {
		t.Fatalf("expected count and duration data, got %d", len(calls[0].MetricData))
	}
	if v := *calls[0].MetricData[1].Value; v != 2000 {
		t.Fatalf("expected duration 2000ms, got %f", v)
	}
}

func TestCloudWatchReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	var got error
	r := NewCloudWatch(&awstest.CloudWatch{Err: boom}, "ns")
	r.OnError = func(err error) { got = err }

	r.ObserveBill(context.Background(), EventCreated)
	if !errors.Is(got, boom) {
		t.Fatalf("expected OnError to receive %v, got %v", boom, got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, lp := range labels {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
