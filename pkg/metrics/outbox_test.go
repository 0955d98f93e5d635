package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.ObserveEvent("payout_batch_settled", "published")
	m.ObserveEvent("payout_batch_settled", "published")
	m.ObserveEvent("payout_batch_failed", "dead_lettered")
	m.IncDrainFailure()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "pf_payouts_outbox_events_total", "outcome", "published"); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "pf_payouts_outbox_events_total", "outcome", "dead_lettered"); err != nil || got != 1 {
		t.Fatalf("expected dead_lettered=1, got %f (%v)", got, err)
	}
	drains := findMetricFamily(mfs, "pf_payouts_outbox_drain_failures_total")
	if drains == nil || len(drains.GetMetric()) != 1 {
		t.Fatalf("expected drain failure counter")
	}
	if got := drains.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected drain failures=1, got %f", got)
	}
}

func TestNilOutboxMetricsIsNoop(t *testing.T) {
	var m *OutboxMetrics
	m.ObserveEvent("x", "published")
	m.IncDrainFailure()

	NewOutboxMetrics(nil).ObserveEvent("x", "deferred")
}
