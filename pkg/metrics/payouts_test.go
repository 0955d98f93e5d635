package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPayoutMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPayoutMetrics(reg)

	m.IncLedgerEntry("EARNING", true)
	m.IncLedgerEntry("EARNING", false)
	m.IncBatch("USD", "created")
	m.AddCreditBacks("USD", 2)
	m.AddCreditBacks("USD", 0)
	m.IncProviderRetry("submit_batch")
	m.IncSkipped("accrual", "invalid_quantity")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "pf_payouts_batches_total", "outcome", "created"); err != nil || got != 1 {
		t.Fatalf("expected batches=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "pf_payouts_credit_backs_total", "currency", "USD"); err != nil || got != 2 {
		t.Fatalf("expected credit backs=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "pf_payouts_provider_retries_total", "operation", "submit_batch"); err != nil || got != 1 {
		t.Fatalf("expected retries=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "pf_payouts_ledger_entries_total", "result", "existing"); err != nil || got != 1 {
		t.Fatalf("expected existing entries=1, got %f (%v)", got, err)
	}
	if findMetricFamily(mfs, "pf_payouts_skipped_units_total") == nil {
		t.Fatalf("expected skipped units family")
	}
}

func TestNilPayoutMetricsIsNoop(t *testing.T) {
	var m *PayoutMetrics
	m.IncLedgerEntry("EARNING", true)
	m.IncBatch("USD", "created")
	m.AddCreditBacks("USD", 1)
	m.IncProviderRetry("get_batch")
	m.IncSkipped("refund", "x")

	empty := NewPayoutMetrics(nil)
	empty.IncBatch("USD", "created")
}
