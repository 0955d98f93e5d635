package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PayoutMetrics counts ledger writes and payout lifecycle events. A zero
// value (or nil) is a no-op recorder.
type PayoutMetrics struct {
	ledgerEntries   *prometheus.CounterVec
	batches         *prometheus.CounterVec
	creditBacks     *prometheus.CounterVec
	providerRetries *prometheus.CounterVec
	skippedUnits    *prometheus.CounterVec
}

// NewPayoutMetrics registers the payout metrics on the provided registerer.
func NewPayoutMetrics(reg prometheus.Registerer) *PayoutMetrics {
	if reg == nil {
		return &PayoutMetrics{}
	}
	m := &PayoutMetrics{
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended, by type and whether the row was new.",
		}, []string{"type", "result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Payout batch runs, by currency and outcome.",
		}, []string{"currency", "outcome"}),
		creditBacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_backs_total",
			Help:      "Failed payout items returned to seller balances.",
		}, []string{"currency"}),
		providerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Retried payout provider calls, by operation.",
		}, []string{"operation"}),
		skippedUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_units_total",
			Help:      "Order lines or refund shares skipped for input defects.",
		}, []string{"stage", "reason"}),
	}
	reg.MustRegister(m.ledgerEntries, m.batches, m.creditBacks, m.providerRetries, m.skippedUnits)
	return m
}

func (m *PayoutMetrics) IncLedgerEntry(entryType string, created bool) {
	if m == nil || m.ledgerEntries == nil {
		return
	}
	result := "existing"
	if created {
		result = "created"
	}
	m.ledgerEntries.WithLabelValues(normalizeLabel(entryType), result).Inc()
}

func (m *PayoutMetrics) IncBatch(currency, outcome string) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.WithLabelValues(normalizeLabel(currency), normalizeLabel(outcome)).Inc()
}

func (m *PayoutMetrics) AddCreditBacks(currency string, n int) {
	if m == nil || m.creditBacks == nil || n <= 0 {
		return
	}
	m.creditBacks.WithLabelValues(normalizeLabel(currency)).Add(float64(n))
}

func (m *PayoutMetrics) IncProviderRetry(operation string) {
	if m == nil || m.providerRetries == nil {
		return
	}
	m.providerRetries.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *PayoutMetrics) IncSkipped(stage, reason string) {
	if m == nil || m.skippedUnits == nil {
		return
	}
	m.skippedUnits.WithLabelValues(normalizeLabel(stage), normalizeLabel(reason)).Inc()
}
