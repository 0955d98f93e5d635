package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks what the outbox publisher did with each event.
type OutboxMetrics struct {
	dispatched *prometheus.CounterVec
	drains     prometheus.Counter
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox events handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "drain_failures_total",
			Help:      "Publisher polls that failed before any event was settled.",
		}),
	}
	reg.MustRegister(m.dispatched, m.drains)
	return m
}

// ObserveEvent counts one event settling as published, deferred or dead_lettered.
func (m *OutboxMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(eventType, outcome).Inc()
}

func (m *OutboxMetrics) IncDrainFailure() {
	if m == nil || m.drains == nil {
		return
	}
	m.drains.Inc()
}
