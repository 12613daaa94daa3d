// Package metrics defines the prometheus collectors the hub and network
// layers feed and the HTTP server exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eigerco/cloudberry/internal/outbox"
)

// Metrics bundles all collectors behind one registry so the HTTP handler and
// the feeding code share a single instance.
type Metrics struct {
	registry *prometheus.Registry

	Transfers            *prometheus.CounterVec
	VerificationFailures *prometheus.CounterVec
	EventsAppended       prometheus.Counter
	DedupHits            prometheus.Counter
	ActiveServiceNodes   prometheus.Gauge
	RegisteredChains     prometheus.Gauge
	Paused               prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudberry",
			Name:      "transfers_total",
			Help:      "Transfer submissions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		VerificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudberry",
			Name:      "verification_failures_total",
			Help:      "Failed submission verifications by reason class.",
		}, []string{"reason"}),
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudberry",
			Name:      "events_appended_total",
			Help:      "Events appended to the outbox.",
		}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudberry",
			Name:      "submission_dedup_hits_total",
			Help:      "Submissions rejected by the recent-digest cache.",
		}),
		ActiveServiceNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudberry",
			Name:      "active_service_nodes",
			Help:      "Currently active service nodes.",
		}),
		RegisteredChains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudberry",
			Name:      "registered_chains",
			Help:      "Registered blockchains, active and inactive.",
		}),
		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudberry",
			Name:      "paused",
			Help:      "1 while the hub is paused.",
		}),
	}
	m.registry.MustRegister(
		m.Transfers, m.VerificationFailures, m.EventsAppended, m.DedupHits,
		m.ActiveServiceNodes, m.RegisteredChains, m.Paused,
	)
	return m
}

// Registry returns the prometheus registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTransfer records one submission outcome.
func (m *Metrics) ObserveTransfer(kind, outcome string) {
	m.Transfers.WithLabelValues(kind, outcome).Inc()
}

// ObserveEvents keeps the counters and state gauges current from the live
// event stream. Wire it to a Broadcaster subscription.
func (m *Metrics) ObserveEvents(events <-chan outbox.Event) {
	for e := range events {
		m.EventsAppended.Inc()
		switch e.Kind {
		case outbox.KindPaused:
			m.Paused.Set(1)
		case outbox.KindUnpaused:
			m.Paused.Set(0)
		case outbox.KindBlockchainRegistered:
			m.RegisteredChains.Inc()
		case outbox.KindServiceNodeRegistered, outbox.KindServiceNodeUnregistrationCancelled:
			m.ActiveServiceNodes.Inc()
		case outbox.KindServiceNodeUnregistered:
			m.ActiveServiceNodes.Dec()
		}
	}
}
