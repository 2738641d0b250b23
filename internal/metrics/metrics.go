package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts relayed server events by outcome
	// (recorded, rejected, opted_out).
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleanrelay_events_total",
			Help: "Total number of server events handled",
		},
		[]string{"transport", "outcome"},
	)

	// PayloadBytes observes the size of serialized ping payloads.
	PayloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gleanrelay_payload_bytes",
			Help:    "Size of serialized glean ping payloads",
			Buckets: prometheus.ExponentialBuckets(256, 2, 8),
		},
	)

	// Producers tracks the number of known producers.
	Producers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gleanrelay_producers",
			Help: "Number of producers seen by the registry",
		},
	)

	// IdentityReloads counts glean identity reloads by result.
	IdentityReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleanrelay_identity_reloads_total",
			Help: "Glean identity reloads from config",
		},
		[]string{"result"},
	)
)

// Outcome labels for EventsTotal.
const (
	OutcomeRecorded = "recorded"
	OutcomeRejected = "rejected"
	OutcomeOptedOut = "opted_out"
)

// Transport labels for EventsTotal.
const (
	TransportNATS = "nats"
	TransportAPI  = "api"
)
