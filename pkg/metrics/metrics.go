// Package metrics registers the blotter's prometheus collectors. Everything
// is registered on the default registry and served by the API's /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blotter_orders_submitted_total",
		Help: "New order commands accepted by the state engine.",
	})

	CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blotter_commands_rejected_total",
		Help: "Commands rejected before any state mutation, by error code.",
	}, []string{"code"})

	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blotter_events_applied_total",
		Help: "Inbound domain events applied to order state, by event type.",
	}, []string{"type"})

	EventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blotter_events_discarded_total",
		Help: "Inbound events dropped without mutating state, by reason.",
	}, []string{"reason"})

	EventsParked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blotter_events_parked",
		Help: "Events held in the re-sequencing buffer across all sessions.",
	})

	TranslationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blotter_translation_errors_total",
		Help: "FIX messages the translator could not map, by error code.",
	}, []string{"code"})

	SessionsUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blotter_sessions_up",
		Help: "FIX sessions currently logged on.",
	})

	OutboundSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blotter_outbound_messages_total",
		Help: "Outbound FIX messages handed to the transport, by message kind.",
	}, []string{"kind"})
)
