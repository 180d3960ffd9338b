// Package metrics exposes the chat-service Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat"

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of authenticated WebSocket connections on this instance.",
	})

	ConnectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_rejected_total",
		Help:      "Connections closed because authentication failed.",
	})

	ClientsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clients_evicted_total",
		Help:      "Connections closed because their outbound queue was full.",
	})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Client events received, by event name.",
	}, []string{"event"})

	EventErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_errors_total",
		Help:      "Error frames sent to clients, by code.",
	}, []string{"code"})

	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_relayed_total",
		Help:      "Messages persisted and fanned out.",
	})

	PresenceEmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_emissions_total",
		Help:      "online-users-list snapshots emitted.",
	})

	PresenceReconciled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_reconciled_total",
		Help:      "Stale presence entries marked offline by reconciliation.",
	})

	PresenceStoreFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_store_failures_total",
		Help:      "Failed presence writes, by operation.",
	}, []string{"op"})

	BusEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_total",
		Help:      "Cluster bus events, by direction and type.",
	}, []string{"direction", "type"})

	SinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_sink_failures_total",
		Help:      "Message events that could not be handed to the event sink.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsRejected,
		ClientsEvicted,
		InboundEvents,
		EventErrors,
		MessagesRelayed,
		PresenceEmissions,
		PresenceReconciled,
		PresenceStoreFailures,
		BusEvents,
		SinkFailures,
	)
}
