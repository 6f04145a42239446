// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridlight",
		Name:      "connections_active",
		Help:      "Currently connected peers.",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "connections_total",
		Help:      "Connections accepted since start.",
	})

	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "connections_rejected_total",
		Help:      "Connections refused at the accept loop.",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridlight",
		Name:      "rooms_active",
		Help:      "Rooms currently registered.",
	})

	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "rooms_created_total",
		Help:      "Rooms created since start.",
	})

	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "operations_total",
		Help:      "Operations processed, by operation name and outcome.",
	}, []string{"operation", "outcome"})

	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "events_sent_total",
		Help:      "Events delivered to peers.",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "decode_errors_total",
		Help:      "Contained wire decode failures.",
	})

	QueueOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "send_queue_overflows_total",
		Help:      "Peers disconnected because their send queue filled.",
	})

	DisconnectsByReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridlight",
		Name:      "disconnects_total",
		Help:      "Peer disconnects, by reason.",
	}, []string{"reason"})
)

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
