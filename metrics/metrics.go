// Package metrics exposes Prometheus collectors for the dashboard process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "referral_tree"

var (
	SocketConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "connected",
		Help:      "1 while the live update socket is open.",
	})

	SocketReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "reconnects_scheduled_total",
		Help:      "Reconnect attempts scheduled after an unclean close.",
	})

	SocketMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "messages_received_total",
		Help:      "Messages received from the socket server, by type.",
	}, []string{"type"})

	ChainReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "reads_total",
		Help:      "getNode reads, by result.",
	}, []string{"result"})

	Exports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "artifacts_total",
		Help:      "Generated export artifacts, by format.",
	}, []string{"format"})
)

func init() {
	prometheus.MustRegister(SocketConnected, SocketReconnects, SocketMessages, ChainReads, Exports)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
