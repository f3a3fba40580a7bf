// Package metrics exposes the server's operational counters in
// Prometheus exposition format on an optional side listener.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Accepted  prometheus.Counter
	Open      prometheus.Gauge
	Responses *prometheus.CounterVec
	Reaped    prometheus.Counter
}

// New creates and registers the collectors. queueDepth feeds the
// worker-queue gauge.
func New(queueDepth func() float64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microhttpd_connections_accepted_total",
			Help: "Connections accepted on the listening socket.",
		}),
		Open: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microhttpd_connections_open",
			Help: "Currently open connections.",
		}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microhttpd_responses_total",
			Help: "Responses sent, by status code.",
		}, []string{"code"}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microhttpd_idle_reaped_total",
			Help: "Connections closed by the idle-expiry tick.",
		}),
	}
	m.registry.MustRegister(m.Accepted, m.Open, m.Responses, m.Reaped)
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "microhttpd_worker_queue_depth",
		Help: "Jobs waiting in the worker pool queue.",
	}, queueDepth))
	return m
}

// ObserveResponse counts one response by status code.
func (m *Metrics) ObserveResponse(status int) {
	m.Responses.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Handler returns the exposition endpoint for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving /metrics on addr.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
