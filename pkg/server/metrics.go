package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkforge/orchestrator/pkg/observability"
)

// RequestsTotal counts handled HTTP requests by route and status code,
// served at /metrics alongside /healthz.
var RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inkforge",
	Name:      "http_requests_total",
	Help:      "HTTP requests handled by the Job Controller API.",
}, []string{"route", "status"})

// metricsHandler serves the default registry's metrics plus, when an
// observability.Manager is configured with metrics enabled, the phase
// /provider/cache/worker domain metrics it collects on its own registry.
func metricsHandler(mgr *observability.Manager) http.Handler {
	if mgr == nil || !mgr.MetricsEnabled() {
		return promhttp.Handler()
	}
	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		mgr.Metrics().Registry(),
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
