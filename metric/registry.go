// Package metric manages the Prometheus registry shared by all components.
// Components create their own collectors and register them here; the gateway
// serves the scrape endpoint.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric this service exports.
const Namespace = "energymon"

// Registry owns the service's private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a registry pre-loaded with Go runtime and process
// collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.reg
}

// MustRegister registers collectors, panicking on duplicates. Component
// metric sets are created once at wiring time, so a duplicate is a
// programming error.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.reg.MustRegister(cs...)
}

// Handler returns the scrape endpoint handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
