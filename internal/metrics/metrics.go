// Package metrics exposes the batch's Prometheus instrumentation (A6):
// outcome counts by status code, in-flight worker gauge, model-call
// latency histogram, and circuit breaker state gauges. The collectors are
// always updated; they are served over HTTP, and the breaker gauges polled,
// only when --metrics-addr is set.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the batch's metric collectors, registered against a
// private prometheus.Registry so a caller can run multiple instances in
// one process (e.g. in tests) without colliding with the default registry.
type Registry struct {
	reg *prometheus.Registry

	Outcomes        *prometheus.CounterVec
	InflightWorkers prometheus.Gauge
	ModelCallSecs   prometheus.Histogram
	CircuitState    *prometheus.GaugeVec
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		Outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "captioner_outcomes_total",
			Help: "Total captioning outcomes by terminal status code.",
		}, []string{"status_code"}),
		InflightWorkers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "captioner_inflight_workers",
			Help: "Number of image-processing workers currently in flight.",
		}),
		ModelCallSecs: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "captioner_model_call_duration_seconds",
			Help:    "Latency of model invocation calls, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		CircuitState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "captioner_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) by breaker name.",
		}, []string{"breaker"}),
	}
	return r
}

// ObserveOutcome increments the outcome counter for a terminal status code.
func (r *Registry) ObserveOutcome(statusCode int) {
	r.Outcomes.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetCircuitState records a named breaker's current gobreaker state string
// ("closed", "half-open", "open") as the gauge value (0/1/2) spec.md's
// circuit-state metric expects.
func (r *Registry) SetCircuitState(breaker, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	r.CircuitState.WithLabelValues(breaker).Set(v)
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ListenAndServe starts a dedicated metrics HTTP server on addr, blocking
// until it errors or the process exits. Intended to be run in its own
// goroutine by the caller.
func (r *Registry) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return http.ListenAndServe(addr, mux)
}
