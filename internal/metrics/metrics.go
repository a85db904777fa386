// Package metrics exposes a run as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rampcheck/internal/stats"
)

const namespace = "rampcheck"

// Exporter implements runner.Observer on top of a private registry so
// several runs in one process (tests) do not collide.
type Exporter struct {
	reg *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	active   prometheus.Gauge
	target   prometheus.Gauge
}

func NewExporter() *Exporter {
	e := &Exporter{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests issued, by scenario and outcome",
		}, []string{"scenario", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by scenario",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"scenario"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently running",
		}),
		target: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_workers",
			Help:      "Workers the ramp profile asks for",
		}),
	}
	e.reg.MustRegister(e.requests, e.latency, e.active, e.target)
	return e
}

func (e *Exporter) ObserveRequest(rec stats.RequestRecord) {
	e.requests.WithLabelValues(rec.Scenario, rec.Outcome.String()).Inc()
	e.latency.WithLabelValues(rec.Scenario).Observe(float64(rec.DurationMicros) / 1e6)
}

func (e *Exporter) ObservePool(active, target int) {
	e.active.Set(float64(active))
	e.target.Set(float64(target))
}

// Handler serves the registry in the text exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and for callers that add their own
// collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.reg
}
