// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for solve attempts.
type Metrics struct {
	registry *prometheus.Registry

	solveAttempts *prometheus.CounterVec
	solveDuration prometheus.Histogram
}

// NewMetrics creates a metrics set on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "captchafill"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		solveAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_attempts_total",
			Help:      "Solve attempts by final result",
		}, []string{"result"}),
		solveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Duration of complete solve attempts",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// RecordAttempt records the outcome and duration of one solve attempt.
func (m *Metrics) RecordAttempt(result string, duration time.Duration) {
	m.solveAttempts.WithLabelValues(result).Inc()
	m.solveDuration.Observe(duration.Seconds())
}

// Handler exposes the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
