package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the Metrics Aggregator's Prometheus surface, grounded on
// pkg/metrics/retry.go's promauto-singleton CounterVec/HistogramVec layout.
type Metrics struct {
	executionTotal  *prometheus.CounterVec
	retryTotal      *prometheus.CounterVec
	breakerOpen     *prometheus.GaugeVec
	durationSeconds *prometheus.HistogramVec
	resourceCPU     prometheus.Gauge
	resourceMemRSS  prometheus.Gauge
	alertsTotal     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide singleton telemetry metrics,
// registering them with the default registerer on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			executionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore", Subsystem: "telemetry", Name: "middleware_executions_total",
				Help: "Middleware chain executions by stage name and outcome.",
			}, []string{"name", "outcome"}),
			retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore", Subsystem: "telemetry", Name: "middleware_retries_total",
				Help: "Retry attempts recorded per middleware stage.",
			}, []string{"name"}),
			breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "telemetry", Name: "circuit_open",
				Help: "1 if the named circuit is currently open, 0 otherwise.",
			}, []string{"name"}),
			durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "valicore", Subsystem: "telemetry", Name: "middleware_duration_seconds",
				Help:    "Middleware stage execution duration.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			}, []string{"name"}),
			resourceCPU: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "telemetry", Name: "resource_cpu_percent",
				Help: "Most recent sampled process CPU percent.",
			}),
			resourceMemRSS: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "telemetry", Name: "resource_rss_bytes",
				Help: "Most recent sampled process RSS in bytes.",
			}),
			alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore", Subsystem: "telemetry", Name: "alerts_total",
				Help: "Alerts emitted by the alert manager hook, by resource and severity.",
			}, []string{"resource", "severity"}),
		}
		prometheus.MustRegister(
			metricsInst.executionTotal, metricsInst.retryTotal, metricsInst.breakerOpen,
			metricsInst.durationSeconds, metricsInst.resourceCPU, metricsInst.resourceMemRSS,
			metricsInst.alertsTotal,
		)
	})
	return metricsInst
}
