package registry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DiscoveryMetrics instruments Discovery's hot-reload path: every debounced
// filesystem event that results in a load/register/unregister attempt.
type DiscoveryMetrics struct {
	ReloadTotal    *prometheus.CounterVec
	ReloadDuration prometheus.Histogram
	ReloadErrors   *prometheus.CounterVec
	LastSuccess    prometheus.Gauge
}

var (
	discoveryMetricsOnce sync.Once
	discoveryMetricsInst *DiscoveryMetrics
)

// NewDiscoveryMetrics returns the process-wide DiscoveryMetrics, registering
// it with the default registerer on first call, so every Discovery in one
// process shares it instead of registering duplicates.
func NewDiscoveryMetrics() *DiscoveryMetrics {
	discoveryMetricsOnce.Do(func() { discoveryMetricsInst = newDiscoveryMetrics() })
	return discoveryMetricsInst
}

// newDiscoveryMetrics registers the discovery metric family.
func newDiscoveryMetrics() *DiscoveryMetrics {
	return &DiscoveryMetrics{
		ReloadTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "valicore",
				Subsystem: "discovery",
				Name:      "reload_total",
				Help:      "Total plug-in reload attempts by status.",
			},
			[]string{"status"},
		),
		ReloadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "valicore",
				Subsystem: "discovery",
				Name:      "reload_duration_seconds",
				Help:      "Duration of a single plug-in reload operation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1.0},
			},
		),
		ReloadErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "valicore",
				Subsystem: "discovery",
				Name:      "reload_errors_total",
				Help:      "Total plug-in reload errors by cause.",
			},
			[]string{"cause"},
		),
		LastSuccess: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "valicore",
				Subsystem: "discovery",
				Name:      "reload_last_success_timestamp_seconds",
				Help:      "Unix timestamp of the last successful plug-in reload.",
			},
		),
	}
}
