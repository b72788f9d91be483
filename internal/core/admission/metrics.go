package admission

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the Admission Controller's Prometheus surface, grounded on
// queue_metrics.go's per-stage gauge/counter layout but retargeted from a
// 3-tier priority queue to the spec's queue/concurrency/resource gates.
type Metrics struct {
	queueDepth       prometheus.Gauge
	queueCapacity    prometheus.Gauge
	concurrencyInUse prometheus.Gauge
	concurrencyCap   prometheus.Gauge
	reservedInUse    prometheus.Gauge
	admitted         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	throttleFactor   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide singleton Admission Controller metrics,
// registering them with the default registerer on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "queue_depth",
				Help: "Current number of requests waiting on the concurrency gate.",
			}),
			queueCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "queue_capacity",
				Help: "Configured admission queue capacity.",
			}),
			concurrencyInUse: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "concurrency_in_use",
				Help: "Currently running validations.",
			}),
			concurrencyCap: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "concurrency_capacity",
				Help: "Current (possibly throttled) concurrency semaphore capacity.",
			}),
			reservedInUse: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "critical_reservation_in_use",
				Help: "Critical requests currently occupying the reserved capacity share.",
			}),
			admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "admitted_total",
				Help: "Admitted requests by critical flag.",
			}, []string{"critical"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "rejected_total",
				Help: "Rejected requests by reason.",
			}, []string{"reason"}),
			throttleFactor: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "valicore", Subsystem: "admission", Name: "throttle_capacity_ratio",
				Help: "Ratio of current concurrency capacity to MaxConcurrentValidations.",
			}),
		}
		prometheus.MustRegister(
			metricsInst.queueDepth, metricsInst.queueCapacity,
			metricsInst.concurrencyInUse, metricsInst.concurrencyCap,
			metricsInst.reservedInUse, metricsInst.admitted,
			metricsInst.rejected, metricsInst.throttleFactor,
		)
	})
	return metricsInst
}
