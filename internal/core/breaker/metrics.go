package breaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the promauto-backed sibling used by every Breaker a Manager
// creates, labeled by breaker name instead of one metrics set per instance
// (grounded on internal/infrastructure/llm/circuit_breaker_metrics.go,
// generalized from a singleton-per-process LLM breaker to many named
// breakers sharing one metric family).
type Metrics struct {
	state        *prometheus.GaugeVec
	stateChanges *prometheus.CounterVec
	successes    *prometheus.CounterVec
	failures     *prometheus.CounterVec
	blocked      *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide Metrics singleton, registering its
// Prometheus collectors on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "valicore",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current breaker state: 0=closed, 0.5=half_open, 1=open.",
			}, []string{"name"}),
			stateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore",
				Subsystem: "circuit_breaker",
				Name:      "state_changes_total",
				Help:      "Total breaker state transitions.",
			}, []string{"name", "from", "to"}),
			successes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore",
				Subsystem: "circuit_breaker",
				Name:      "successes_total",
				Help:      "Total successful calls observed by the breaker.",
			}, []string{"name"}),
			failures: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore",
				Subsystem: "circuit_breaker",
				Name:      "failures_total",
				Help:      "Total failed or slow calls observed by the breaker.",
			}, []string{"name"}),
			blocked: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "valicore",
				Subsystem: "circuit_breaker",
				Name:      "blocked_total",
				Help:      "Total calls rejected because the breaker was open or mid-probe.",
			}, []string{"name"}),
		}
	})
	return metricsInstance
}
