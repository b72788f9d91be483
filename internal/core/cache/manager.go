package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/arborvale/valicore/pkg/valcore"
)

// Manager is the C5 Result Cache: two-tier (L1 in-memory, L2 Redis) storage
// keyed by content fingerprint, with single-flight coalescing so concurrent
// requests for a missing key share one build. Grounded on
// pkg/history/cache/manager.go, retargeted from *core.HistoryResponse to
// *valcore.ValidationResult; the singleflight.Group is new — the teacher has
// no coalescing layer, this satisfies spec §4.5's "at-most-one concurrent
// build per fingerprint" requirement directly.
type Manager struct {
	l1Enabled bool
	l2Enabled bool
	l1        *L1Cache
	l2        *L2Cache
	flight    singleflight.Group
	logger    *slog.Logger
	metrics   *Metrics
}

// Metrics holds the Prometheus instrumentation for cache operations.
type Metrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	Coalesced *prometheus.CounterVec
	Size      *prometheus.GaugeVec
	Latency   *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide cache metric family, registering it
// with the default registerer on first call, so several Managers in one
// process share it instead of registering duplicates.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { metricsInst = newMetrics() })
	return metricsInst
}

// newMetrics registers the cache metric family.
func newMetrics() *Metrics {
	return &Metrics{
		Hits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valicore", Subsystem: "result_cache", Name: "hits_total",
			Help: "Total cache hits.",
		}, []string{"cache_layer"}),
		Misses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valicore", Subsystem: "result_cache", Name: "misses_total",
			Help: "Total cache misses.",
		}, []string{"cache_layer"}),
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valicore", Subsystem: "result_cache", Name: "errors_total",
			Help: "Total cache operation errors.",
		}, []string{"cache_layer", "error_type"}),
		Coalesced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valicore", Subsystem: "result_cache", Name: "coalesced_total",
			Help: "Total requests that joined an in-flight build instead of starting a new one.",
		}, []string{"fingerprint_prefix"}),
		Size: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "valicore", Subsystem: "result_cache", Name: "size_entries",
			Help: "Current entry count.",
		}, []string{"cache_layer"}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "valicore", Subsystem: "result_cache", Name: "operation_duration_seconds",
			Help:    "Cache operation duration in seconds.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"cache_layer", "operation", "status"}),
	}
}

// NewManager constructs a Manager. L2 initialization failure degrades to
// L1-only rather than failing startup, matching the teacher's behavior.
func NewManager(cfg *Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		l1Enabled: cfg.L1Enabled,
		l2Enabled: cfg.L2Enabled,
		logger:    logger,
		metrics:   NewMetrics(),
	}

	if cfg.L1Enabled {
		l1, err := NewL1Cache(cfg.L1MaxEntries, cfg.L1TTL)
		if err != nil {
			return nil, err
		}
		m.l1 = l1
		logger.Info("L1 result cache initialized", "max_entries", cfg.L1MaxEntries, "ttl", cfg.L1TTL)
	}

	if cfg.L2Enabled {
		l2, err := NewL2Cache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPoolSize, cfg.RedisMinIdle, cfg.L2TTL, cfg.L2Compression, logger)
		if err != nil {
			logger.Warn("failed to initialize L2 result cache, continuing with L1 only", "error", err)
			m.l2Enabled = false
		} else {
			m.l2 = l2
		}
	}

	return m, nil
}

// Get looks up key across L1 then L2, populating L1 on an L2 hit.
func (m *Manager) Get(ctx context.Context, key string) (*valcore.ValidationResult, bool) {
	start := time.Now()

	if m.l1Enabled && m.l1 != nil {
		if v, ok := m.l1.Get(key); ok {
			m.metrics.Hits.WithLabelValues("l1").Inc()
			m.metrics.Latency.WithLabelValues("l1", "get", "hit").Observe(time.Since(start).Seconds())
			return v, true
		}
		m.metrics.Misses.WithLabelValues("l1").Inc()
	}

	if m.l2Enabled && m.l2 != nil {
		l2Start := time.Now()
		v, err := m.l2.Get(ctx, key)
		if err == nil {
			m.metrics.Hits.WithLabelValues("l2").Inc()
			m.metrics.Latency.WithLabelValues("l2", "get", "hit").Observe(time.Since(l2Start).Seconds())
			if m.l1Enabled && m.l1 != nil {
				m.l1.Set(key, v)
			}
			return v, true
		}
		if err != ErrNotFound {
			if ce, ok := err.(*Error); ok {
				m.metrics.Errors.WithLabelValues("l2", ce.Type).Inc()
			}
			m.logger.Warn("L2 cache error", "error", err, "key", key)
		}
		m.metrics.Misses.WithLabelValues("l2").Inc()
	}

	m.metrics.Latency.WithLabelValues("combined", "get", "miss").Observe(time.Since(start).Seconds())
	return nil, false
}

// Set stores value in whichever tiers are enabled. Only completed results
// should ever reach Set — spec §4.5 forbids caching `failed` results, and
// GetOrBuild enforces that by construction (it never calls Set on error).
func (m *Manager) Set(ctx context.Context, key string, value *valcore.ValidationResult) error {
	start := time.Now()

	if m.l1Enabled && m.l1 != nil {
		m.l1.Set(key, value)
		m.metrics.Latency.WithLabelValues("l1", "set", "success").Observe(time.Since(start).Seconds())
	}

	if m.l2Enabled && m.l2 != nil {
		l2Start := time.Now()
		if err := m.l2.Set(ctx, key, value); err != nil {
			if ce, ok := err.(*Error); ok {
				m.metrics.Errors.WithLabelValues("l2", ce.Type).Inc()
			}
			m.metrics.Latency.WithLabelValues("l2", "set", "error").Observe(time.Since(l2Start).Seconds())
			return err
		}
		m.metrics.Latency.WithLabelValues("l2", "set", "success").Observe(time.Since(l2Start).Seconds())
	}

	return nil
}

// Invalidate removes key from both tiers.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	if m.l1Enabled && m.l1 != nil {
		m.l1.Delete(key)
	}
	if m.l2Enabled && m.l2 != nil {
		return m.l2.Delete(ctx, key)
	}
	return nil
}

// GetOrBuild implements spec §4.5's at-most-one-concurrent-build contract.
// Concurrent callers with the same key join the same singleflight call; all
// receive the identical *valcore.ValidationResult pointer the one build
// produced. A failed build is never written to the cache and its error is
// returned to every waiting caller unmodified.
func (m *Manager) GetOrBuild(ctx context.Context, key string, build func(ctx context.Context) (*valcore.ValidationResult, error)) (*valcore.ValidationResult, error) {
	if v, ok := m.Get(ctx, key); ok {
		return v, nil
	}

	v, err, shared := m.flight.Do(key, func() (any, error) {
		// Re-check: another goroutine may have populated the cache between
		// our miss above and acquiring the singleflight slot.
		if cached, ok := m.Get(ctx, key); ok {
			return cached, nil
		}
		result, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if setErr := m.Set(ctx, key, result); setErr != nil {
			m.logger.Warn("failed to populate result cache after build", "key", key, "error", setErr)
		}
		return result, nil
	})
	if shared && len(key) >= 8 {
		m.metrics.Coalesced.WithLabelValues(key[:8]).Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*valcore.ValidationResult), nil
}

// Stats reports tier occupancy.
func (m *Manager) Stats() map[string]any {
	stats := make(map[string]any)
	if m.l1Enabled && m.l1 != nil {
		stats["l1"] = m.l1.Stats()
	}
	if m.l2Enabled && m.l2 != nil {
		stats["l2"] = map[string]any{"enabled": true}
	}
	return stats
}

// UpdateMetrics refreshes gauges that aren't updated inline by Get/Set.
func (m *Manager) UpdateMetrics() {
	if m.l1Enabled && m.l1 != nil {
		if entries, ok := m.l1.Stats()["entries"].(int); ok {
			m.metrics.Size.WithLabelValues("l1").Set(float64(entries))
		}
	}
}

// Close releases cache connections.
func (m *Manager) Close() error {
	if m.l2 != nil {
		return m.l2.Close()
	}
	return nil
}
