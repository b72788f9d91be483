package telemetry

import "time"

// Config tunes the Metrics Aggregator (C2) and the Alert Manager hook (C10).
type Config struct {
	// DurationSampleCapacity bounds the per-middleware duration ring buffer
	// ("last 1000 durations" per spec §4.2).
	DurationSampleCapacity int

	// ResourceRetention bounds the resource-snapshot ring ("24h or 86400
	// entries, whichever is smaller", per spec §4.2).
	ResourceRetention     time.Duration
	ResourceRingCapacity  int
	ResourcePruneInterval time.Duration

	// ErrorRateWindow is the trailing window used to compute error rate for
	// alert thresholds.
	ErrorRateWindow time.Duration

	// Alert thresholds (spec §4.10): CPU/memory, queue depth > 80% of
	// capacity, phase time > 25% of total, failure rate > bound. The
	// bottleneck constants (25% phase share, 500 MB) are named as magic
	// constants in the spec and treated as configurable defaults, not fixed
	// literals, per the spec's own Open Questions resolution.
	ErrorRateAlertThreshold  float64 // fraction, e.g. 0.1 for 10%
	QueueDepthCapacityRatio  float64 // queue depth alert fires above this fraction of capacity
	PhaseShareAlertThreshold float64 // a single phase consuming this fraction of total time
	MemoryAlertBytes         int64
	CPUPercentAlertThreshold float64
	AlertCooldown            time.Duration
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		DurationSampleCapacity:   1000,
		ResourceRetention:        24 * time.Hour,
		ResourceRingCapacity:     86400,
		ResourcePruneInterval:    time.Hour,
		ErrorRateWindow:          5 * time.Minute,
		ErrorRateAlertThreshold:  0.1,
		QueueDepthCapacityRatio:  0.8,
		PhaseShareAlertThreshold: 0.25,
		MemoryAlertBytes:         500 * 1024 * 1024,
		CPUPercentAlertThreshold: 90,
		AlertCooldown:            5 * time.Minute,
	}
}
