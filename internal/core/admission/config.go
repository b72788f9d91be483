package admission

import (
	"fmt"
	"time"
)

// Config is the Admission Controller (C6) configuration: the three gates'
// capacities plus the adaptive throttle's tuning knobs, matching spec §6's
// named fields.
type Config struct {
	// MaxQueueSize bounds the FIFO ticket queue (gate 1). Default 1000.
	MaxQueueSize int
	// MaxConcurrentValidations is the concurrency semaphore's initial and
	// maximum capacity (gate 2). Default 4.
	MaxConcurrentValidations int
	// AcquireTimeout bounds how long a ticket waits for a concurrency slot
	// before failing with overloaded. Default 30s.
	AcquireTimeout time.Duration

	// MaxCPUPercent, MaxMemMB, MaxDiskMBps are the resource-gate thresholds
	// (gate 3): a snapshot exceeding any of them throttles non-critical
	// requests. Defaults 80, 0 (disabled), 0 (disabled).
	MaxCPUPercent float64
	MaxMemMB      float64
	MaxDiskMBps   float64

	// CriticalReservationPercent is the share of MaxConcurrentValidations
	// held back from non-critical requests at all times, so critical requests
	// always have slots of their own. Default 20.
	CriticalReservationPercent float64

	// ThrottlingAdjustmentFactor is the divisor/multiplier applied to the
	// semaphore's capacity on each adaptive-throttle interval. Default 2
	// (halve when contracting, double when expanding, each capped).
	ThrottlingAdjustmentFactor int
	// ThrottleInterval is the cadence of the CPU-trend regression. Default 60s.
	ThrottleInterval time.Duration
	// ThrottleUpSlope/ThrottleDownSlope are the regression-slope bounds from
	// spec §4.6 (+0.1 contracts, -0.1 expands).
	ThrottleUpSlope   float64
	ThrottleDownSlope float64
}

// DefaultConfig matches spec §6's named defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:               1000,
		MaxConcurrentValidations:   4,
		AcquireTimeout:             30 * time.Second,
		MaxCPUPercent:              80,
		MaxMemMB:                   0,
		MaxDiskMBps:                0,
		CriticalReservationPercent: 20,
		ThrottlingAdjustmentFactor: 2,
		ThrottleInterval:           60 * time.Second,
		ThrottleUpSlope:            0.1,
		ThrottleDownSlope:          -0.1,
	}
}

func (c Config) Validate() error {
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive")
	}
	if c.MaxConcurrentValidations <= 0 {
		return fmt.Errorf("max_concurrent_validations must be positive")
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive")
	}
	if c.CriticalReservationPercent < 0 || c.CriticalReservationPercent > 100 {
		return fmt.Errorf("critical_reservation_percent must be between 0 and 100")
	}
	if c.ThrottlingAdjustmentFactor < 1 {
		return fmt.Errorf("throttling_adjustment_factor must be at least 1")
	}
	if c.ThrottleInterval <= 0 {
		return fmt.Errorf("throttle_interval must be positive")
	}
	return nil
}
