// Package config loads and validates the Validation Execution Core's
// configuration, following the teacher's three-step viper shape:
// setDefaults, then AutomaticEnv+file unmarshal, then Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arborvale/valicore/internal/core/admission"
	"github.com/arborvale/valicore/internal/core/breaker"
	"github.com/arborvale/valicore/internal/core/cache"
	"github.com/arborvale/valicore/internal/core/resilience"
	"github.com/arborvale/valicore/internal/core/telemetry"
)

// Config is the top-level configuration tree for the Validation Execution
// Core, covering spec §6's "Configuration (recognized options)" plus the
// ambient server/log/app sections every teacher-style service carries.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	App       AppConfig       `mapstructure:"app"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP front-door configuration for cmd/validationd.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// LogConfig holds logging configuration; the entrypoints copy it field by
// field into pkg/logger.Config at startup.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig holds process-identity configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsConfig controls the promhttp exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// AdmissionConfig mirrors spec §6's admission-related fields, unmarshaled
// into internal/core/admission.Config.
type AdmissionConfig struct {
	MaxConcurrentValidations  int           `mapstructure:"max_concurrent_validations"`
	MaxQueueSize              int           `mapstructure:"max_queue_size"`
	AdmissionWaitTimeout      time.Duration `mapstructure:"admission_wait_timeout"`
	MaxCPUPercent             float64       `mapstructure:"max_cpu_pct"`
	MaxMemMB                  float64       `mapstructure:"max_mem_mb"`
	MaxDiskMBps               float64       `mapstructure:"max_disk_mbps"`
	CriticalReservationPct    float64       `mapstructure:"critical_reservation_pct"`
	ThrottlingAdjustmentFactor int          `mapstructure:"throttling_adjustment_factor"`
	ThrottleInterval          time.Duration `mapstructure:"throttle_interval"`
	ThrottleUpSlope           float64       `mapstructure:"throttle_up_slope"`
	ThrottleDownSlope         float64       `mapstructure:"throttle_down_slope"`
}

// ToCore converts the loaded section into internal/core/admission.Config.
func (a AdmissionConfig) ToCore() admission.Config {
	return admission.Config{
		MaxQueueSize:               a.MaxQueueSize,
		MaxConcurrentValidations:   a.MaxConcurrentValidations,
		AcquireTimeout:             a.AdmissionWaitTimeout,
		MaxCPUPercent:              a.MaxCPUPercent,
		MaxMemMB:                   a.MaxMemMB,
		MaxDiskMBps:                a.MaxDiskMBps,
		CriticalReservationPercent: a.CriticalReservationPct,
		ThrottlingAdjustmentFactor: a.ThrottlingAdjustmentFactor,
		ThrottleInterval:           a.ThrottleInterval,
		ThrottleUpSlope:            a.ThrottleUpSlope,
		ThrottleDownSlope:          a.ThrottleDownSlope,
	}
}

// RetryConfig is the default per-category retry policy (spec §6: "Retry per
// category: {maxAttempts, strategy, baseDelay, maxDelay, maxDuration}").
// The entrypoints register this section as the "validator" category
// (internal/core/resilience.CategoryPolicy.SetCategory); any category without
// its own SetCategory call falls back to resilience.DefaultCategoryConfig, not
// to this section.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Strategy    string        `mapstructure:"strategy"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
	Factor      float64       `mapstructure:"factor"`
}

// ToCore converts the loaded section into resilience.CategoryConfig.
func (r RetryConfig) ToCore() resilience.CategoryConfig {
	return resilience.CategoryConfig{
		MaxAttempts: r.MaxAttempts,
		Strategy:    resilience.Strategy(r.Strategy),
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		MaxDuration: r.MaxDuration,
		Factor:      r.Factor,
	}
}

// BreakerConfig is the default circuit breaker configuration (spec §6:
// "{failureThreshold (5), resetTimeout (30s)}"), expanded with the
// teacher's sliding-window fields.
type BreakerConfig struct {
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	ResetTimeout         time.Duration `mapstructure:"reset_timeout"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	TimeWindow           time.Duration `mapstructure:"time_window"`
	SlowCallDuration      time.Duration `mapstructure:"slow_call_duration"`
}

// ToCore converts the loaded section into breaker.Config.
func (b BreakerConfig) ToCore() breaker.Config {
	return breaker.Config{
		FailureThreshold:     b.FailureThreshold,
		ResetTimeout:         b.ResetTimeout,
		FailureRateThreshold: b.FailureRateThreshold,
		TimeWindow:           b.TimeWindow,
		SlowCallDuration:     b.SlowCallDuration,
	}
}

// CacheConfig is the result cache configuration (spec §6: "{enabled, ttl,
// maxEntries, maxBytes}"), expanded with the teacher's L1/L2 split.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`

	L1Enabled    bool          `mapstructure:"l1_enabled"`
	L1MaxEntries int           `mapstructure:"l1_max_entries"`
	L1TTL        time.Duration `mapstructure:"l1_ttl"`

	L2Enabled     bool          `mapstructure:"l2_enabled"`
	L2TTL         time.Duration `mapstructure:"l2_ttl"`
	L2Compression bool          `mapstructure:"l2_compression"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPoolSize int    `mapstructure:"redis_pool_size"`
	RedisMinIdle  int    `mapstructure:"redis_min_idle"`
}

// ToCore converts the loaded section into cache.Config.
func (c CacheConfig) ToCore() *cache.Config {
	return &cache.Config{
		Enabled:       c.Enabled,
		L1Enabled:     c.L1Enabled,
		L1MaxEntries:  c.L1MaxEntries,
		L1TTL:         c.L1TTL,
		L2Enabled:     c.L2Enabled,
		L2TTL:         c.L2TTL,
		L2Compression: c.L2Compression,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		RedisPoolSize: c.RedisPoolSize,
		RedisMinIdle:  c.RedisMinIdle,
	}
}

// DiscoveryConfig mirrors spec §6's Discovery section
// "{autoDiscoveryPaths, enableHotReload, fileChangeDelayMs,
// enableHealthChecks, healthCheckIntervalMs}", with the delays and intervals
// as time.Duration values and an added HealthCheckTimeout.
type DiscoveryConfig struct {
	AutoDiscoveryPaths    []string      `mapstructure:"auto_discovery_paths"`
	EnableHotReload       bool          `mapstructure:"enable_hot_reload"`
	FileChangeDelay       time.Duration `mapstructure:"file_change_delay"`
	EnableHealthChecks    bool          `mapstructure:"enable_health_checks"`
	HealthCheckInterval   time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout    time.Duration `mapstructure:"health_check_timeout"`
}

// TelemetryConfig mirrors the Open Questions resolution in SPEC_FULL.md §9:
// bottleneck/alert thresholds are configuration fields, not literals.
type TelemetryConfig struct {
	DurationSampleCapacity   int           `mapstructure:"duration_sample_capacity"`
	ResourceRetention        time.Duration `mapstructure:"resource_retention"`
	ResourceRingCapacity     int           `mapstructure:"resource_ring_capacity"`
	ResourcePruneInterval    time.Duration `mapstructure:"resource_prune_interval"`
	ErrorRateWindow          time.Duration `mapstructure:"error_rate_window"`
	ErrorRateAlertThreshold  float64       `mapstructure:"error_rate_alert_threshold"`
	QueueDepthCapacityRatio  float64       `mapstructure:"queue_depth_capacity_ratio"`
	PhaseShareAlertThreshold float64       `mapstructure:"phase_share_alert_threshold"`
	MemoryAlertBytes         int64         `mapstructure:"memory_alert_bytes"`
	CPUPercentAlertThreshold float64       `mapstructure:"cpu_percent_alert_threshold"`
	AlertCooldown            time.Duration `mapstructure:"alert_cooldown"`
}

// ToCore converts the loaded section into telemetry.Config.
func (t TelemetryConfig) ToCore() telemetry.Config {
	return telemetry.Config{
		DurationSampleCapacity:   t.DurationSampleCapacity,
		ResourceRetention:        t.ResourceRetention,
		ResourceRingCapacity:     t.ResourceRingCapacity,
		ResourcePruneInterval:    t.ResourcePruneInterval,
		ErrorRateWindow:          t.ErrorRateWindow,
		ErrorRateAlertThreshold:  t.ErrorRateAlertThreshold,
		QueueDepthCapacityRatio:  t.QueueDepthCapacityRatio,
		PhaseShareAlertThreshold: t.PhaseShareAlertThreshold,
		MemoryAlertBytes:         t.MemoryAlertBytes,
		CPUPercentAlertThreshold: t.CPUPercentAlertThreshold,
		AlertCooldown:            t.AlertCooldown,
	}
}

// LoadConfig loads configuration from a file (if configPath is non-empty)
// and environment variables, applying defaults first.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only, skipping any config file.
func LoadConfigFromEnv() (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// App defaults
	viper.SetDefault("app.name", "validationd")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)

	// Admission defaults (spec §6)
	viper.SetDefault("admission.max_concurrent_validations", 4)
	viper.SetDefault("admission.max_queue_size", 1000)
	viper.SetDefault("admission.admission_wait_timeout", "30s")
	viper.SetDefault("admission.max_cpu_pct", 80)
	viper.SetDefault("admission.max_mem_mb", 0)
	viper.SetDefault("admission.max_disk_mbps", 0)
	viper.SetDefault("admission.critical_reservation_pct", 20)
	viper.SetDefault("admission.throttling_adjustment_factor", 2)
	viper.SetDefault("admission.throttle_interval", "60s")
	viper.SetDefault("admission.throttle_up_slope", 0.1)
	viper.SetDefault("admission.throttle_down_slope", -0.1)

	// Retry defaults
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.strategy", "exponential")
	viper.SetDefault("retry.base_delay", "100ms")
	viper.SetDefault("retry.max_delay", "5s")
	viper.SetDefault("retry.max_duration", "30s")
	viper.SetDefault("retry.factor", 2.0)

	// Breaker defaults (spec §6: failureThreshold=5, resetTimeout=30s)
	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.reset_timeout", "30s")
	viper.SetDefault("breaker.failure_rate_threshold", 0.5)
	viper.SetDefault("breaker.time_window", "60s")
	viper.SetDefault("breaker.slow_call_duration", "3s")

	// Cache defaults (spec §4.5: default ttl 1h)
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.l1_enabled", true)
	viper.SetDefault("cache.l1_max_entries", 10000)
	viper.SetDefault("cache.l1_ttl", "1h")
	viper.SetDefault("cache.l2_enabled", false)
	viper.SetDefault("cache.l2_ttl", "1h")
	viper.SetDefault("cache.l2_compression", true)
	viper.SetDefault("cache.redis_addr", "localhost:6379")
	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.redis_pool_size", 50)
	viper.SetDefault("cache.redis_min_idle", 10)

	// Discovery defaults
	viper.SetDefault("discovery.auto_discovery_paths", []string{})
	viper.SetDefault("discovery.enable_hot_reload", false)
	viper.SetDefault("discovery.file_change_delay", "500ms")
	viper.SetDefault("discovery.enable_health_checks", false)
	viper.SetDefault("discovery.health_check_interval", "60s")
	viper.SetDefault("discovery.health_check_timeout", "5s")

	// Telemetry defaults (SPEC_FULL.md §9 Open Question resolution)
	viper.SetDefault("telemetry.duration_sample_capacity", 1000)
	viper.SetDefault("telemetry.resource_retention", "24h")
	viper.SetDefault("telemetry.resource_ring_capacity", 86400)
	viper.SetDefault("telemetry.resource_prune_interval", "1h")
	viper.SetDefault("telemetry.error_rate_window", "5m")
	viper.SetDefault("telemetry.error_rate_alert_threshold", 0.1)
	viper.SetDefault("telemetry.queue_depth_capacity_ratio", 0.8)
	viper.SetDefault("telemetry.phase_share_alert_threshold", 0.25)
	viper.SetDefault("telemetry.memory_alert_bytes", 500<<20)
	viper.SetDefault("telemetry.cpu_percent_alert_threshold", 90)
	viper.SetDefault("telemetry.alert_cooldown", "5m")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if c.Admission.MaxConcurrentValidations <= 0 {
		return fmt.Errorf("admission.max_concurrent_validations must be positive")
	}
	if c.Admission.MaxQueueSize <= 0 {
		return fmt.Errorf("admission.max_queue_size must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Cache.Enabled && !c.Cache.L1Enabled && !c.Cache.L2Enabled {
		return fmt.Errorf("cache.enabled requires at least one of l1_enabled or l2_enabled")
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug returns true if debug mode is enabled.
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.IsDevelopment()
}
