// Package valcore defines the shared data model for the validation execution
// core: requests, options, results, and the small value types that flow
// between the admission, cache, chain, and registry packages.
package valcore

import (
	"context"
	"time"
)

// Severity classifies a single validation finding.
type Severity string

const (
	SeverityInfo                Severity = "info"
	SeverityWarning              Severity = "warning"
	SeverityError                Severity = "error"
	SeveritySecurityVulnerability Severity = "security_vulnerability"
)

// State is the terminal (or in-flight) state of a ValidationResult.
type State string

const (
	StateInProgress         State = "in_progress"
	StateCompleted          State = "completed"
	StateCompletedWithErrors State = "completed_with_errors"
	StateFailed             State = "failed"
)

// PerformanceThresholds bounds acceptable execution cost for a request.
type PerformanceThresholds struct {
	MaxTimeMs     int64
	MaxMemoryBytes int64
}

// ParallelOptions controls how phases within one request may overlap.
type ParallelOptions struct {
	Adaptive            bool
	MinCores            int
	MaxCPUPercent       float64
	MaxMemoryBytes      int64
	MaxConcurrentPhases int
	SequentialPhases    map[string]struct{}
}

// ValidationOptions enumerates which phases run and how they're tuned.
type ValidationOptions struct {
	Syntax                    bool
	Security                  bool
	Style                     bool
	BestPractices             bool
	ErrorHandling             bool
	CustomRules               map[string]string // ruleId -> rule body (YAML)
	SecuritySeverityThreshold int               // 0-10
	ExcludeRules              map[string]struct{}
	PerformanceThresholds     *PerformanceThresholds
	Parallel                  ParallelOptions
}

// ValidationRequest is immutable once submitted to the pipeline.
type ValidationRequest struct {
	RequestID    string
	Code         []byte
	Language     string
	Options      ValidationOptions
	Critical     bool
	Deadline     *time.Time
	Cancellation context.Context
}

// Location points at the offending span of source, when known.
type Location struct {
	Line   int
	Column int
	Length int
}

// Issue is a single diagnostic produced by a validation phase.
type Issue struct {
	Code       string
	Severity   Severity
	Message    string
	Location   *Location
	Suggestion string
}

// Failure records a middleware stage that did not complete successfully.
type Failure struct {
	Name         string
	LastError    string
	Attempts     int
	BreakerState string
}

// Performance is the statistics block attached to every result.
type Performance struct {
	PhaseTimings              map[string]time.Duration
	AverageTimeMs             float64
	PeakMemoryBytes           int64
	CPUPercent                float64
	ThreadCount               int
	HandleCount               int
	ConcurrentOps             int
	ThreadPoolUtilization     float64
	ParallelEfficiencyPercent float64
	Bottlenecks               []string
}

// Stats wraps the performance block; kept as its own type to mirror the
// spec's `Stats.Performance` naming and leave room for non-performance
// statistics later without reshaping ValidationResult.
type Stats struct {
	Performance Performance
}

// ValidationResult is the outcome of one pipeline run. Once returned it is
// owned by the caller; cache-shared instances must never be mutated in
// place by a reader.
type ValidationResult struct {
	ID                string
	State             State
	Language          string
	Issues            []Issue
	IsValid           bool
	Partial           bool
	Stats             Stats
	SkippedMiddleware map[string]struct{}
	FailedMiddleware  []Failure
	CompletedAt       time.Time
}

// HasBlockingIssue reports whether any issue would flip IsValid to false.
func (r *ValidationResult) HasBlockingIssue() bool {
	for _, iss := range r.Issues {
		if iss.Severity == SeverityError || iss.Severity == SeveritySecurityVulnerability {
			return true
		}
	}
	return false
}

// BreakerState is the externally visible state of a circuit.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ResourceSnapshot is one tick's worth of system measurement, published by
// the resource sampler to the metrics aggregator and admission controller.
type ResourceSnapshot struct {
	At                time.Time
	CPUPercent        float64
	RSSBytes          int64
	DiskRateBps       float64
	NetRateBps        float64
	Threads           int
	Handles           int
	GCRatePerMinute   float64
	ThreadPoolUtilPct float64
}

// Capability tags a single phase or cross-cutting feature a validator
// supports.
type Capability string

const (
	CapabilitySyntax        Capability = "syntax"
	CapabilitySecurity      Capability = "security"
	CapabilityStyle         Capability = "style"
	CapabilityBestPractices Capability = "best_practices"
	CapabilityErrorHandling Capability = "error_handling"
	CapabilityCustomRules   Capability = "custom_rules"
	CapabilityPerformance   Capability = "performance"
)

// ValidatorMetadata describes a registered validator's provenance.
type ValidatorMetadata struct {
	Version      string
	Provider     string
	Description  string
	Dependencies []Dependency
	Priority     int
}

// Dependency names a required peer validator and the version range it must
// satisfy, used by the registry's dependency graph.
type Dependency struct {
	Language     string
	VersionRange string
	Optional     bool
}

// Health is the last-known liveness of a registered validator.
type Health struct {
	Healthy     bool
	LastChecked time.Time
	LoadTime    time.Duration
	MemoryBytes int64
	LastError   string
}

// ValidatorEntry is what the registry stores per language tag.
type ValidatorEntry struct {
	Language     string
	Capabilities map[Capability]struct{}
	Metadata     ValidatorMetadata
	Health       Health
}

// Validator is the external capability the pipeline invokes at the
// innermost position of the middleware chain. Concrete per-language
// validators are out of scope for this core; this interface is the
// narrow seam they plug into.
type Validator interface {
	Language() string
	Capabilities() map[Capability]struct{}
	Validate(ctx context.Context, code []byte, options ValidationOptions) (*ValidationResult, error)
}

// AlertSeverity classifies an Alert emitted by the alert manager hook.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertHigh     AlertSeverity = "high"
	AlertCritical AlertSeverity = "critical"
)

// Trend describes the short-term direction of the metric that triggered an
// Alert.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Alert is published by the alert manager hook (C10) whenever a metric
// crosses a configured threshold.
type Alert struct {
	Resource          string
	Severity          AlertSeverity
	Message           string
	RecommendedAction string
	Trend             Trend
	At                time.Time
}

// AlertHandler receives Alerts from SubscribeAlerts.
type AlertHandler func(Alert)
