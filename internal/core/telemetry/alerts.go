package telemetry

import (
	"fmt"
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

// SubscribeAlerts registers handler to receive every Alert the aggregator
// emits from here on. Handlers are invoked synchronously and must not block
// meaningfully; a slow handler delays whichever caller triggered the alert
// (RecordExecution, RecordResource, or the pipeline's performance check).
func (a *Aggregator) SubscribeAlerts(handler valcore.AlertHandler) {
	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	a.handlers = append(a.handlers, handler)
}

// emitAlert dispatches alert to all subscribers, subject to a per-resource
// cooldown so a metric oscillating around a threshold doesn't flood
// subscribers with duplicate alerts.
func (a *Aggregator) emitAlert(alert valcore.Alert) {
	a.alertMu.Lock()
	if last, ok := a.lastAlertedAt[alert.Resource]; ok && a.cfg.AlertCooldown > 0 {
		if time.Since(last) < a.cfg.AlertCooldown {
			a.alertMu.Unlock()
			return
		}
	}
	a.lastAlertedAt[alert.Resource] = alert.At
	handlers := append([]valcore.AlertHandler(nil), a.handlers...)
	a.alertMu.Unlock()

	a.metrics.alertsTotal.WithLabelValues(alert.Resource, string(alert.Severity)).Inc()
	for _, h := range handlers {
		h(alert)
	}
}

// evaluateErrorRate checks name's failure rate over the configured window
// against ErrorRateAlertThreshold, per spec §4.10's "failure rate > bound."
func (a *Aggregator) evaluateErrorRate(name string, st *middlewareState) {
	samples := withinWindow(st.executions.snapshot(), a.cfg.ErrorRateWindow)
	if len(samples) < 5 {
		return // not enough signal yet to call it a rate
	}
	rate := errorRate(samples)
	if rate > a.cfg.ErrorRateAlertThreshold {
		a.emitAlert(valcore.Alert{
			Resource:          "middleware:" + name,
			Severity:          severityForRatio(rate, a.cfg.ErrorRateAlertThreshold),
			Message:           fmt.Sprintf("%s failure rate %.1f%% exceeds threshold %.1f%%", name, rate*100, a.cfg.ErrorRateAlertThreshold*100),
			RecommendedAction: "inspect recent failures for " + name,
			Trend:             valcore.TrendRising,
			At:                time.Now(),
		})
	}
}

// evaluateResource checks a resource snapshot's CPU and memory against
// configured thresholds, per spec §4.10.
func (a *Aggregator) evaluateResource(snap valcore.ResourceSnapshot) {
	if snap.CPUPercent > a.cfg.CPUPercentAlertThreshold {
		a.emitAlert(valcore.Alert{
			Resource:          "cpu",
			Severity:          severityForRatio(snap.CPUPercent, a.cfg.CPUPercentAlertThreshold),
			Message:           fmt.Sprintf("CPU at %.1f%% exceeds threshold %.1f%%", snap.CPUPercent, a.cfg.CPUPercentAlertThreshold),
			RecommendedAction: "reduce concurrent validations or scale out",
			Trend:             a.cpuTrend(),
			At:                time.Now(),
		})
	}
	if a.cfg.MemoryAlertBytes > 0 && snap.RSSBytes > a.cfg.MemoryAlertBytes {
		a.emitAlert(valcore.Alert{
			Resource:          "memory",
			Severity:          valcore.AlertWarning,
			Message:           fmt.Sprintf("RSS %d bytes exceeds threshold %d bytes", snap.RSSBytes, a.cfg.MemoryAlertBytes),
			RecommendedAction: "investigate memory growth; consider lowering cache size",
			Trend:             valcore.TrendRising,
			At:                time.Now(),
		})
	}
}

// cpuTrend compares the two most recent resource snapshots to classify the
// short-term direction of CPU usage.
func (a *Aggregator) cpuTrend() valcore.Trend {
	window := a.resources.window(time.Minute)
	if len(window) < 2 {
		return valcore.TrendStable
	}
	first, last := window[0].CPUPercent, window[len(window)-1].CPUPercent
	switch {
	case last > first+5:
		return valcore.TrendRising
	case last < first-5:
		return valcore.TrendFalling
	default:
		return valcore.TrendStable
	}
}

// EvaluateQueueDepth checks the admission controller's queue depth against
// QueueDepthCapacityRatio ("queue depth > 80% of capacity" per spec §4.10).
// Called by the pipeline coordinator after each admission decision.
func (a *Aggregator) EvaluateQueueDepth(depth, capacity int) {
	if capacity <= 0 {
		return
	}
	ratio := float64(depth) / float64(capacity)
	if ratio > a.cfg.QueueDepthCapacityRatio {
		a.emitAlert(valcore.Alert{
			Resource:          "queue_depth",
			Severity:          severityForRatio(ratio, a.cfg.QueueDepthCapacityRatio),
			Message:           fmt.Sprintf("admission queue at %d/%d (%.0f%% of capacity)", depth, capacity, ratio*100),
			RecommendedAction: "increase MaxQueueSize or shed non-critical load",
			Trend:             valcore.TrendRising,
			At:                time.Now(),
		})
	}
}

// EvaluatePerformance checks a completed validation's performance stats
// against the phase-share and memory bottleneck thresholds (spec §4.10's
// "phase time > 25% of total"; §9's 25%/500MB constants, kept configurable).
// Called by the pipeline coordinator as step 7 of spec §4.9.
func (a *Aggregator) EvaluatePerformance(perf valcore.Performance) []string {
	var bottlenecks []string
	var total time.Duration
	for _, d := range perf.PhaseTimings {
		total += d
	}
	if total <= 0 {
		return bottlenecks
	}
	for phase, d := range perf.PhaseTimings {
		share := float64(d) / float64(total)
		if share > a.cfg.PhaseShareAlertThreshold {
			msg := fmt.Sprintf("phase %q consumed %.0f%% of total execution time", phase, share*100)
			bottlenecks = append(bottlenecks, msg)
			a.emitAlert(valcore.Alert{
				Resource:          "phase:" + phase,
				Severity:          valcore.AlertWarning,
				Message:           msg,
				RecommendedAction: "profile " + phase + " for optimization opportunities",
				Trend:             valcore.TrendStable,
				At:                time.Now(),
			})
		}
	}
	if a.cfg.MemoryAlertBytes > 0 && perf.PeakMemoryBytes > a.cfg.MemoryAlertBytes {
		msg := fmt.Sprintf("peak memory %d bytes exceeded threshold %d bytes", perf.PeakMemoryBytes, a.cfg.MemoryAlertBytes)
		bottlenecks = append(bottlenecks, msg)
		a.emitAlert(valcore.Alert{
			Resource:          "memory",
			Severity:          valcore.AlertWarning,
			Message:           msg,
			RecommendedAction: "investigate validator memory usage for this request",
			Trend:             valcore.TrendRising,
			At:                time.Now(),
		})
	}
	return bottlenecks
}

// severityForRatio scales severity by how far a metric has exceeded its
// threshold, so a metric that's just crossed the line reads as "warning"
// and one that's far past it reads as "critical."
func severityForRatio(value, threshold float64) valcore.AlertSeverity {
	if threshold <= 0 {
		return valcore.AlertWarning
	}
	ratio := value / threshold
	switch {
	case ratio >= 2:
		return valcore.AlertCritical
	case ratio >= 1.5:
		return valcore.AlertHigh
	default:
		return valcore.AlertWarning
	}
}
