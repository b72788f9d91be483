// Package pipeline implements the Pipeline Coordinator (C9): the single
// entry point that ties the cache (C5), admission controller (C6),
// middleware chain (C7), validator registry (C8), and telemetry (C2/C10)
// together into spec §4.9's eight-step validate flow. New; there is no
// direct teacher analogue for "coordinator tying everything together" since
// the teacher's pkg/history.Service plays that composing role for a
// different domain — this package is grounded on that composition-root
// shape (construct dependencies, expose one orchestrating method) rather
// than on any single teacher function.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/arborvale/valicore/internal/core/admission"
	"github.com/arborvale/valicore/internal/core/cache"
	"github.com/arborvale/valicore/internal/core/chain"
	"github.com/arborvale/valicore/internal/core/registry"
	"github.com/arborvale/valicore/internal/core/telemetry"
	"github.com/arborvale/valicore/pkg/valcore"
)

// Sampler is the narrow seam into C1 the pipeline needs for step 7's
// resource-snapshot publication.
type Sampler interface {
	Latest() (valcore.ResourceSnapshot, bool)
}

// Pipeline is the C9 Pipeline Coordinator.
type Pipeline struct {
	cache     *cache.Manager
	admission *admission.Controller
	chain     *chain.Chain
	registry  *registry.Registry
	telemetry *telemetry.Aggregator
	sampler   Sampler
}

// New constructs a Pipeline from its already-configured components. Callers
// are expected to have registered validators and middleware stages (C8/C7)
// before the first Validate call.
func New(cacheManager *cache.Manager, admissionController *admission.Controller, middlewareChain *chain.Chain, validatorRegistry *registry.Registry, aggregator *telemetry.Aggregator, sampler Sampler) *Pipeline {
	return &Pipeline{
		cache:     cacheManager,
		admission: admissionController,
		chain:     middlewareChain,
		registry:  validatorRegistry,
		telemetry: aggregator,
		sampler:   sampler,
	}
}

// Validate runs req through the eight-step flow in spec §4.9.
func (p *Pipeline) Validate(ctx context.Context, req *valcore.ValidationRequest) (*valcore.ValidationResult, error) {
	if err := validateShape(req); err != nil {
		// Input-shape errors are thrown to the caller directly rather than
		// wrapped into a failed Result, per spec §7's propagation policy.
		return nil, err
	}

	// Step 1: fingerprint + cache lookup.
	fingerprint, err := valcore.Fingerprint(req.Language, req.Code, req.Options)
	if err != nil {
		return nil, err
	}
	if cached, ok := p.cache.Get(ctx, fingerprint); ok {
		return cached, nil
	}

	// Step 2: resolve validator.
	validator, err := p.registry.Get(req.Language)
	if err != nil {
		return p.failedResult(req, valcore.WrapError(valcore.ErrKindUnsupportedLanguage, "no validator registered for language "+req.Language, err)), nil
	}

	// Steps 3-6 run inside the single-build lease (step 5) so concurrent
	// requests sharing a fingerprint coalesce onto one admission+execution.
	result, err := p.cache.GetOrBuild(ctx, fingerprint, func(ctx context.Context) (*valcore.ValidationResult, error) {
		return p.admitAndExecute(ctx, req, validator)
	})
	if err != nil {
		return p.failedResult(req, err), nil
	}
	return result, nil
}

// admitAndExecute implements steps 3-7: admission, chain execution, result
// merging, and metrics/threshold publication. The admission slot is always
// released on every exit path (step 8), including cancellation.
func (p *Pipeline) admitAndExecute(ctx context.Context, req *valcore.ValidationRequest, validator valcore.Validator) (*valcore.ValidationResult, error) {
	release, err := p.admission.Admit(ctx, req.Critical)
	if err != nil {
		return nil, err
	}
	defer release()

	terminal := func(ctx context.Context) (*valcore.ValidationResult, error) {
		return validator.Validate(ctx, req.Code, req.Options)
	}

	result, outcome, err := p.chain.Execute(ctx, req, terminal)
	if err != nil {
		return nil, err
	}

	mergeOutcome(result, outcome)
	result.CompletedAt = time.Now()

	p.publishTelemetry(result)

	return result, nil
}

// mergeOutcome folds the chain's skipped/failed bookkeeping into result and
// derives IsValid/Partial/State, per spec §4.9 step 6.
func mergeOutcome(result *valcore.ValidationResult, outcome *chain.Outcome) {
	result.SkippedMiddleware = outcome.Skipped()
	result.FailedMiddleware = outcome.Failed()
	result.IsValid = !result.HasBlockingIssue()

	switch {
	case len(result.FailedMiddleware) > 0 && result.IsValid:
		result.Partial = true
		result.State = valcore.StateCompletedWithErrors
	case !result.IsValid:
		result.State = valcore.StateCompletedWithErrors
	case result.State == "":
		result.State = valcore.StateCompleted
	}
}

// publishTelemetry implements step 7: publish the latest resource snapshot
// and the completed request's performance stats, running threshold checks
// that may notify C10's subscribers.
func (p *Pipeline) publishTelemetry(result *valcore.ValidationResult) {
	if p.telemetry == nil {
		return
	}
	if p.sampler != nil {
		if snap, ok := p.sampler.Latest(); ok {
			p.telemetry.RecordResource(snap)
		}
	}
	bottlenecks := p.telemetry.EvaluatePerformance(result.Stats.Performance)
	if len(bottlenecks) > 0 {
		result.Stats.Performance.Bottlenecks = append(result.Stats.Performance.Bottlenecks, bottlenecks...)
	}
	stats := p.admission.Stats()
	p.telemetry.EvaluateQueueDepth(stats.Queued, stats.QueueCapacity)
}

// failedResult converts a tagged error into a failed Result, per spec §7's
// "Result with state=failed and an Issue explaining the cause."
func (p *Pipeline) failedResult(req *valcore.ValidationRequest, err error) *valcore.ValidationResult {
	code := "internal"
	if kind, ok := valcore.KindOf(err); ok {
		code = string(kind)
	}
	return &valcore.ValidationResult{
		ID:          req.RequestID,
		Language:    req.Language,
		State:       valcore.StateFailed,
		IsValid:     false,
		CompletedAt: time.Now(),
		Issues: []valcore.Issue{{
			Code:     code,
			Severity: valcore.SeverityError,
			Message:  err.Error(),
		}},
	}
}

// validateShape rejects requests that are malformed at the input boundary
// (missing the fields the rest of the pipeline assumes are present), per
// spec §7's "input-shape errors ... thrown as a failure to the caller."
func validateShape(req *valcore.ValidationRequest) error {
	if req == nil {
		return fmt.Errorf("validation request is nil")
	}
	if req.Language == "" {
		return fmt.Errorf("validation request missing language")
	}
	if req.Code == nil {
		return fmt.Errorf("validation request missing code")
	}
	return nil
}
