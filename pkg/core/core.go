// Package core exposes the Validation Execution Core's public, embeddable
// API: the single facade spec.md §6 describes ("Validate,
// RegisterValidator, UnregisterValidator, ListValidators, AddMiddleware,
// RemoveMiddleware, CurrentMetrics, HistoricalMetrics, CircuitState,
// SubscribeAlerts"). It sits above internal/core/* and is what
// cmd/validationd and cmd/validatectl are built against, rather than either
// entrypoint wiring the subsystems directly.
//
// It cannot live in pkg/valcore itself: valcore defines the shared data
// model that every internal/core/* package imports, and this facade in turn
// imports those packages, so collapsing the two would create an import
// cycle. Keeping Core one level above valcore is the same separation the
// teacher draws between pkg/history's data types and its composing
// pkg/history.Service.
package core

import (
	"context"
	"time"

	"github.com/arborvale/valicore/internal/core/breaker"
	"github.com/arborvale/valicore/internal/core/chain"
	"github.com/arborvale/valicore/internal/core/pipeline"
	"github.com/arborvale/valicore/internal/core/registry"
	"github.com/arborvale/valicore/internal/core/telemetry"
	"github.com/arborvale/valicore/pkg/valcore"
)

// Core is the composed Validation Execution Core: a Pipeline Coordinator
// (C9) plus direct access to the registry (C8), middleware chain (C7),
// telemetry aggregator (C2/C10), and circuit breakers (C3) it coordinates,
// so callers can manage validators and middleware without reaching into
// internal packages.
type Core struct {
	pipeline  *pipeline.Pipeline
	registry  *registry.Registry
	chain     *chain.Chain
	telemetry *telemetry.Aggregator
	breakers  *breaker.Manager
}

// New assembles a Core from its already-constructed components.
func New(p *pipeline.Pipeline, r *registry.Registry, c *chain.Chain, t *telemetry.Aggregator, b *breaker.Manager) *Core {
	return &Core{pipeline: p, registry: r, chain: c, telemetry: t, breakers: b}
}

// Validate runs req through the pipeline's eight-step flow.
func (c *Core) Validate(ctx context.Context, req *valcore.ValidationRequest) (*valcore.ValidationResult, error) {
	return c.pipeline.Validate(ctx, req)
}

// RegisterValidator adds v to the registry under languageID.
func (c *Core) RegisterValidator(languageID string, v valcore.Validator, meta valcore.ValidatorMetadata) error {
	return c.registry.Register(languageID, v, meta)
}

// UnregisterValidator removes languageID from the registry.
func (c *Core) UnregisterValidator(languageID string) error {
	return c.registry.Unregister(languageID)
}

// ListValidators returns every currently registered language tag.
func (c *Core) ListValidators() []string {
	return c.registry.List()
}

// AddMiddleware registers a new middleware stage in the chain.
func (c *Core) AddMiddleware(stage chain.Stage) {
	c.chain.Add(stage)
}

// RemoveMiddleware unregisters the named middleware stage.
func (c *Core) RemoveMiddleware(name string) {
	c.chain.Remove(name)
}

// CurrentMetrics returns the aggregator's current summary snapshot.
func (c *Core) CurrentMetrics() telemetry.Summary {
	return c.telemetry.CurrentSummary()
}

// HistoricalMetrics returns resource snapshots within the trailing window.
func (c *Core) HistoricalMetrics(window time.Duration) []valcore.ResourceSnapshot {
	return c.telemetry.Historical(window)
}

// CircuitState reports the named circuit's current state. Breakers that
// have never recorded a call default to closed.
func (c *Core) CircuitState(name string) valcore.BreakerState {
	if c.breakers == nil {
		return valcore.BreakerClosed
	}
	return c.breakers.Get(name).State()
}

// SubscribeAlerts registers handler to receive every alert C10 emits.
func (c *Core) SubscribeAlerts(handler valcore.AlertHandler) {
	c.telemetry.SubscribeAlerts(handler)
}
