// Package registry implements the Validator Registry (C8): a thread-safe
// language->ValidatorEntry map with dependency-graph cycle detection,
// optional filesystem-driven hot discovery, and periodic health checks.
//
// Grounded on internal/infrastructure/publishing/registry.go's
// DefaultFormatRegistry (RWMutex-guarded map, reference-style Get,
// sorted List) generalized from a flat format->function map to a
// dependency-aware validator registry.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/arborvale/valicore/pkg/valcore"
)

// Registry is the C8 Validator Registry.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]valcore.Validator
	entries    map[string]valcore.ValidatorEntry
	logger     *slog.Logger
}

// New constructs an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		validators: make(map[string]valcore.Validator),
		entries:    make(map[string]valcore.ValidatorEntry),
		logger:     logger,
	}
}

// Register adds v under languageId with the given metadata. Registration is
// atomic and idempotent-by-id: a duplicate id fails with *DuplicateError.
// Non-optional dependencies must already be registered, otherwise the attempt
// fails with *MissingDependencyError; if registering would introduce a cycle,
// the attempt fails with *CycleError.
func (r *Registry) Register(languageID string, v valcore.Validator, meta valcore.ValidatorMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[languageID]; exists {
		return &DuplicateError{Language: languageID}
	}

	for _, dep := range meta.Dependencies {
		if _, ok := r.validators[dep.Language]; !ok && !dep.Optional {
			return &MissingDependencyError{Language: languageID, Dependency: dep.Language}
		}
	}

	candidate := make(map[string]valcore.ValidatorMetadata, len(r.entries)+1)
	for lang, entry := range r.entries {
		candidate[lang] = entry.Metadata
	}
	candidate[languageID] = meta

	if cycle := detectCycle(candidate, languageID); cycle != nil {
		return &CycleError{Language: languageID, Cycle: cycle}
	}

	r.validators[languageID] = v
	r.entries[languageID] = valcore.ValidatorEntry{
		Language:     languageID,
		Capabilities: v.Capabilities(),
		Metadata:     meta,
	}
	r.logger.Info("validator registered", "language", languageID, "version", meta.Version)
	return nil
}

// Unregister removes languageId. Other entries that list it as a
// non-optional dependency are left registered but will fail re-registration
// elsewhere if re-validated; the registry does not cascade-unregister.
func (r *Registry) Unregister(languageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validators[languageID]; !exists {
		return &NotFoundError{Language: languageID}
	}
	delete(r.validators, languageID)
	delete(r.entries, languageID)
	r.logger.Info("validator unregistered", "language", languageID)
	return nil
}

// Get returns the validator registered for languageId.
func (r *Registry) Get(languageID string) (valcore.Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[languageID]
	if !ok {
		return nil, &NotFoundError{Language: languageID}
	}
	return v, nil
}

// Metadata returns the ValidatorEntry registered for languageId.
func (r *Registry) Metadata(languageID string) (valcore.ValidatorEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[languageID]
	if !ok {
		return valcore.ValidatorEntry{}, &NotFoundError{Language: languageID}
	}
	return e, nil
}

// List returns all registered language ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.validators))
	for lang := range r.validators {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// updateHealth records the outcome of a health check for languageId; used by
// the health checker in health.go.
func (r *Registry) updateHealth(languageID string, h valcore.Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[languageID]
	if !ok {
		return
	}
	e.Health = h
	r.entries[languageID] = e
}

// snapshotValidators returns a shallow copy of the language->validator map,
// used by the health checker so it never holds the registry lock while
// calling into a validator.
func (r *Registry) snapshotValidators() map[string]valcore.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]valcore.Validator, len(r.validators))
	for k, v := range r.validators {
		out[k] = v
	}
	return out
}

// detectCycle runs DFS over candidate's dependency edges starting from
// start, returning the cycle (as a slice of language ids) if one reaches
// back to a node already on the current path, or nil if the graph is
// acyclic from start's perspective.
func detectCycle(graph map[string]valcore.ValidatorMetadata, start string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(graph))
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		color[node] = gray
		path = append(path, node)

		meta, ok := graph[node]
		if ok {
			for _, dep := range meta.Dependencies {
				if _, known := graph[dep.Language]; !known {
					continue // unregistered optional dependency, not part of the graph
				}
				switch color[dep.Language] {
				case white:
					if cyc := visit(dep.Language); cyc != nil {
						return cyc
					}
				case gray:
					// Found a back-edge: extract the cycle from path.
					cycleStart := 0
					for i, n := range path {
						if n == dep.Language {
							cycleStart = i
							break
						}
					}
					cyc := append([]string{}, path[cycleStart:]...)
					return append(cyc, dep.Language)
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return nil
	}

	return visit(start)
}

// HealthCheck exposes a synchronous health check for one validator, used
// both by the periodic checker and on demand (e.g. an operator endpoint).
func (r *Registry) HealthCheck(ctx context.Context, languageID string, check func(ctx context.Context, v valcore.Validator) valcore.Health) error {
	v, err := r.Get(languageID)
	if err != nil {
		return err
	}
	r.updateHealth(languageID, check(ctx, v))
	return nil
}
