package breaker

import (
	"log/slog"
	"sync"
)

// Manager is a keyed registry of Breakers, one per middleware or retry
// category name. Grounded on the teacher's
// internal/infrastructure/publishing.PublishingQueue.getCircuitBreaker:
// lazy-create under lock so callers never need to pre-register a name.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	logger   *slog.Logger
	mets     *Metrics
}

// NewManager constructs a Manager with a default Config applied to any name
// not given an explicit override via SetConfig.
func NewManager(cfg Config, logger *slog.Logger, mets *Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		logger:   logger,
		mets:     mets,
	}
}

// Get returns the Breaker for name, creating it with the Manager's default
// Config on first access.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, m.cfg, m.logger, m.mets)
	m.breakers[name] = b
	return b
}

// SetConfig installs a name-specific Config, replacing the breaker for that
// name (its prior counters are discarded — this is intended for
// configuration reload, not runtime tuning mid-traffic).
func (m *Manager) SetConfig(name string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[name] = newBreaker(name, cfg, m.logger, m.mets)
}

// IsOpen is a non-consuming status check: true only when the named breaker
// is fully open right now, without performing the resetTimeout-based
// open->half_open transition or consuming the half-open probe slot. Use it
// for reporting (e.g. CircuitState); production gating must use Allow
// instead, or the breaker would never self-heal.
func (m *Manager) IsOpen(name string) bool {
	return m.Get(name).State() == "open"
}

// Allow satisfies resilience.BreakerGate: reports whether a call against
// name may proceed right now, performing the breaker's open->half_open time
// check (and consuming the single half-open probe) as a side effect. This
// is the gate production call sites (chain.go, category_policy.go) must use.
func (m *Manager) Allow(name string) bool {
	return m.Get(name).Allow()
}

// Names returns every breaker name the manager has seen.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.breakers))
	for n := range m.breakers {
		names = append(names, n)
	}
	return names
}
