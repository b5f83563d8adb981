package breaker

import (
	"sync"

	"github.com/gomind-ai/agentcore/core"
)

// Registry is the process-wide collection of named breakers, exposing a
// get_or_create/reset_all/metrics surface.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   core.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Registry{breakers: make(map[string]*Breaker), logger: logger}
}

// GetOrCreate returns the breaker for name, creating it from cfg on first
// use. cfg is ignored once the breaker already exists.
func (r *Registry) GetOrCreate(name string, cfg Config) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg.Name = name
	b := New(cfg, r.logger)
	r.breakers[name] = b
	return b
}

// Get returns the breaker for name, if it has been created.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// ResetAll replaces every breaker with a fresh instance of the same
// configuration, returning it to CLOSED with an empty failure window — the
// reset_all_breakers admin operation. Existing *Breaker pointers held
// elsewhere become stale after this call, which is why callers should
// always fetch breakers through the registry rather than caching the
// pointer long-term.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, b := range r.breakers {
		r.breakers[name] = New(b.Config(), r.logger)
	}
	r.logger.Info("all circuit breakers reset", map[string]interface{}{"count": len(r.breakers)})
}

// Metrics returns every breaker's metrics snapshot, keyed by name.
func (r *Registry) Metrics() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Metrics()
	}
	return out
}
