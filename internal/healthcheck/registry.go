package healthcheck

import (
	"sync"

	"github.com/avapigw/core/internal/observability"
)

// Registry owns one Checker per upstream key ("upstream#"+name, §4.3
// Checker lifecycle), starting and stopping them as the route store
// reloads (§2 item 4, §5: a rebuild never leaves a stale Checker running
// for an upstream no longer in the snapshot).
type Registry struct {
	metrics *Metrics
	logger  observability.Logger

	mu       sync.RWMutex
	checkers map[string]*Checker
}

// NewRegistry creates an empty checker registry.
func NewRegistry(metrics *Metrics, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		metrics:  metrics,
		logger:   logger,
		checkers: make(map[string]*Checker),
	}
}

// Get returns the checker registered for key, or nil if the upstream has
// no checks configured (§3 invariant). Satisfies the
// balancer.NewDispatcher checkers func(string) *Checker parameter.
func (r *Registry) Get(key string) *Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkers[key]
}

// Reconcile starts a Checker for every (key, cfg, endpoints) entry not
// already registered, and stops+removes any registered checker whose key
// is absent from want — the set this reload's snapshot actually needs.
func (r *Registry) Reconcile(want map[string]CheckerSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.checkers {
		if _, ok := want[key]; !ok {
			r.checkers[key].Stop()
			delete(r.checkers, key)
			r.logger.Info("stopped health checker for removed upstream", observability.String("upstream", key))
		}
	}

	for key, spec := range want {
		if _, ok := r.checkers[key]; ok {
			continue
		}
		c := New(key, spec.Config, spec.Endpoints, r.metrics, r.logger)
		c.Start()
		r.checkers[key] = c
		r.logger.Info("started health checker", observability.String("upstream", key))
	}
}

// CheckerSpec is one upstream's desired checker configuration, computed
// by the caller from config.Upstream.ToHealthCheckConfig.
type CheckerSpec struct {
	Config    Config
	Endpoints []Endpoint
}

// Stop stops every managed checker, e.g. during process shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.checkers {
		c.Stop()
	}
	r.checkers = make(map[string]*Checker)
}
