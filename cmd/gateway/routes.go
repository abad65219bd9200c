package main

import (
	"sync"

	"github.com/avapigw/core/internal/balancer"
	"github.com/avapigw/core/internal/config"
	"github.com/avapigw/core/internal/healthcheck"
)

// routeTable holds the most recently published RouteSnapshot and turns it
// into the two views the rest of the process needs: the balancer's
// UpstreamConfig for a matched route (proxy.UpstreamResolver), and the
// full set of checker specs the health checker registry should be
// running (§2 items 2 and 4). Reloads replace the snapshot wholesale, so
// readers always see either the old or the new one, never a partial mix.
type routeTable struct {
	dial       config.DialDefaults
	hcDefaults config.HealthCheckDefaults

	mu   sync.RWMutex
	snap *config.RouteSnapshot
}

func newRouteTable(dial config.DialDefaults, hcDefaults config.HealthCheckDefaults) *routeTable {
	return &routeTable{dial: dial, hcDefaults: hcDefaults}
}

func (t *routeTable) set(snap *config.RouteSnapshot) {
	t.mu.Lock()
	t.snap = snap
	t.mu.Unlock()
}

// resolve implements proxy.UpstreamResolver.
func (t *routeTable) resolve(route *config.Route) (*balancer.UpstreamConfig, bool) {
	if route == nil {
		return nil, false
	}
	t.mu.RLock()
	snap := t.snap
	t.mu.RUnlock()
	if snap == nil {
		return nil, false
	}
	up := route.ResolveUpstream(snap.Upstreams)
	if up == nil {
		return nil, false
	}
	return up.ToUpstreamConfig(t.dial), true
}

// checkerSpecs builds the desired healthcheck.Registry state from every
// upstream in the current snapshot: the named cluster table plus any
// inline per-route upstream definitions, skipping clusters with no
// checks block (§3 invariant: "a checker exists for a cluster iff the
// cluster defines checks").
func (t *routeTable) checkerSpecs() map[string]healthcheck.CheckerSpec {
	t.mu.RLock()
	snap := t.snap
	t.mu.RUnlock()
	if snap == nil {
		return nil
	}

	specs := make(map[string]healthcheck.CheckerSpec)
	add := func(u *config.Upstream) {
		if u == nil {
			return
		}
		cfg, endpoints, ok := u.ToHealthCheckConfig(t.hcDefaults)
		if !ok {
			return
		}
		specs[u.Key()] = healthcheck.CheckerSpec{Config: cfg, Endpoints: endpoints}
	}

	for _, u := range snap.Upstreams {
		add(u)
	}
	for _, r := range snap.AllRoutes() {
		add(r.Upstream)
	}
	return specs
}
