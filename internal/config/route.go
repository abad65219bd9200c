package config

import (
	"github.com/avapigw/core/internal/predicate"
)

// Route is one entry of the route store (§3 Route). Paths/Methods/Hosts/
// RemoteAddrs/Vars/FilterFun are consulted by the trie router (§4.1);
// Upstream is either embedded inline or resolved by name against the
// snapshot's Upstreams map.
type Route struct {
	Name string `yaml:"name" json:"name"`

	// Paths holds one or more URI patterns: exact ("/v1/widgets"), prefix
	// ("/v1/widgets/*"), or parameterized segments ("/v1/widgets/:id").
	Paths []string `yaml:"paths" json:"paths"`

	Methods     []string `yaml:"methods,omitempty" json:"methods,omitempty"`
	Hosts       []string `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	RemoteAddrs []string `yaml:"remote_addrs,omitempty" json:"remote_addrs,omitempty"`

	Vars []predicate.VarPredicate `yaml:"vars,omitempty" json:"vars,omitempty"`

	// Priority breaks ties among candidates sharing a trie slot; higher
	// wins (§4.1).
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// FilterFun is a CEL expression string compiled once per Route by the
	// router's predicate.FilterEngine; a compile failure skips only this
	// route (§7 PredicateError).
	FilterFun string `yaml:"filter_fun,omitempty" json:"filter_fun,omitempty"`

	// UpstreamRef names an entry in RouteSnapshot.Upstreams. Upstream,
	// when set instead, is an inline cluster definition private to this
	// route (§3: "either an embedded cluster definition or a reference").
	UpstreamRef string    `yaml:"upstream_ref,omitempty" json:"upstream_ref,omitempty"`
	Upstream    *Upstream `yaml:"upstream,omitempty" json:"upstream,omitempty"`
}

// ResolveUpstream returns the route's effective upstream: the inline
// definition if present, otherwise the named lookup in upstreams.
func (r *Route) ResolveUpstream(upstreams map[string]*Upstream) *Upstream {
	if r.Upstream != nil {
		return r.Upstream
	}
	if r.UpstreamRef == "" {
		return nil
	}
	return upstreams[r.UpstreamRef]
}

// RouteSnapshot is the immutable, versioned view of the route store
// published by Watcher (§2 item 2, §5): readers capture a reference at
// entry and use it for the duration of the request.
type RouteSnapshot struct {
	// Routes are the user-defined routes loaded from the routes document.
	Routes []*Route
	// PluginRoutes are routes contributed by the plugin layer's
	// APIRoutes(); inserted into the trie before Routes on every rebuild
	// (§4.1, §6).
	PluginRoutes []*Route
	// Upstreams indexes named clusters referenced via Route.UpstreamRef.
	Upstreams map[string]*Upstream
	// ConfVersion is bumped on every successful reload; the trie router
	// compares it to its cached build-version to decide whether to
	// rebuild (§4.1, §5).
	ConfVersion uint64
}

// AllRoutes returns plugin routes followed by user routes, the insertion
// order the trie build protocol requires (§4.1: "Plugin routes are
// inserted first").
func (s *RouteSnapshot) AllRoutes() []*Route {
	if s == nil {
		return nil
	}
	out := make([]*Route, 0, len(s.PluginRoutes)+len(s.Routes))
	out = append(out, s.PluginRoutes...)
	out = append(out, s.Routes...)
	return out
}
