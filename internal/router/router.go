package router

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/avapigw/core/internal/config"
	"github.com/avapigw/core/internal/observability"
	"github.com/avapigw/core/internal/predicate"
	"github.com/avapigw/core/internal/reqctx"
	"github.com/avapigw/core/internal/util"
)

// Handler runs the action bound to a matched route (§3 "handler").
type Handler func(ctx *reqctx.Context, route *config.Route)

// DispatchOptions carries the request attributes the trie filters on
// besides the URI path itself (§4.1).
type DispatchOptions struct {
	Method     string
	Host       string
	RemoteAddr string
}

// Router dispatches requests against a radix trie built from the most
// recently published RouteSnapshot, rebuilding only when conf_version
// advances (§2 item 3, §4.1, §5).
type Router struct {
	// DefaultHandler runs when no candidate route matches.
	DefaultHandler Handler

	filters *predicate.FilterEngine
	metrics *Metrics
	logger  observability.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	buildMu      sync.Mutex
	buildVersion uint64
	root         atomic.Pointer[trieNode]
}

// New creates a Router. filters may be nil, in which case filter_fun is
// never evaluated and a filter_fun-bearing route always matches.
func New(filters *predicate.FilterEngine, defaultHandler Handler, metrics *Metrics, logger observability.Logger) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	rt := &Router{
		DefaultHandler: defaultHandler,
		filters:        filters,
		metrics:        metrics,
		logger:         logger,
		handlers:       make(map[string]Handler),
	}
	rt.root.Store(newTrieNode())
	return rt
}

// RegisterHandler binds a handler to a specific route name, overriding
// DefaultHandler for that route (§6 plugin layer).
func (rt *Router) RegisterHandler(routeName string, h Handler) {
	rt.handlersMu.Lock()
	rt.handlers[routeName] = h
	rt.handlersMu.Unlock()
}

func (rt *Router) handlerFor(routeName string) Handler {
	rt.handlersMu.RLock()
	h, ok := rt.handlers[routeName]
	rt.handlersMu.RUnlock()
	if ok {
		return h
	}
	return rt.DefaultHandler
}

// Rebuild installs a fresh trie built from snap, but only if snap carries
// a conf_version newer than the one currently installed (§2 item 3, §5).
// The mutex serializes concurrent rebuilds; it is never held while a
// reader walks the trie, so Dispatch never blocks on a rebuild.
func (rt *Router) Rebuild(snap *config.RouteSnapshot) {
	if snap == nil {
		return
	}

	rt.buildMu.Lock()
	defer rt.buildMu.Unlock()

	if snap.ConfVersion != 0 && snap.ConfVersion <= rt.buildVersion {
		return
	}

	root := buildTrie(snap.AllRoutes(), rt.filters, rt.logger)
	rt.root.Store(root)
	rt.buildVersion = snap.ConfVersion

	rt.metrics.RecordRebuild()
	rt.metrics.SetConfVersion(snap.ConfVersion)
	rt.logger.Info("router trie rebuilt", observability.Int64("conf_version", int64(snap.ConfVersion)))
}

// Match walks the trie for uri and returns the first candidate, in
// priority order, whose method, host, remote_addr, vars, and filter_fun
// all match (§4.1). It performs no handler lookup or invocation and touches
// no shared mutable state beyond the atomically-loaded trie root, so it is
// safe to call concurrently from many goroutines — this is what lets
// callers resolve a route for a request (e.g. to pick an upstream) without
// the handler-registration machinery Dispatch uses for the plugin layer.
func (rt *Router) Match(uri string, opts DispatchOptions, ctx *reqctx.Context) (*config.Route, bool, error) {
	root := rt.root.Load()

	var candidates []*config.Route
	root.collect(splitPath(uri), &candidates)

	// collect concatenates per-node route sets in traversal order (literal
	// path, then any wildcard hit along it, then the terminal node's own
	// set); each is individually priority-sorted but the merge is not, so
	// re-sort the merged candidate list before picking the first match.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	for _, route := range candidates {
		ok, err := rt.matches(route, opts, ctx)
		if err != nil {
			rt.logger.Warn("route predicate evaluation failed",
				observability.String("route", route.Name), observability.Error(err))
			continue
		}
		if ok {
			return route, true, nil
		}
	}

	return nil, false, nil
}

// Dispatch resolves uri via Match and runs the matched route's handler, or
// DefaultHandler if nothing matches (§4.1). It returns true iff a handler
// ran. Route actions and plugins go through Dispatch; callers that only
// need the matched route (e.g. a reverse proxy picking an upstream) should
// call Match directly instead.
func (rt *Router) Dispatch(uri string, opts DispatchOptions, ctx *reqctx.Context) (bool, error) {
	route, ok, err := rt.Match(uri, opts, ctx)
	if err != nil {
		return false, err
	}

	if ok {
		handler := rt.handlerFor(route.Name)
		if handler != nil {
			handler(ctx, route)
			rt.metrics.RecordDispatch(route.Name, "matched")
			return true, nil
		}
	}

	rt.metrics.RecordDispatch("", "unmatched")
	if rt.DefaultHandler != nil {
		rt.DefaultHandler(ctx, nil)
		return true, nil
	}
	return false, util.NewRouteNotFoundError(opts.Method, uri)
}

// matches applies every optional route filter in sequence, short-circuiting
// on the first that fails (§4.1).
func (rt *Router) matches(route *config.Route, opts DispatchOptions, ctx *reqctx.Context) (bool, error) {
	if len(route.Methods) > 0 && !methodMatches(route.Methods, opts.Method) {
		return false, nil
	}
	if len(route.Hosts) > 0 && !hostMatches(route.Hosts, opts.Host) {
		return false, nil
	}
	if len(route.RemoteAddrs) > 0 && !remoteAddrMatches(route.RemoteAddrs, opts.RemoteAddr) {
		return false, nil
	}

	if len(route.Vars) > 0 {
		ok, err := predicate.EvalAll(ctx, route.Vars)
		if err != nil {
			return false, util.NewPredicateError(route.Name, "vars", err)
		}
		if !ok {
			return false, nil
		}
	}

	if route.FilterFun != "" {
		if rt.filters == nil {
			return false, nil
		}
		ok, err := rt.filters.Eval(route.Name, ctx)
		if err != nil {
			return false, util.NewPredicateError(route.Name, route.FilterFun, err)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}
