// Package config loads and hot-reloads the gateway's route store: the
// ambient listener/logging/tracing/metrics settings the process starts
// with, and the routes/upstreams document the trie router and balancer
// dispatch against.
//
// # Ambient configuration
//
// Ports, timeouts, logging, tracing, and health-check/dial defaults are
// loaded once at startup from a YAML file:
//
//	cfg, err := config.LoadConfig("gateway.yaml")
//
// # Route store
//
// Routes and upstreams live in a separate YAML document, reloaded on
// every write via an fsnotify-driven Watcher and published as an
// immutable RouteSnapshot tagged with a monotonically increasing
// ConfVersion (§2 item 2, §5):
//
//	w, err := config.NewWatcher(routesPath, func(snap *config.RouteSnapshot) {
//	    router.Rebuild(snap)
//	})
//	w.Start(ctx)
package config
