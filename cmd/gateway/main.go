// Package main is the entry point for the gateway's dispatch core:
// it loads ambient configuration, wires the route store, trie router,
// balancer dispatcher, health checker registry, and discovery oracle
// together, and serves HTTP on every configured listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avapigw/core/internal/balancer"
	"github.com/avapigw/core/internal/config"
	"github.com/avapigw/core/internal/healthcheck"
	"github.com/avapigw/core/internal/observability"
	"github.com/avapigw/core/internal/predicate"
	"github.com/avapigw/core/internal/proxy"
	"github.com/avapigw/core/internal/router"
)

// Version information, set at build time via -ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	runGateway(app, cfg.RoutesPath)
}

func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to the ambient configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printVersion() {
	fmt.Printf("avapigw-core version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	observability.SetGlobalLogger(logger)
	return logger
}

func loadAndValidateConfig(path string, logger observability.Logger) *config.Config {
	logger.Info("starting avapigw-core",
		observability.String("version", version), observability.String("config", path))

	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Name),
		observability.Int("listeners", len(cfg.Listeners)),
		observability.String("routes_path", cfg.RoutesPath),
		observability.String("discovery", cfg.Discovery.Kind),
	)
	return cfg
}

// application holds every wired component so shutdown can reach each of
// them in the right order (§5: the watcher and every checker must stop
// before the process exits).
type application struct {
	cfg     *config.Config
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	routes     *routeTable
	router     *router.Router
	dispatcher *balancer.Dispatcher
	checkers   *healthcheck.Registry

	servers    []*http.Server
	metricsSrv *http.Server
	watcher    *config.Watcher
}

// initApplication wires config -> router -> balancer -> healthcheck ->
// discovery together (§2): a trie router built from the route store,
// a balancer dispatcher resolving service_name upstreams through a
// discovery oracle and consulting the checker registry's health view,
// and a reverse proxy fronting both.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	metrics := observability.NewMetrics(cfg.Name)
	tracer := initTracer(cfg, logger)

	filters, err := predicate.NewFilterEngine()
	if err != nil {
		logger.Fatal("failed to initialize predicate engine", observability.Error(err))
	}

	oracle := initDiscovery(cfg, logger)

	routerMetrics := router.NewMetrics(metrics.Registry(), cfg.Name)
	balancerMetrics := balancer.NewMetrics(metrics.Registry(), cfg.Name)
	healthMetrics := healthcheck.NewMetrics(metrics.Registry(), cfg.Name)

	checkers := healthcheck.NewRegistry(healthMetrics, logger)
	rt := router.New(filters, nil, routerMetrics, logger)
	dispatcher := balancer.NewDispatcher(oracle, checkers.Get, balancerMetrics, logger)

	table := newRouteTable(cfg.DialDefaults, cfg.HealthCheckDefaults)
	reverseProxy := proxy.NewReverseProxy(rt, dispatcher, table.resolve, logger)
	handler := buildMiddlewareChain(reverseProxy, logger, tracer)

	return &application{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		routes:     table,
		router:     rt,
		dispatcher: dispatcher,
		checkers:   checkers,
		servers:    buildServers(cfg, handler),
	}
}

func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracerCfg := observability.TracerConfig{
		ServiceName:  cfg.Name,
		Enabled:      cfg.Tracing.Enabled,
		SamplingRate: cfg.Tracing.SamplingRate,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}
	if cfg.Tracing.ServiceName != "" {
		tracerCfg.ServiceName = cfg.Tracing.ServiceName
	}

	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}
	return tracer
}

func buildServers(cfg *config.Config, handler http.Handler) []*http.Server {
	servers := make([]*http.Server, 0, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		addr := fmt.Sprintf("%s:%d", l.Bind, l.Port)
		servers = append(servers, &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       l.Timeouts.GetEffectiveReadTimeout(),
			ReadHeaderTimeout: l.Timeouts.GetEffectiveReadHeaderTimeout(),
			WriteTimeout:      l.Timeouts.GetEffectiveWriteTimeout(),
			IdleTimeout:       l.Timeouts.GetEffectiveIdleTimeout(),
		})
	}
	return servers
}

// runGateway starts every listener and the metrics/routes-watcher side
// channels, then blocks until a shutdown signal arrives.
func runGateway(app *application, routesPath string) {
	for _, srv := range app.servers {
		srv := srv
		go func() {
			app.logger.Info("listener starting", observability.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.Error("listener failed",
					observability.String("addr", srv.Addr), observability.Error(err))
			}
		}()
	}

	app.metricsSrv = startMetricsServerIfEnabled(app)
	app.watcher = startConfigWatcher(app, routesPath)

	waitForShutdown(app)
}

func startMetricsServerIfEnabled(app *application) *http.Server {
	if !app.cfg.Metrics.Enabled {
		return nil
	}

	path := app.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	port := app.cfg.Metrics.Port
	if port == 0 {
		port = 9090
	}

	mux := http.NewServeMux()
	mux.Handle(path, app.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if app.watcher == nil || app.watcher.Current() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		app.logger.Info("starting metrics server",
			observability.String("address", srv.Addr), observability.String("path", path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("metrics server error", observability.Error(err))
		}
	}()
	return srv
}

// startConfigWatcher wires the route store's reload callback into the
// trie router rebuild and the health checker registry's reconcile pass
// (§2 items 2-4, §5): both happen on every successful reload, in that
// order, so a checker never starts probing before a route can reach it.
func startConfigWatcher(app *application, routesPath string) *config.Watcher {
	watcher, err := config.NewWatcher(routesPath, func(snap *config.RouteSnapshot) {
		app.routes.set(snap)
		app.router.Rebuild(snap)
		app.checkers.Reconcile(app.routes.checkerSpecs())
	}, config.WithLogger(app.logger))
	if err != nil {
		app.logger.Fatal("failed to create routes watcher", observability.Error(err))
	}

	if err := watcher.Start(context.Background()); err != nil {
		app.logger.Fatal("failed to start routes watcher", observability.Error(err))
	}
	return watcher
}

func waitForShutdown(app *application) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	app.logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if app.watcher != nil {
		_ = app.watcher.Stop()
	}

	for _, srv := range app.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("listener shutdown failed",
				observability.String("addr", srv.Addr), observability.Error(err))
		}
	}
	if app.metricsSrv != nil {
		if err := app.metricsSrv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("metrics server shutdown failed", observability.Error(err))
		}
	}

	app.checkers.Stop()

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	app.logger.Info("gateway stopped")
}
