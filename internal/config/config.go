package config

import (
	"fmt"
	"time"

	"github.com/avapigw/core/internal/util"
)

// Ambient defaults (§1 ambient stack; TLS termination, transport pooling,
// and request proxying are out of scope per §1 Non-goals).
const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second

	DefaultHealthCheckInterval           = 10 * time.Second
	DefaultHealthCheckTimeout             = 2 * time.Second
	DefaultHealthyThreshold                = 2
	DefaultUnhealthyThreshold              = 3
	DefaultMaxConcurrentProbes            = 8
	DefaultPassiveFailureStatusMin        = 500

	DefaultConnectTimeout = 2 * time.Second
	DefaultSendTimeout    = 5 * time.Second
	DefaultDialReadTimeout = 5 * time.Second

	DefaultPickerCacheTTL      = 300 * time.Second
	DefaultPickerCacheCapacity = 256
	DefaultCheckerCacheTTL      = 300 * time.Second
	DefaultCheckerCacheCapacity = 256
	DefaultAddressCacheTTL      = 300 * time.Second
	DefaultAddressCacheCapacity = 4096
)

// Config is the gateway's ambient, process-wide configuration: listener
// ports, logging/tracing/metrics, and the defaults applied to any
// upstream that does not override them. Routes and upstreams themselves
// live in the separately-watched RouteSnapshot document (§2 item 2).
type Config struct {
	Name string `yaml:"name" json:"name"`

	Listeners []Listener `yaml:"listeners" json:"listeners"`

	// RoutesPath points at the YAML document the Watcher loads into a
	// RouteSnapshot (§5, §6).
	RoutesPath string `yaml:"routesPath" json:"routesPath"`

	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	HealthCheckDefaults HealthCheckDefaults `yaml:"healthCheckDefaults,omitempty" json:"healthCheckDefaults,omitempty"`
	DialDefaults        DialDefaults        `yaml:"dialDefaults,omitempty" json:"dialDefaults,omitempty"`

	Discovery DiscoveryConfig `yaml:"discovery,omitempty" json:"discovery,omitempty"`
}

// HealthCheckDefaults seeds any upstream's checks block that omits a
// field (§3 Upstream.checks, §4.3).
type HealthCheckDefaults struct {
	Interval                Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout                 Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	HealthyThreshold        int      `yaml:"healthyThreshold,omitempty" json:"healthyThreshold,omitempty"`
	UnhealthyThreshold      int      `yaml:"unhealthyThreshold,omitempty" json:"unhealthyThreshold,omitempty"`
	MaxConcurrentProbes     int      `yaml:"maxConcurrentProbes,omitempty" json:"maxConcurrentProbes,omitempty"`
	PassiveFailureStatusMin int      `yaml:"passiveFailureStatusMin,omitempty" json:"passiveFailureStatusMin,omitempty"`
}

// DialDefaults seeds any upstream's timeout block that omits a field
// (§3 Upstream.timeout). Only Connect is consumed (by
// Upstream.ToUpstreamConfig); Send and Read are not applied.
type DialDefaults struct {
	Connect Duration `yaml:"connect,omitempty" json:"connect,omitempty"`
	Send    Duration `yaml:"send,omitempty" json:"send,omitempty"`
	Read    Duration `yaml:"read,omitempty" json:"read,omitempty"`
}

// DiscoveryConfig selects and configures the discovery.Oracle implementation
// the dispatcher resolves service_name upstreams through (§6).
type DiscoveryConfig struct {
	// Kind is "k8s" or "static"; empty is treated as "static" (an oracle
	// with nothing registered, so service_name routes fail to resolve).
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
	// Namespace is the default Kubernetes namespace for bare service names.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	// Port is the fallback port used when an EndpointSlice carries none.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// DefaultConfig returns a Config with every ambient default filled in.
func DefaultConfig() *Config {
	return &Config{
		Name:       "avapigw",
		RoutesPath: "routes.yaml",
		Listeners: []Listener{
			{Name: "http", Port: 8080, Protocol: "http"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
		HealthCheckDefaults: HealthCheckDefaults{
			Interval:                Duration(DefaultHealthCheckInterval),
			Timeout:                 Duration(DefaultHealthCheckTimeout),
			HealthyThreshold:        DefaultHealthyThreshold,
			UnhealthyThreshold:      DefaultUnhealthyThreshold,
			MaxConcurrentProbes:     DefaultMaxConcurrentProbes,
			PassiveFailureStatusMin: DefaultPassiveFailureStatusMin,
		},
		DialDefaults: DialDefaults{
			Connect: Duration(DefaultConnectTimeout),
			Send:    Duration(DefaultSendTimeout),
			Read:    Duration(DefaultDialReadTimeout),
		},
	}
}

// Validate checks the ambient configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return util.NewConfigError("name", "name is required")
	}
	if len(c.Listeners) == 0 {
		return util.NewConfigError("listeners", "at least one listener is required")
	}
	seen := make(map[string]bool, len(c.Listeners))
	for i, l := range c.Listeners {
		if l.Name == "" {
			return util.NewConfigError(fmt.Sprintf("listeners[%d].name", i), "name is required")
		}
		if seen[l.Name] {
			return util.NewConfigError(fmt.Sprintf("listeners[%d].name", i), "duplicate listener name "+l.Name)
		}
		seen[l.Name] = true
		if err := validatePort(l.Port); err != nil {
			return util.NewConfigErrorWithCause(fmt.Sprintf("listeners[%d].port", i), "invalid port", err)
		}
	}
	if c.RoutesPath == "" {
		return util.NewConfigError("routesPath", "routesPath is required")
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", port)
	}
	return nil
}
