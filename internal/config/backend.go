package config

import (
	"fmt"

	"github.com/avapigw/core/internal/balancer"
	"github.com/avapigw/core/internal/healthcheck"
)

// Upstream is a named cluster of backend endpoints plus its balancing,
// timeout, retry, and health-check policy (§3 Upstream).
type Upstream struct {
	Name string `yaml:"name" json:"name"`

	// Type selects the picker algorithm: roundrobin, chash, or ewma.
	// Empty defaults to roundrobin (balancer.New).
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	ChashKey string `yaml:"chash_key,omitempty" json:"chash_key,omitempty"`

	Nodes []UpstreamNode `yaml:"nodes,omitempty" json:"nodes,omitempty"`

	// ServiceName, when set, resolves Nodes through the discovery oracle
	// at dispatch time instead of using the static list (§3).
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`

	Checks *HealthChecks `yaml:"checks,omitempty" json:"checks,omitempty"`

	Timeout *UpstreamTimeout `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retries is the retry budget; nil defaults to len(nodes)-1, 0
	// disables retries outright (§4.2 step 5).
	Retries *int `yaml:"retries,omitempty" json:"retries,omitempty"`

	// Parent back-references the owning route or standalone cluster
	// config. It is parsed but not read: checkers of upstreams that leave
	// the snapshot are stopped by healthcheck.Registry.Reconcile.
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`
}

// UpstreamNode is one static backend endpoint.
type UpstreamNode struct {
	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port"`
	Weight   int               `yaml:"weight,omitempty" json:"weight,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// UpstreamTimeout holds the three dial-phase timeouts configured for this
// upstream (§3). Only Connect is applied: ToUpstreamConfig passes it to
// the dispatcher as the socket timeout; Send and Read are parsed but not
// applied.
type UpstreamTimeout struct {
	Connect Duration `yaml:"connect,omitempty" json:"connect,omitempty"`
	Send    Duration `yaml:"send,omitempty" json:"send,omitempty"`
	Read    Duration `yaml:"read,omitempty" json:"read,omitempty"`
}

// HealthChecks configures the active probe and passive-report thresholds
// for one upstream's checker (§3, §4.3). A nil Checks means the upstream
// has no checker and all endpoints are always eligible.
type HealthChecks struct {
	// UseGRPC selects the gRPC health protocol over the default HTTP GET
	// probe (§3).
	UseGRPC bool `yaml:"use_grpc,omitempty" json:"use_grpc,omitempty"`
	// Path is the HTTP probe path, or the gRPC health service name when
	// UseGRPC is set (empty checks overall server health).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Host/Port override the probe target per endpoint; empty/zero probes
	// the node's own address.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`

	Interval Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	ExpectedStatuses        []int `yaml:"expected_statuses,omitempty" json:"expected_statuses,omitempty"`
	PassiveFailureStatusMin int   `yaml:"passive_failure_status_min,omitempty" json:"passive_failure_status_min,omitempty"`
	HealthyThreshold        int   `yaml:"healthy_threshold,omitempty" json:"healthy_threshold,omitempty"`
	UnhealthyThreshold      int   `yaml:"unhealthy_threshold,omitempty" json:"unhealthy_threshold,omitempty"`
	MaxConcurrentProbes     int   `yaml:"max_concurrent_probes,omitempty" json:"max_concurrent_probes,omitempty"`
	UseTLS                  bool  `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`
}

// Key returns the cache/metrics key a checker for this upstream is
// registered under: "upstream#"+name (§4.3 Checker lifecycle).
func (u *Upstream) Key() string {
	return "upstream#" + u.Name
}

// ToUpstreamConfig converts u into the balancer's dispatch-time view. Its
// SocketTimeout is u.Timeout.Connect, or dial.Connect when that is unset;
// the Send and Read timeouts are not carried over.
func (u *Upstream) ToUpstreamConfig(dial DialDefaults) *balancer.UpstreamConfig {
	nodes := make([]balancer.Node, 0, len(u.Nodes))
	for _, n := range u.Nodes {
		weight := n.Weight
		if weight <= 0 {
			weight = 1
		}
		nodes = append(nodes, balancer.Node{Addr: fmt.Sprintf("%s:%d", n.Host, n.Port), Weight: weight})
	}

	connect := dial.Connect.Duration()
	if u.Timeout != nil && u.Timeout.Connect != 0 {
		connect = u.Timeout.Connect.Duration()
	}

	return &balancer.UpstreamConfig{
		Key:           u.Key(),
		ServiceName:   u.ServiceName,
		Nodes:         nodes,
		Algorithm:     u.Type,
		ChashKey:      u.ChashKey,
		Retries:       u.Retries,
		SocketTimeout: connect,
	}
}

// ToHealthCheckConfig converts u.Checks into a healthcheck.Config plus the
// endpoint set to probe, applying cfg defaults for unset fields. ok is
// false when u has no checks block (§3 invariant: "a checker exists for a
// cluster iff the cluster defines checks").
func (u *Upstream) ToHealthCheckConfig(defaults HealthCheckDefaults) (cfg healthcheck.Config, endpoints []healthcheck.Endpoint, ok bool) {
	if u.Checks == nil {
		return healthcheck.Config{}, nil, false
	}
	c := u.Checks

	probeType := healthcheck.ProbeHTTP
	if c.UseGRPC {
		probeType = healthcheck.ProbeGRPC
	}

	interval := c.Interval.Duration()
	if interval == 0 {
		interval = defaults.Interval.Duration()
	}
	timeout := c.Timeout.Duration()
	if timeout == 0 {
		timeout = defaults.Timeout.Duration()
	}
	healthyThreshold := c.HealthyThreshold
	if healthyThreshold == 0 {
		healthyThreshold = defaults.HealthyThreshold
	}
	unhealthyThreshold := c.UnhealthyThreshold
	if unhealthyThreshold == 0 {
		unhealthyThreshold = defaults.UnhealthyThreshold
	}
	maxConcurrent := c.MaxConcurrentProbes
	if maxConcurrent == 0 {
		maxConcurrent = defaults.MaxConcurrentProbes
	}
	passiveMin := c.PassiveFailureStatusMin
	if passiveMin == 0 {
		passiveMin = defaults.PassiveFailureStatusMin
	}

	cfg = healthcheck.Config{
		Type:                    probeType,
		Path:                    c.Path,
		Interval:                interval,
		Timeout:                 timeout,
		ExpectedStatuses:        c.ExpectedStatuses,
		PassiveFailureStatusMin: passiveMin,
		HealthyThreshold:        healthyThreshold,
		UnhealthyThreshold:      unhealthyThreshold,
		MaxConcurrentProbes:     maxConcurrent,
		UseTLS:                  c.UseTLS,
	}

	endpoints = make([]healthcheck.Endpoint, 0, len(u.Nodes))
	for _, n := range u.Nodes {
		host, port := n.Host, n.Port
		if c.Host != "" {
			host = c.Host
		}
		if c.Port != 0 {
			port = c.Port
		}
		endpoints = append(endpoints, healthcheck.Endpoint{Host: host, Port: port})
	}
	return cfg, endpoints, true
}
