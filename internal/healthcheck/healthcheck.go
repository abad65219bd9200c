// Package healthcheck runs active probes and accounts passive reports to
// decide which endpoints of an upstream are eligible for dispatch (§4.3).
package healthcheck

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/avapigw/core/internal/observability"
)

// State is a position in the four-state health machine (§4.3). Smaller
// values are healthier; transitions move exactly one step at a time.
type State int

const (
	StateHealthy State = iota
	StateMostlyHealthy
	StateMostlyUnhealthy
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateMostlyHealthy:
		return "mostly_healthy"
	case StateMostlyUnhealthy:
		return "mostly_unhealthy"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ProbeType selects the active-probe protocol.
type ProbeType int

const (
	ProbeHTTP ProbeType = iota
	ProbeGRPC
)

// Endpoint identifies a single probe/report target. Hostname is the
// probe-time Host header or gRPC authority, distinct from Host which is
// the dial address.
type Endpoint struct {
	Host     string
	Port     int
	Hostname string
}

func (e Endpoint) key() string {
	return e.Host + ":" + strconv.Itoa(e.Port) + "|" + e.Hostname
}

// Addr returns the dial address for e.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Config configures one checker's active probing and passive accounting.
type Config struct {
	Type ProbeType
	// Path is the HTTP probe path, or the gRPC health service name
	// (empty checks overall server health).
	Path string
	Interval time.Duration
	Timeout  time.Duration
	// ExpectedStatuses is the set of HTTP statuses the active HTTP probe
	// treats as healthy. Defaults to 2xx/3xx when empty. Passive reports
	// do not consult it.
	ExpectedStatuses []int
	// PassiveFailureStatusMin is the first HTTP status ReportHTTPStatus
	// treats as a failure. Defaults to 500.
	PassiveFailureStatusMin int
	HealthyThreshold        int
	UnhealthyThreshold      int
	// MaxConcurrentProbes sizes the token bucket that paces probe starts:
	// up to this many start at once at each interval tick, then this many
	// per second. Probes already in flight are not counted.
	MaxConcurrentProbes int
	UseTLS              bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.HealthyThreshold <= 0 {
		c.HealthyThreshold = 2
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 3
	}
	if c.PassiveFailureStatusMin <= 0 {
		c.PassiveFailureStatusMin = 500
	}
	if c.MaxConcurrentProbes <= 0 {
		c.MaxConcurrentProbes = 8
	}
	return c
}

// Checker is one upstream's health checker: it owns active probing and
// serves both the active-probe results and the balancer's passive reports
// through the same state machine, backed by a region slab (§9).
type Checker struct {
	key     string
	cfg     Config
	metrics *Metrics
	logger  observability.Logger

	mu        sync.RWMutex
	endpoints []Endpoint

	region *region

	limiter    *rate.Limiter
	httpClient *http.Client

	grpcMu    sync.Mutex
	grpcConns map[string]*grpc.ClientConn

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Checker keyed "upstream#"+parentKey (§4.3) over endpoints.
// It does not start probing; call Start.
func New(key string, cfg Config, endpoints []Endpoint, metrics *Metrics, logger observability.Logger) *Checker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &Checker{
		key:       key,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		endpoints: append([]Endpoint(nil), endpoints...),
		region:    newRegion(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.MaxConcurrentProbes), cfg.MaxConcurrentProbes),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		grpcConns: make(map[string]*grpc.ClientConn),
		stopCh:    make(chan struct{}),
	}
	for _, ep := range endpoints {
		c.region.slotFor(ep.key())
	}
	return c
}

// Start launches the active-probe loop.
func (c *Checker) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop halts active probing and releases pooled gRPC connections. Safe to
// call once; Registry calls it when the checker's key leaves the snapshot
// (Reconcile) and at shutdown (Stop).
func (c *Checker) Stop() {
	close(c.stopCh)
	c.wg.Wait()

	c.grpcMu.Lock()
	for _, conn := range c.grpcConns {
		_ = conn.Close()
	}
	c.grpcMu.Unlock()
}

func (c *Checker) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.probeAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) probeAll() {
	c.mu.RLock()
	endpoints := append([]Endpoint(nil), c.endpoints...)
	c.mu.RUnlock()

	ctx := context.Background()
	for _, ep := range endpoints {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		c.wg.Add(1)
		go func(ep Endpoint) {
			defer c.wg.Done()
			c.probeOne(ep)
		}(ep)
	}
}

func (c *Checker) probeOne(ep Endpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	var healthy bool
	switch c.cfg.Type {
	case ProbeGRPC:
		healthy = c.probeGRPC(ctx, ep)
	default:
		healthy = c.probeHTTP(ctx, ep)
	}

	c.recordResult(ep, healthy)
}

func (c *Checker) probeHTTP(ctx context.Context, ep Endpoint) bool {
	scheme := "http"
	if c.cfg.UseTLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, ep.Addr(), c.cfg.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if ep.Hostname != "" {
		req.Host = ep.Hostname
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return isExpectedStatus(resp.StatusCode, c.cfg.ExpectedStatuses)
}

func (c *Checker) probeGRPC(ctx context.Context, ep Endpoint) bool {
	conn, err := c.grpcConn(ep)
	if err != nil {
		return false
	}

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: c.cfg.Path})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (c *Checker) grpcConn(ep Endpoint) (*grpc.ClientConn, error) {
	c.grpcMu.Lock()
	defer c.grpcMu.Unlock()

	if conn, ok := c.grpcConns[ep.Addr()]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(ep.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.grpcConns[ep.Addr()] = conn
	return conn, nil
}

func isExpectedStatus(status int, expected []int) bool {
	if len(expected) == 0 {
		return status >= 200 && status < 400
	}
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}

// recordResult advances the four-state machine for ep by at most one step
// (§4.3) and bumps status_ver on any transition.
func (c *Checker) recordResult(ep Endpoint, success bool) {
	s := c.region.slotFor(ep.key())
	c.registerEndpoint(ep)

	newState, changed := s.record(success, int32(c.cfg.HealthyThreshold), int32(c.cfg.UnhealthyThreshold))
	if !changed {
		return
	}

	c.region.bumpVersion()
	if c.metrics != nil {
		c.metrics.SetEndpointState(c.key, ep.Addr(), int(newState))
		c.metrics.SetEndpointHealth(c.key, ep.Addr(), newState <= StateMostlyHealthy)
	}
	c.logger.Info("endpoint health transition",
		observability.String("checker", c.key),
		observability.String("endpoint", ep.Addr()),
		observability.String("state", newState.String()),
	)
}

// registerEndpoint adds ep to the endpoint list the first time it is seen
// through a passive report, so active probing picks it up on the next
// tick (§4.3).
func (c *Checker) registerEndpoint(ep Endpoint) {
	c.mu.RLock()
	for _, known := range c.endpoints {
		if known.key() == ep.key() {
			c.mu.RUnlock()
			return
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, known := range c.endpoints {
		if known.key() == ep.key() {
			return
		}
	}
	c.endpoints = append(c.endpoints, ep)
}

// GetTargetStatus returns true iff the endpoint is healthy or
// mostly_healthy (§4.3).
func (c *Checker) GetTargetStatus(ep Endpoint) bool {
	return c.region.slotFor(ep.key()).currentState() <= StateMostlyHealthy
}

// StatusVer returns the monotonically increasing transition counter used
// to invalidate the picker cache (§4.2 step 6, §4.5).
func (c *Checker) StatusVer() uint64 {
	return c.region.currentVersion()
}

// HealthySubset returns the endpoints of all currently reporting healthy.
// If that subset is empty, the full list is returned unchanged — losing a
// request to an outage is worse than trying a probably-bad node (§4.3).
func (c *Checker) HealthySubset(all []Endpoint) []Endpoint {
	subset := make([]Endpoint, 0, len(all))
	for _, ep := range all {
		if c.GetTargetStatus(ep) {
			subset = append(subset, ep)
		}
	}
	if len(subset) == 0 {
		c.logger.Warn("healthy subset empty, falling back to full endpoint list",
			observability.String("checker", c.key))
		return all
	}
	return subset
}

// ReportTimeout records a passive timeout observed by the balancer on its
// previous attempt (§4.3).
func (c *Checker) ReportTimeout(host string, port int, hostname string) {
	c.recordResult(Endpoint{Host: host, Port: port, Hostname: hostname}, false)
}

// ReportTCPFailure records a passive TCP-level failure.
func (c *Checker) ReportTCPFailure(host string, port int, hostname string) {
	c.recordResult(Endpoint{Host: host, Port: port, Hostname: hostname}, false)
}

// ReportHTTPStatus records a passive HTTP outcome, classifying status
// against PassiveFailureStatusMin.
func (c *Checker) ReportHTTPStatus(host string, port int, hostname string, status int) {
	success := status < c.cfg.PassiveFailureStatusMin
	c.recordResult(Endpoint{Host: host, Port: port, Hostname: hostname}, success)
}

