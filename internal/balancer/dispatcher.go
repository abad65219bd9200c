package balancer

import (
	"context"
	"fmt"
	"time"

	"github.com/avapigw/core/internal/discovery"
	"github.com/avapigw/core/internal/healthcheck"
	"github.com/avapigw/core/internal/observability"
	"github.com/avapigw/core/internal/reqctx"
	"github.com/avapigw/core/internal/ttlcache"
	"github.com/avapigw/core/internal/util"
)

// Outcome labels a completed attempt for passive health reporting,
// mirroring reqctx.Context.PreviousOutcome (§4.2 step 4, §4.3).
const (
	OutcomeNone       = ""
	OutcomeTimeout    = "timeout"
	OutcomeTCPFailure = "tcp_failure"
	OutcomeHTTPStatus = "http_status"
)

// UpstreamConfig is the dispatcher's view of one route's upstream cluster:
// either a fixed node list or a service_name resolved through discovery,
// plus the picker algorithm and retry/timeout policy applied to it.
type UpstreamConfig struct {
	// Key identifies the cluster for cache keying and metrics (§3).
	Key string
	// ServiceName, when set, is resolved through the Dispatcher's
	// discovery.Oracle on every Run call. Nodes is used instead when
	// ServiceName is empty.
	ServiceName string
	Nodes       []Node

	Algorithm string
	ChashKey  string

	// Retries is the retry budget handed to the transport on the first
	// attempt. A nil value defaults to len(nodes)-1; zero disables retries
	// outright (§4.2 step 5).
	Retries       *int
	SocketTimeout time.Duration
}

// cachedPicker is the picker cache's value: one built Picker.
type cachedPicker struct {
	picker Picker
}

// Dispatcher implements the Run contract (§4.2): resolve endpoints, apply
// per-cluster timeouts and retry budget, pick one endpoint via a
// version-cached picker built over the checker's healthy subset, resolve
// its address via a version-cached lookup, and hand off to the transport.
type Dispatcher struct {
	Discovery     discovery.Oracle
	PickerCache   *ttlcache.Cache[*cachedPicker]
	AddressCache  *ttlcache.Cache[reqctx.Endpoint]
	Checkers      func(key string) *healthcheck.Checker
	Logger        observability.Logger
	Metrics       *Metrics
}

// NewDispatcher wires a Dispatcher's two caches with the TTLs and
// capacities from §4.5: picker cache (300s/256), address cache
// (300s/4096). There is no checker cache here: Checkers lives in whatever
// component owns Checker lifetimes and looks one up by upstream key.
func NewDispatcher(oracle discovery.Oracle, checkers func(key string) *healthcheck.Checker, metrics *Metrics, logger observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Dispatcher{
		Discovery:    oracle,
		PickerCache:  ttlcache.New[*cachedPicker]("balancer_picker", 256, 300*time.Second, nil),
		AddressCache: ttlcache.New[reqctx.Endpoint]("balancer_address", 4096, 300*time.Second, nil),
		Checkers:     checkers,
		Logger:       logger,
		Metrics:      metrics,
	}
}

// Run executes one attempt of the dispatch contract against route for the
// request carried in rc, handing off the resolved endpoint to transport.
// Run does not retry; the transport re-invokes Run for each attempt.
func (d *Dispatcher) Run(ctx context.Context, route *UpstreamConfig, rc *reqctx.Context, transport Transport) error {
	start := time.Now()

	// Step 1: resolve endpoints.
	nodes, err := d.resolveNodes(ctx, route)
	if err != nil {
		d.recordOutcome(route, "resolve_error", start)
		return err
	}

	// Step 2: per-cluster socket timeout.
	if route.SocketTimeout > 0 {
		transport.SetSocketTimeout(route.SocketTimeout)
	}

	checker := d.Checkers(route.Key)

	// Step 3: fast path, single endpoint — skip the picker entirely.
	if len(nodes) == 1 {
		d.bumpTryCount(rc, checker, route)
		host, port, err := splitHostPort(nodes[0].Addr)
		if err != nil {
			d.recordOutcome(route, "address_error", start)
			return err
		}
		d.setPicked(rc, checker, host, port, nil)
		err = transport.Dispatch(rc, host, port)
		d.recordOutcome(route, outcomeLabel(err), start)
		return err
	}

	// Step 4: bump try count, report the previous attempt's outcome.
	firstAttempt := rc.BalancerTryCount == 0
	d.bumpTryCount(rc, checker, route)

	// Step 5: on the first attempt only, configure the retry budget.
	if firstAttempt {
		d.configureRetries(transport, route, len(nodes))
	}

	// Step 6: picker-cache lookup keyed by route.Key, versioned by the node
	// set (so a reload or a discovery change rebuilds the picker) and, when
	// a checker exists, its status_ver.
	version := fmt.Sprintf("%s#%v", route.Key, nodes)
	if checker != nil {
		version = fmt.Sprintf("%s#%d", version, checker.StatusVer())
	}
	rc.UpstreamKey = route.Key
	rc.UpstreamVersion = version
	cp, err := d.PickerCache.Lookup(ctx, route.Key, version, func() (*cachedPicker, error) {
		candidates := nodes
		if checker != nil {
			candidates = healthySubset(checker, nodes)
		}
		p, err := New(route.Algorithm, candidates, UpstreamOptions{ChashKey: route.ChashKey})
		if err != nil {
			return nil, err
		}
		return &cachedPicker{picker: p}, nil
	})
	if err != nil {
		d.recordOutcome(route, "picker_build_error", start)
		return err
	}

	// Step 7: pick an endpoint.
	addr, err := cp.picker.Get(rc)
	if err != nil {
		d.recordOutcome(route, "pick_error", start)
		return fmt.Errorf("failed to find valid upstream server: %w", err)
	}

	// Step 8: address-cache lookup.
	ep, err := d.AddressCache.Lookup(ctx, addr, addr, func() (reqctx.Endpoint, error) {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return reqctx.Endpoint{}, err
		}
		return reqctx.Endpoint{Host: host, Port: port}, nil
	})
	if err != nil {
		d.recordOutcome(route, "address_error", start)
		return err
	}

	// Step 9: hand off.
	d.setPicked(rc, checker, ep.Host, ep.Port, cp.picker)
	err = transport.Dispatch(rc, ep.Host, ep.Port)
	if ewma, ok := cp.picker.(*ewmaPicker); ok {
		ewma.ReportLatency(addr, time.Since(start))
		ewma.Release(addr)
	}
	d.recordOutcome(route, outcomeLabel(err), start)
	return err
}

func (d *Dispatcher) resolveNodes(ctx context.Context, route *UpstreamConfig) ([]Node, error) {
	if route.ServiceName == "" {
		if len(route.Nodes) == 0 {
			return nil, util.ErrNoUpstreamNode
		}
		return route.Nodes, nil
	}
	if d.Discovery == nil {
		return nil, util.ErrDiscoveryDown
	}
	endpoints, err := d.Discovery.Resolve(ctx, route.ServiceName)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, util.NewDiscoveryError(route.ServiceName, util.ErrNoUpstreamNode)
	}
	nodes := make([]Node, len(endpoints))
	for i, ep := range endpoints {
		nodes[i] = Node{Addr: ep.String(), Weight: 1}
	}
	return nodes, nil
}

func (d *Dispatcher) bumpTryCount(rc *reqctx.Context, checker *healthcheck.Checker, route *UpstreamConfig) {
	if rc.BalancerTryCount > 0 && checker != nil {
		d.reportPrevious(rc, checker)
	}
	rc.BalancerTryCount++
}

func (d *Dispatcher) reportPrevious(rc *reqctx.Context, checker *healthcheck.Checker) {
	host, port := rc.BalancerIP, rc.BalancerPort
	switch rc.PreviousOutcome {
	case OutcomeTimeout:
		checker.ReportTimeout(host, port, "")
	case OutcomeTCPFailure:
		checker.ReportTCPFailure(host, port, "")
	case OutcomeHTTPStatus:
		checker.ReportHTTPStatus(host, port, "", rc.PreviousHTTPStatus)
	}
}

func (d *Dispatcher) configureRetries(transport Transport, route *UpstreamConfig, nodeCount int) {
	retries := nodeCount - 1
	if route.Retries != nil {
		retries = *route.Retries
	}
	if retries < 0 {
		retries = nodeCount - 1
	}
	if retries == 0 {
		return
	}
	transport.SetRetries(retries)
}

func (d *Dispatcher) setPicked(rc *reqctx.Context, checker *healthcheck.Checker, host string, port int, picker Picker) {
	rc.BalancerIP = host
	rc.BalancerPort = port
	if picker != nil {
		rc.ServerPicker = picker
	}
	if checker != nil {
		rc.UpChecker = checker
	}
}

func (d *Dispatcher) recordOutcome(route *UpstreamConfig, outcome string, start time.Time) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.RecordDispatch(route.Key, outcome, time.Since(start))
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// healthySubset filters nodes down to those the checker currently
// considers eligible, falling back to the full node set if that subset
// would be empty (§4.3): losing a request to an outage is worse than
// trying a probably-bad node.
func healthySubset(checker *healthcheck.Checker, nodes []Node) []Node {
	byAddr := make(map[string]Node, len(nodes))
	endpoints := make([]healthcheck.Endpoint, 0, len(nodes))
	for _, n := range nodes {
		host, port, err := splitHostPort(n.Addr)
		if err != nil {
			continue
		}
		byAddr[n.Addr] = n
		endpoints = append(endpoints, healthcheck.Endpoint{Host: host, Port: port})
	}

	subset := checker.HealthySubset(endpoints)
	out := make([]Node, 0, len(subset))
	for _, ep := range subset {
		if n, ok := byAddr[ep.Addr()]; ok {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nodes
	}
	return out
}
