// Package balancer implements the picker registry and dispatch contract
// that selects and invokes an upstream endpoint for a request (§4.2,
// §4.4).
package balancer

import (
	"fmt"
	"net"
	"strconv"

	"github.com/avapigw/core/internal/reqctx"
)

// Node is one endpoint offered to a picker, with its configured weight.
type Node struct {
	Addr   string // "host:port"
	Weight int
}

// Picker selects one endpoint per request from a fixed node set.
type Picker interface {
	// Get returns "host:port" for the node selected for this request. ctx
	// may be used to compute hash keys (chash) or is otherwise ignored.
	Get(ctx *reqctx.Context) (string, error)
}

// Algorithm names recognized by New (§4.4).
const (
	AlgorithmRoundRobin = "roundrobin"
	AlgorithmChash      = "chash"
	AlgorithmEWMA       = "ewma"
)

// UpstreamOptions carries the per-upstream knobs a picker needs beyond
// its node set: chash's hash-key expression.
type UpstreamOptions struct {
	ChashKey string
}

var errNoNodes = fmt.Errorf("picker has no nodes")

// New builds a Picker of the given algorithm over nodes. Returns an error
// for an unrecognized algorithm name (§4.2 step 6: "invalid balancer
// type").
func New(algorithm string, nodes []Node, opts UpstreamOptions) (Picker, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("cannot build a picker with zero nodes")
	}

	switch algorithm {
	case "", AlgorithmRoundRobin:
		return newRoundRobinPicker(nodes), nil
	case AlgorithmChash:
		return newChashPicker(nodes, opts.ChashKey), nil
	case AlgorithmEWMA:
		return newEWMAPicker(nodes), nil
	default:
		return nil, fmt.Errorf("invalid balancer type %q", algorithm)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in address %q: %w", addr, err)
	}
	return host, port, nil
}
