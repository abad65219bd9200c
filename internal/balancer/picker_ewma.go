package balancer

import (
	"sync"
	"time"

	"github.com/avapigw/core/internal/reqctx"
)

// ewmaDecay weights the most recent latency sample against the running
// average: smaller values react to a single slow sample faster.
const ewmaDecay = 0.2

// ewmaPicker scores each node by ewma_latency * (inflight + 1) and picks
// the lowest score, so it routes away from both slow nodes and nodes
// already carrying outstanding requests. A node with no samples yet
// scores 0 (not infinity), guaranteeing every node gets at least one real
// sample before the scores become meaningful.
type ewmaPicker struct {
	mu    sync.Mutex
	nodes []*ewmaNode
}

type ewmaNode struct {
	addr     string
	weight   int
	ewma     float64
	inflight int
	sampled  bool
}

func newEWMAPicker(nodes []Node) *ewmaPicker {
	p := &ewmaPicker{}
	for _, n := range nodes {
		p.nodes = append(p.nodes, &ewmaNode{addr: n.Addr, weight: n.Weight})
	}
	return p
}

// Get implements Picker.
func (p *ewmaPicker) Get(_ *reqctx.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.nodes) == 0 {
		return "", errNoNodes
	}

	best := p.nodes[0]
	bestScore := best.score()
	for _, n := range p.nodes[1:] {
		s := n.score()
		if s < bestScore || (s == bestScore && n.weight > best.weight) {
			best = n
			bestScore = s
		}
	}
	best.inflight++
	return best.addr, nil
}

func (n *ewmaNode) score() float64 {
	if !n.sampled {
		return 0
	}
	return n.ewma * float64(n.inflight+1)
}

// ReportLatency records an observed round-trip latency for addr, updating
// its exponentially-weighted moving average.
func (p *ewmaPicker) ReportLatency(addr string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.nodes {
		if n.addr != addr {
			continue
		}
		ms := float64(d) / float64(time.Millisecond)
		if !n.sampled {
			n.ewma = ms
			n.sampled = true
		} else {
			n.ewma = ewmaDecay*ms + (1-ewmaDecay)*n.ewma
		}
		return
	}
}

// Release decrements the in-flight count for addr once its request
// completes, regardless of outcome.
func (p *ewmaPicker) Release(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.nodes {
		if n.addr == addr {
			if n.inflight > 0 {
				n.inflight--
			}
			return
		}
	}
}
