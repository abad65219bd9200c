package balancer

import (
	"sync"

	"github.com/avapigw/core/internal/reqctx"
)

// roundRobinPicker is an interleaved weighted round-robin picker: each
// pass of the GCD-stepped selection loop lowers a weight threshold and
// returns, in node order, every node whose weight reaches it, so each node
// is returned in proportion to its weight. Runs are not minimized: the
// heaviest node is returned back to back while the threshold is above
// every other weight (weights 5,1,1 give a,a,a,a,a,b,c).
type roundRobinPicker struct {
	mu      sync.Mutex
	nodes   []Node
	index   int
	current int
	gcd     int
	maxW    int
}

func newRoundRobinPicker(nodes []Node) *roundRobinPicker {
	p := &roundRobinPicker{nodes: nodes, index: -1}
	p.gcd = gcdWeights(nodes)
	p.maxW = maxWeight(nodes)
	return p
}

// Get implements Picker.
func (p *roundRobinPicker) Get(_ *reqctx.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.nodes) == 1 {
		return p.nodes[0].Addr, nil
	}
	if p.gcd == 0 || p.maxW == 0 {
		p.index = (p.index + 1) % len(p.nodes)
		return p.nodes[p.index].Addr, nil
	}

	maxIterations := len(p.nodes) * (p.maxW/p.gcd + 1)
	for i := 0; i < maxIterations; i++ {
		p.index = (p.index + 1) % len(p.nodes)
		if p.index == 0 {
			p.current -= p.gcd
			if p.current <= 0 {
				p.current = p.maxW
			}
		}
		if p.nodes[p.index].Weight >= p.current {
			return p.nodes[p.index].Addr, nil
		}
	}
	// Defensive: the loop above always terminates within maxIterations for
	// a well-formed weight set, but fall back to plain round-robin rather
	// than erroring if it somehow doesn't.
	p.index = (p.index + 1) % len(p.nodes)
	return p.nodes[p.index].Addr, nil
}

func gcdWeights(nodes []Node) int {
	g := 0
	for _, n := range nodes {
		g = gcd(g, n.Weight)
	}
	return g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func maxWeight(nodes []Node) int {
	m := 0
	for _, n := range nodes {
		if n.Weight > m {
			m = n.Weight
		}
	}
	return m
}
