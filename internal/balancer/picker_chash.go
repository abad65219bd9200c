package balancer

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"github.com/avapigw/core/internal/reqctx"
)

// chashReplicasPerWeight sets how many virtual nodes a picker places on the
// ring per unit of weight, so that heavier endpoints claim proportionally
// more of the ring instead of the fixed replica count per endpoint.
const chashReplicasPerWeight = 20

// chashPicker is a consistent-hash ring keyed by a request-derived string
// (defaulting to remote_addr), giving sticky endpoint selection across
// requests sharing that key while still redistributing minimally when the
// node set changes.
type chashPicker struct {
	mu      sync.Mutex
	keyName string
	ring    []chashPoint
	nodes   map[string]string // addr -> addr, for membership checks
}

type chashPoint struct {
	hash uint32
	addr string
}

func newChashPicker(nodes []Node, keyName string) *chashPicker {
	if keyName == "" {
		keyName = "remote_addr"
	}
	p := &chashPicker{keyName: keyName, nodes: make(map[string]string, len(nodes))}
	p.build(nodes)
	return p
}

func (p *chashPicker) build(nodes []Node) {
	for _, n := range nodes {
		p.nodes[n.Addr] = n.Addr
		replicas := n.Weight * chashReplicasPerWeight
		if replicas <= 0 {
			replicas = chashReplicasPerWeight
		}
		for i := 0; i < replicas; i++ {
			p.ring = append(p.ring, chashPoint{
				hash: fnv32a(n.Addr + "#" + strconv.Itoa(i)),
				addr: n.Addr,
			})
		}
	}
	sort.Slice(p.ring, func(i, j int) bool { return p.ring[i].hash < p.ring[j].hash })
}

// Get implements Picker.
func (p *chashPicker) Get(ctx *reqctx.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.ring) == 0 {
		return "", errNoNodes
	}

	key := p.keyName
	if ctx != nil {
		if v, ok := ctx.Var(p.keyName); ok {
			key = v
		}
	}
	h := fnv32a(key)

	idx := sort.Search(len(p.ring), func(i int) bool { return p.ring[i].hash >= h })
	if idx == len(p.ring) {
		idx = 0
	}
	return p.ring[idx].addr, nil
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
