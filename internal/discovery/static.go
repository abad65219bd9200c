package discovery

import (
	"context"
	"sync"

	"github.com/avapigw/core/internal/util"
)

// Static is an in-memory Oracle for tests and for deployments with a
// fixed, externally-supplied endpoint table rather than a live cluster
// API to watch.
type Static struct {
	mu        sync.RWMutex
	endpoints map[string][]Endpoint
}

// NewStatic creates an empty Static oracle.
func NewStatic() *Static {
	return &Static{endpoints: make(map[string][]Endpoint)}
}

// Set replaces the endpoint list for serviceName.
func (s *Static) Set(serviceName string, endpoints []Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[serviceName] = append([]Endpoint(nil), endpoints...)
}

// Resolve implements Oracle.
func (s *Static) Resolve(_ context.Context, serviceName string) ([]Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	endpoints, ok := s.endpoints[serviceName]
	if !ok || len(endpoints) == 0 {
		return nil, util.NewDiscoveryError(serviceName, util.ErrNoUpstreamNode)
	}
	return append([]Endpoint(nil), endpoints...), nil
}
