// Package discovery resolves a service_name into the current set of
// upstream endpoints, standing in for a cluster's nodes when up_conf
// names a service rather than a static list (§4.2 step 1, §6).
package discovery

import (
	"context"
	"fmt"
)

// Endpoint is a resolved upstream address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Oracle resolves a service name to its current endpoints.
type Oracle interface {
	Resolve(ctx context.Context, serviceName string) ([]Endpoint, error)
}

// OracleFunc adapts a plain function to Oracle.
type OracleFunc func(ctx context.Context, serviceName string) ([]Endpoint, error)

func (f OracleFunc) Resolve(ctx context.Context, serviceName string) ([]Endpoint, error) {
	return f(ctx, serviceName)
}
