package discovery

import (
	"context"
	"fmt"

	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/avapigw/core/internal/observability"
	"github.com/avapigw/core/internal/util"
)

// K8s resolves a service_name of the form "namespace/service" (or a bare
// "service" resolved against Namespace) to the Ready addresses of its
// EndpointSlices, falling back to the core Endpoints object for clusters
// that don't yet populate discovery.k8s.io/v1 (§6, §9).
type K8s struct {
	clientset kubernetes.Interface
	namespace string
	port      int
	logger    observability.Logger
}

// NewK8s creates a K8s oracle. namespace is the default namespace used
// when a resolved service_name has none; port is used when no entry of an
// EndpointSlice's port list carries a port number, or when an Endpoints
// subset lists no ports.
func NewK8s(clientset kubernetes.Interface, namespace string, port int, logger observability.Logger) *K8s {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &K8s{clientset: clientset, namespace: namespace, port: port, logger: logger}
}

// Resolve implements Oracle.
func (k *K8s) Resolve(ctx context.Context, serviceName string) ([]Endpoint, error) {
	namespace, name := splitServiceName(serviceName, k.namespace)

	endpoints, err := k.resolveFromSlices(ctx, namespace, name)
	if err != nil {
		return nil, util.NewDiscoveryError(serviceName, err)
	}
	if len(endpoints) > 0 {
		return endpoints, nil
	}

	endpoints, err = k.resolveFromEndpoints(ctx, namespace, name)
	if err != nil {
		return nil, util.NewDiscoveryError(serviceName, err)
	}
	if len(endpoints) == 0 {
		return nil, util.NewDiscoveryError(serviceName, util.ErrNoUpstreamNode)
	}
	return endpoints, nil
}

func (k *K8s) resolveFromSlices(ctx context.Context, namespace, name string) ([]Endpoint, error) {
	slices, err := k.clientset.DiscoveryV1().EndpointSlices(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: discoveryv1.LabelServiceName + "=" + name,
	})
	if err != nil {
		k.logger.Warn("failed to list EndpointSlices, will fall back to Endpoints",
			observability.String("service", namespace+"/"+name),
			observability.Error(err))
		return nil, nil
	}

	var out []Endpoint
	for _, slice := range slices.Items {
		port := k.port
		for _, p := range slice.Ports {
			if p.Port != nil {
				port = int(*p.Port)
				break
			}
		}
		for _, ep := range slice.Endpoints {
			if ep.Conditions.Ready != nil && !*ep.Conditions.Ready {
				continue
			}
			for _, addr := range ep.Addresses {
				out = append(out, Endpoint{Host: addr, Port: port})
			}
		}
	}
	return out, nil
}

func (k *K8s) resolveFromEndpoints(ctx context.Context, namespace, name string) ([]Endpoint, error) {
	eps, err := k.clientset.CoreV1().Endpoints(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get endpoints %s/%s: %w", namespace, name, err)
	}

	var out []Endpoint
	for _, subset := range eps.Subsets {
		port := k.port
		if len(subset.Ports) > 0 {
			port = int(subset.Ports[0].Port)
		}
		for _, addr := range subset.Addresses {
			out = append(out, Endpoint{Host: addr.IP, Port: port})
		}
	}
	return out, nil
}

func splitServiceName(serviceName, defaultNamespace string) (namespace, name string) {
	for i := 0; i < len(serviceName); i++ {
		if serviceName[i] == '/' {
			return serviceName[:i], serviceName[i+1:]
		}
	}
	return defaultNamespace, serviceName
}
