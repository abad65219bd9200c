package main

import (
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/avapigw/core/internal/config"
	"github.com/avapigw/core/internal/discovery"
	"github.com/avapigw/core/internal/observability"
)

// initDiscovery builds the discovery.Oracle the dispatcher resolves
// service_name upstreams through (§2 item 8, §6). "k8s" resolves a
// kubeconfig the same way a controller-runtime manager does — in-cluster
// config when running as a pod, the local kubeconfig otherwise — so the
// same binary runs both in and out of cluster. "static" (or an empty
// kind) returns an oracle with nothing registered; routes naming a
// service_name then fail to resolve until something calls Set on it.
func initDiscovery(cfg *config.Config, logger observability.Logger) discovery.Oracle {
	switch cfg.Discovery.Kind {
	case "k8s":
		restCfg, err := ctrl.GetConfig()
		if err != nil {
			logger.Fatal("failed to resolve kubernetes client config", observability.Error(err))
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			logger.Fatal("failed to build kubernetes clientset", observability.Error(err))
		}
		logger.Info("discovery oracle initialized",
			observability.String("kind", "k8s"), observability.String("namespace", cfg.Discovery.Namespace))
		return discovery.NewK8s(clientset, cfg.Discovery.Namespace, cfg.Discovery.Port, logger)
	case "static", "":
		logger.Info("discovery oracle initialized", observability.String("kind", "static"))
		return discovery.NewStatic()
	default:
		logger.Fatal("unknown discovery kind", observability.String("kind", cfg.Discovery.Kind))
		return nil
	}
}
