package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/avapigw/core/internal/balancer"
)

// ValidationErrors collects every validation failure found in one pass,
// rather than stopping at the first (matching the teacher's validator
// idiom of reporting everything wrong with a document at once).
type ValidationErrors struct {
	Errors []string
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("%d validation error(s): %s", len(e.Errors), strings.Join(e.Errors, "; "))
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateRoutesDocument validates a freshly loaded RoutesDocument before
// it is promoted to a RouteSnapshot. Unlike filter_fun compile failures
// (§7, handled at trie-build time by skipping just the offending route),
// a structural validation failure here rejects the whole reload — the
// prior snapshot remains in effect.
func ValidateRoutesDocument(doc *RoutesDocument) error {
	errs := &ValidationErrors{}

	upstreamNames := make(map[string]bool, len(doc.Upstreams))
	for i, u := range doc.Upstreams {
		validateUpstream(errs, fmt.Sprintf("upstreams[%d]", i), u)
		if u.Name == "" {
			continue
		}
		if upstreamNames[u.Name] {
			errs.add("upstreams: duplicate name %q", u.Name)
		}
		upstreamNames[u.Name] = true
	}

	routeNames := make(map[string]bool, len(doc.Routes))
	for i, r := range doc.Routes {
		validateRoute(errs, fmt.Sprintf("routes[%d]", i), r, upstreamNames)
		if r.Name == "" {
			errs.add("routes[%d]: name is required", i)
			continue
		}
		if routeNames[r.Name] {
			errs.add("routes: duplicate name %q", r.Name)
		}
		routeNames[r.Name] = true
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateRoute(errs *ValidationErrors, path string, r *Route, upstreamNames map[string]bool) {
	if len(r.Paths) == 0 {
		errs.add("%s: at least one path is required", path)
	}
	for _, p := range r.Paths {
		if p == "" || p[0] != '/' {
			errs.add("%s: path %q must start with '/'", path, p)
		}
	}

	for _, m := range r.Methods {
		if !validMethod(m) {
			errs.add("%s: unknown method %q", path, m)
		}
	}

	for _, h := range r.Hosts {
		if h == "" {
			errs.add("%s: empty host pattern", path)
		}
	}

	for _, cidr := range r.RemoteAddrs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs.add("%s: invalid remote_addrs CIDR %q: %v", path, cidr, err)
		}
	}

	for j, v := range r.Vars {
		if v.Name == "" {
			errs.add("%s: vars[%d]: name is required", path, j)
		}
		if !validOperator(v.Operator) {
			errs.add("%s: vars[%d]: unknown operator %q", path, j, v.Operator)
		}
	}

	if r.FilterFun != "" {
		env, err := cel.NewEnv()
		if err != nil {
			errs.add("%s: filter_fun CEL environment unavailable: %v", path, err)
		} else if _, issues := env.Parse(r.FilterFun); issues != nil && issues.Err() != nil {
			errs.add("%s: filter_fun does not parse: %v", path, issues.Err())
		}
	}

	if r.Upstream != nil {
		validateUpstream(errs, path+".upstream", r.Upstream)
	} else if r.UpstreamRef != "" && !upstreamNames[r.UpstreamRef] {
		errs.add("%s: upstream_ref %q does not match any upstream", path, r.UpstreamRef)
	}
}

func validateUpstream(errs *ValidationErrors, path string, u *Upstream) {
	if u == nil {
		return
	}
	switch u.Type {
	case "", balancer.AlgorithmRoundRobin, balancer.AlgorithmChash, balancer.AlgorithmEWMA:
	default:
		errs.add("%s: invalid balancer type %q", path, u.Type)
	}

	if u.ServiceName == "" && len(u.Nodes) == 0 {
		errs.add("%s: either service_name or at least one node is required", path)
	}
	for j, n := range u.Nodes {
		if n.Host == "" {
			errs.add("%s: nodes[%d]: host is required", path, j)
		}
		if n.Port < 1 || n.Port > 65535 {
			errs.add("%s: nodes[%d]: port %d out of range", path, j, n.Port)
		}
	}

	if u.Retries != nil && *u.Retries < 0 {
		errs.add("%s: retries must be >= 0", path)
	}

	if u.Checks != nil {
		if u.Checks.HealthyThreshold < 0 || u.Checks.UnhealthyThreshold < 0 {
			errs.add("%s.checks: thresholds must be >= 0", path)
		}
	}
}

func validMethod(m string) bool {
	switch strings.ToUpper(m) {
	case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "TRACE", "CONNECT", "*":
		return true
	default:
		return false
	}
}

func validOperator(op string) bool {
	switch op {
	case "==", "~=", ">", "<", ">=", "<=", "~~", "in":
		return true
	default:
		return false
	}
}
