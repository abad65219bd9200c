// Package reqctx implements the per-request variable bag the trie router,
// balancer, and predicate evaluator all read from and write to while
// dispatching a single request.
package reqctx

import (
	"net/url"
	"strings"
	"sync"
)

// TransportVars is the boundary between reqctx and whatever transport is
// driving the request (an HTTP handler, a test harness, ...). It exposes the
// transport's own named variable table, used as the fallback tier of the
// accessor resolution order.
type TransportVars interface {
	// Var returns the named transport variable (e.g. "args_foo", "uri").
	Var(name string) (string, bool)
	// SetVar stores a value back into the transport's variable table. Only
	// called for names in the WritableVars set.
	SetVar(name, value string)
}

// WritableVars is the static set of variable names that accessor writes fan
// out to the transport sink in addition to the memo table.
var WritableVars = map[string]bool{
	"upstream_scheme":          true,
	"upstream_host":            true,
	"upstream_upgrade":         true,
	"upstream_connection":      true,
	"upstream_uri":             true,
	"upstream_mirror_host":     true,
	"upstream_cache_zone":      true,
	"upstream_cache_zone_info": true,
	"upstream_no_cache":        true,
	"upstream_cache_key":       true,
	"upstream_cache_bypass":    true,
	"upstream_hdr_expires":     true,
	"upstream_hdr_cache_control": true,
}

// Endpoint is a resolved backend address, as handed to the transport by the
// balancer.
type Endpoint struct {
	Host string
	Port int
}

// Context is the per-request state carried across one request's attempts.
// It is allocated fresh per request; it is not safe to reuse across
// requests.
type Context struct {
	Method     string
	Host       string
	URI        string
	RemoteAddr string
	Headers    map[string][]string
	Query      url.Values
	Cookies    map[string]string

	Transport TransportVars

	// UpstreamKey identifies the cluster of the most recent picker-cache
	// lookup (§3); the single-endpoint fast path does not set it.
	UpstreamKey string
	// UpstreamVersion is the version tag of that lookup: the key and node
	// set, plus #status_ver when a checker exists (§4.2 step 6).
	UpstreamVersion string
	// BalancerTryCount is incremented once per Run invocation (§4.2 step 4).
	BalancerTryCount int
	// BalancerIP/BalancerPort are the endpoint used on the most recent
	// attempt.
	BalancerIP   string
	BalancerPort int
	// ProxyPassed records whether the transport successfully dispatched the
	// most recent attempt. Passive reports are filed from PreviousOutcome,
	// not from this field.
	ProxyPassed bool
	// PreviousOutcome classifies how the most recent attempt failed, so the
	// next Run invocation can file the matching passive report (§4.2 step
	// 4, §4.3): "", "timeout", "tcp_failure", or "http_status".
	PreviousOutcome string
	// PreviousHTTPStatus is the status observed on the previous attempt
	// when PreviousOutcome is "http_status".
	PreviousHTTPStatus int

	// ServerPicker and UpChecker record the picker/checker used on the most
	// recent attempt; the dispatcher writes them but looks both up again on
	// every attempt. Typed as `any` to avoid reqctx depending on balancer or
	// healthcheck (which both depend on reqctx).
	ServerPicker any
	UpChecker    any

	memoMu sync.Mutex
	memo   map[string]string
}

// New creates a request context. transport may be nil for tests that never
// touch the http_*/named-variable resolution tier.
func New(method, host, uri, remoteAddr string, headers map[string][]string, query url.Values, transport TransportVars) *Context {
	return &Context{
		Method:     method,
		Host:       host,
		URI:        uri,
		RemoteAddr: remoteAddr,
		Headers:    headers,
		Query:      query,
		Transport:  transport,
		memo:       make(map[string]string),
	}
}

// Var resolves a variable by name following the accessor resolution order
// (§6): method, cookie, cookie_*, http_*, then the transport's named
// variable table. Resolved values are memoized for the life of the request.
func (c *Context) Var(name string) (string, bool) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()

	if v, ok := c.memo[name]; ok {
		return v, true
	}

	v, ok := c.resolve(name)
	if ok {
		c.memo[name] = v
	}
	return v, ok
}

func (c *Context) resolve(name string) (string, bool) {
	switch {
	case name == "method":
		return c.Method, true
	case name == "cookie":
		return c.cookieString(), len(c.Cookies) > 0
	case strings.HasPrefix(name, "cookie_"):
		v, ok := c.Cookies[name[len("cookie_"):]]
		return v, ok
	case strings.HasPrefix(name, "http_"):
		header := strings.ReplaceAll(name[len("http_"):], "_", "-")
		for k, vs := range c.Headers {
			if strings.EqualFold(k, header) && len(vs) > 0 {
				return vs[0], true
			}
		}
		return "", false
	default:
		return c.resolveNamedVar(name)
	}
}

// resolveNamedVar implements the transport named-variable table fallback,
// including the built-in connection/request attributes (§6) the transport
// doesn't need to know about.
func (c *Context) resolveNamedVar(name string) (string, bool) {
	switch name {
	case "uri":
		return c.URI, true
	case "host":
		return c.Host, true
	case "remote_addr":
		return c.RemoteAddr, true
	case "request_method":
		return c.Method, true
	}

	if strings.HasPrefix(name, "arg_") {
		return c.Query.Get(name[len("arg_"):]), c.Query.Has(name[len("arg_"):])
	}
	if name == "args_" || strings.HasPrefix(name, "args_") {
		return c.Query.Get(name[len("args_"):]), c.Query.Has(name[len("args_"):])
	}

	if c.Transport != nil {
		return c.Transport.Var(name)
	}
	return "", false
}

// Set writes a value into the memo table, and fans it out to the transport
// variable sink when name is in WritableVars.
func (c *Context) Set(name, value string) {
	c.memoMu.Lock()
	c.memo[name] = value
	c.memoMu.Unlock()

	if WritableVars[name] && c.Transport != nil {
		c.Transport.SetVar(name, value)
	}
}

func (c *Context) cookieString() string {
	parts := make([]string, 0, len(c.Cookies))
	for k, v := range c.Cookies {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "; ")
}
