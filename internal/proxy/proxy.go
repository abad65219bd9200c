package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/avapigw/core/internal/balancer"
	"github.com/avapigw/core/internal/config"
	"github.com/avapigw/core/internal/observability"
	"github.com/avapigw/core/internal/reqctx"
	"github.com/avapigw/core/internal/router"
)

// hopHeaders are stripped before forwarding a request upstream.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// UpstreamResolver looks up the effective upstream for a route and the
// dial defaults to apply where it doesn't override them, translating the
// route store's config.Upstream into the dispatcher's UpstreamConfig.
type UpstreamResolver func(route *config.Route) (*balancer.UpstreamConfig, bool)

// ReverseProxy is the http.Handler that fronts the trie router and the
// balancer dispatcher (§2, §4.2).
type ReverseProxy struct {
	Router     *router.Router
	Dispatcher *balancer.Dispatcher
	Resolve    UpstreamResolver
	Logger     observability.Logger

	// RoundTripClient performs the outbound request to a chosen backend.
	// Defaults to http.DefaultTransport wrapped in a bare *http.Client when
	// nil.
	RoundTripClient *http.Client
}

// NewReverseProxy creates a ReverseProxy. logger may be nil.
func NewReverseProxy(rt *router.Router, dispatcher *balancer.Dispatcher, resolve UpstreamResolver, logger observability.Logger) *ReverseProxy {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ReverseProxy{
		Router:          rt,
		Dispatcher:      dispatcher,
		Resolve:         resolve,
		Logger:          logger,
		RoundTripClient: &http.Client{},
	}
}

// ServeHTTP implements http.Handler. It resolves the request against the
// trie via Router.Match — a read-only lookup safe under concurrent
// requests — and, for a matched route with an upstream, hands off to the
// balancer.
func (p *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := reqctx.New(r.Method, r.Host, r.URL.Path, r.RemoteAddr, r.Header, r.URL.Query(), nil)

	matched, found, err := p.Router.Match(r.URL.Path, router.DispatchOptions{
		Method:     r.Method,
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
	}, rc)
	if err != nil || !found || matched == nil {
		p.writeNotFound(w, r)
		return
	}

	upstream, ok := p.Resolve(matched)
	if !ok {
		p.Logger.Warn("matched route has no upstream", observability.String("route", matched.Name))
		p.writeBadGateway(w, fmt.Errorf("route %q has no upstream", matched.Name))
		return
	}

	transport := &httpTransport{
		w:          w,
		req:        r,
		client:     p.RoundTripClient,
		logger:     p.Logger,
		dispatcher: p.Dispatcher,
		upstream:   upstream,
	}

	if err := p.Dispatcher.Run(r.Context(), upstream, rc, transport); err != nil {
		p.Logger.Error("dispatch failed",
			observability.String("route", matched.Name), observability.Error(err))
		if !transport.responded {
			p.writeBadGateway(w, err)
		}
	}
}

func (p *ReverseProxy) writeNotFound(w http.ResponseWriter, r *http.Request) {
	p.Logger.Debug("no matching route",
		observability.String("path", r.URL.Path), observability.String("method", r.Method))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, `{"error":"not found"}`)
}

func (p *ReverseProxy) writeBadGateway(w http.ResponseWriter, err error) {
	p.Logger.Error("proxy error", observability.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = io.WriteString(w, `{"error":"bad gateway"}`)
}

// httpTransport implements balancer.Transport (§6). On a retryable
// failure it re-invokes Dispatcher.Run itself, picking a fresh endpoint,
// exactly as the Transport contract documents: "the transport re-invokes
// Run for each attempt".
type httpTransport struct {
	w    http.ResponseWriter
	req  *http.Request
	client *http.Client
	logger observability.Logger

	dispatcher *balancer.Dispatcher
	upstream   *balancer.UpstreamConfig

	socketTimeout time.Duration
	retries       int
	responded     bool
}

func (t *httpTransport) SetSocketTimeout(d time.Duration) { t.socketTimeout = d }
func (t *httpTransport) SetRetries(n int)                 { t.retries = n }

func (t *httpTransport) Dispatch(rc *reqctx.Context, host string, port int) error {
	err := t.attempt(rc, host, port)
	if err == nil {
		return nil
	}
	if rc.BalancerTryCount > t.retries {
		return err
	}
	return t.dispatcher.Run(t.req.Context(), t.upstream, rc, t)
}

func (t *httpTransport) attempt(rc *reqctx.Context, host string, port int) error {
	outbound := t.req.Clone(t.req.Context())
	outbound.RequestURI = ""
	outbound.URL.Scheme = "http"
	outbound.URL.Host = fmt.Sprintf("%s:%d", host, port)
	for _, h := range hopHeaders {
		outbound.Header.Del(h)
	}
	if clientIP, _, splitErr := net.SplitHostPort(t.req.RemoteAddr); splitErr == nil {
		outbound.Header.Set("X-Forwarded-For", clientIP)
	}
	outbound.Header.Set("X-Forwarded-Host", t.req.Host)
	outbound.Header.Set("X-Forwarded-Proto", "http")

	client := t.client
	if t.socketTimeout > 0 {
		clientCopy := *client
		clientCopy.Timeout = t.socketTimeout
		client = &clientCopy
	}

	resp, err := client.Do(outbound)
	if err != nil {
		rc.ProxyPassed = false
		if errors.Is(err, context.DeadlineExceeded) {
			rc.PreviousOutcome = balancer.OutcomeTimeout
		} else {
			rc.PreviousOutcome = balancer.OutcomeTCPFailure
		}
		return err
	}
	defer resp.Body.Close()

	rc.ProxyPassed = true
	rc.PreviousOutcome = balancer.OutcomeHTTPStatus
	rc.PreviousHTTPStatus = resp.StatusCode

	for k, vs := range resp.Header {
		for _, v := range vs {
			t.w.Header().Add(k, v)
		}
	}
	t.w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(t.w, resp.Body)
	t.responded = true
	return nil
}
