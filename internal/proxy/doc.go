// Package proxy is the HTTP transport that drives the router/balancer
// dispatch core: it turns an incoming *http.Request into a reqctx.Context,
// asks the router for a matching route, and implements balancer.Transport
// to carry out (and retry) the actual proxied round trip.
package proxy
