package router

import (
	"net"
	"strings"
)

// MethodMatcher matches a request method against a configured set,
// folding HEAD onto GET and honoring a "*" wildcard (§4.1).
type MethodMatcher struct {
	methods map[string]bool
}

// NewMethodMatcher creates a new method matcher.
func NewMethodMatcher(methods []string) *MethodMatcher {
	m := &MethodMatcher{methods: make(map[string]bool, len(methods))}
	for _, method := range methods {
		m.methods[strings.ToUpper(method)] = true
	}
	return m
}

// Match checks if the method matches.
func (m *MethodMatcher) Match(method string) bool {
	method = strings.ToUpper(method)

	if m.methods["*"] {
		return true
	}
	if method == "HEAD" && m.methods["GET"] {
		return true
	}
	return m.methods[method]
}

func methodMatches(methods []string, method string) bool {
	return NewMethodMatcher(methods).Match(method)
}

// hostMatches reports whether host satisfies one of patterns, each
// either a literal host or a leading "*." wildcard (§3, §4.1).
func hostMatches(patterns []string, host string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if strings.HasPrefix(p, "*.") {
			suffix := p[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
				return true
			}
			continue
		}
		if host == p {
			return true
		}
	}
	return false
}

// remoteAddrMatches reports whether remoteAddr (optionally "host:port")
// falls within one of cidrs (§3, §4.1).
func remoteAddrMatches(cidrs []string, remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, c := range cidrs {
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// HasPathParameters reports whether pattern contains a ":name" segment.
func HasPathParameters(pattern string) bool {
	for _, seg := range splitPath(pattern) {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			return true
		}
	}
	return false
}

// HasWildcard reports whether pattern ends in a bare "*" segment.
func HasWildcard(pattern string) bool {
	segments := splitPath(pattern)
	return len(segments) > 0 && segments[len(segments)-1] == "*"
}
