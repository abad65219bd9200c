package router

import "testing"

func TestMethodMatcher(t *testing.T) {
	m := NewMethodMatcher([]string{"GET", "POST"})

	if !m.Match("get") {
		t.Error("expected case-insensitive GET to match")
	}
	if !m.Match("HEAD") {
		t.Error("expected HEAD to fold onto GET")
	}
	if m.Match("DELETE") {
		t.Error("expected DELETE not to match")
	}
}

func TestMethodMatcherWildcard(t *testing.T) {
	m := NewMethodMatcher([]string{"*"})
	if !m.Match("DELETE") {
		t.Error("expected wildcard to match any method")
	}
}

func TestHostMatches(t *testing.T) {
	cases := []struct {
		patterns []string
		host     string
		want     bool
	}{
		{[]string{"example.com"}, "example.com", true},
		{[]string{"example.com"}, "other.com", false},
		{[]string{"*.example.com"}, "api.example.com", true},
		{[]string{"*.example.com"}, "example.com", false},
		{[]string{"*.example.com"}, "evilexample.com", false},
	}
	for _, c := range cases {
		if got := hostMatches(c.patterns, c.host); got != c.want {
			t.Errorf("hostMatches(%v, %q) = %v, want %v", c.patterns, c.host, got, c.want)
		}
	}
}

func TestRemoteAddrMatches(t *testing.T) {
	cidrs := []string{"10.0.0.0/8"}

	if !remoteAddrMatches(cidrs, "10.1.2.3:5555") {
		t.Error("expected 10.1.2.3 within 10.0.0.0/8 to match")
	}
	if remoteAddrMatches(cidrs, "192.168.1.1:5555") {
		t.Error("expected 192.168.1.1 to not match")
	}
	if remoteAddrMatches(cidrs, "not-an-ip") {
		t.Error("expected unparsable address to not match")
	}
}

func TestHasPathParameters(t *testing.T) {
	if !HasPathParameters("/v1/widgets/:id") {
		t.Error("expected :id segment to be detected")
	}
	if HasPathParameters("/v1/widgets") {
		t.Error("expected literal path to not have parameters")
	}
}

func TestHasWildcard(t *testing.T) {
	if !HasWildcard("/v1/widgets/*") {
		t.Error("expected trailing * to be detected")
	}
	if HasWildcard("/v1/widgets") {
		t.Error("expected literal path to not be a wildcard")
	}
	if HasWildcard("/v1/*/widgets") {
		t.Error("expected non-trailing * to not count as a wildcard")
	}
}
