package healthcheck

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointFromServer(t *testing.T, srv *httptest.Server) Endpoint {
	t.Helper()

	u, err := parsePort(srv.URL)
	require.NoError(t, err)
	return u
}

// parsePort extracts host/port from an httptest.Server URL of the form
// "http://127.0.0.1:PORT".
func parsePort(rawURL string) (Endpoint, error) {
	const prefix = "http://"
	hostport := rawURL[len(prefix):]

	idx := len(hostport) - 1
	for idx >= 0 && hostport[idx] != ':' {
		idx--
	}
	host := hostport[:idx]
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Host: host, Port: port}, nil
}

func TestChecker_InitialStateIsHealthy(t *testing.T) {
	t.Parallel()

	ep := Endpoint{Host: "127.0.0.1", Port: 9, Hostname: ""}
	c := New("test#upstream", Config{}, []Endpoint{ep}, nil, nil)

	assert.True(t, c.GetTargetStatus(ep))
	assert.Equal(t, uint64(0), c.StatusVer())
}

func TestChecker_PassiveFailuresTransitionThroughStates(t *testing.T) {
	t.Parallel()

	ep := Endpoint{Host: "10.0.0.1", Port: 80}
	c := New("test#upstream", Config{UnhealthyThreshold: 2, HealthyThreshold: 2}, []Endpoint{ep}, nil, nil)

	c.ReportTCPFailure(ep.Host, ep.Port, ep.Hostname)
	assert.True(t, c.GetTargetStatus(ep), "single failure below threshold stays eligible")

	for i := 0; i < 3; i++ {
		c.ReportTCPFailure(ep.Host, ep.Port, ep.Hostname)
	}
	assert.False(t, c.GetTargetStatus(ep), "mostly_unhealthy after 4 consecutive failures is not eligible")
	assert.Equal(t, uint64(2), c.StatusVer(), "healthy -> mostly_healthy -> mostly_unhealthy")
}

func TestChecker_PassiveRecoveryRequiresThreshold(t *testing.T) {
	t.Parallel()

	ep := Endpoint{Host: "10.0.0.1", Port: 80}
	c := New("test#upstream", Config{UnhealthyThreshold: 1, HealthyThreshold: 2}, []Endpoint{ep}, nil, nil)

	c.ReportTimeout(ep.Host, ep.Port, ep.Hostname)
	c.ReportTimeout(ep.Host, ep.Port, ep.Hostname)
	assert.False(t, c.GetTargetStatus(ep))

	c.ReportHTTPStatus(ep.Host, ep.Port, ep.Hostname, 200)
	assert.False(t, c.GetTargetStatus(ep), "one success is not enough to climb back to mostly_healthy")

	c.ReportHTTPStatus(ep.Host, ep.Port, ep.Hostname, 200)
	assert.True(t, c.GetTargetStatus(ep))
}

func TestChecker_ReportHTTPStatusClassification(t *testing.T) {
	t.Parallel()

	ep := Endpoint{Host: "10.0.0.1", Port: 80}
	c := New("test#upstream", Config{UnhealthyThreshold: 1}, []Endpoint{ep}, nil, nil)

	c.ReportHTTPStatus(ep.Host, ep.Port, ep.Hostname, 503)
	c.ReportHTTPStatus(ep.Host, ep.Port, ep.Hostname, 503)
	assert.False(t, c.GetTargetStatus(ep))
}

func TestChecker_HealthySubsetFallsBackWhenEmpty(t *testing.T) {
	t.Parallel()

	a := Endpoint{Host: "10.0.0.1", Port: 80}
	b := Endpoint{Host: "10.0.0.2", Port: 80}
	c := New("test#upstream", Config{UnhealthyThreshold: 1}, []Endpoint{a, b}, nil, nil)

	c.ReportTCPFailure(a.Host, a.Port, a.Hostname)
	c.ReportTCPFailure(a.Host, a.Port, a.Hostname)
	c.ReportTCPFailure(b.Host, b.Port, b.Hostname)
	c.ReportTCPFailure(b.Host, b.Port, b.Hostname)

	subset := c.HealthySubset([]Endpoint{a, b})
	assert.ElementsMatch(t, []Endpoint{a, b}, subset, "empty healthy subset falls back to full list")
}

func TestChecker_HealthySubsetFiltersUnhealthy(t *testing.T) {
	t.Parallel()

	a := Endpoint{Host: "10.0.0.1", Port: 80}
	b := Endpoint{Host: "10.0.0.2", Port: 80}
	c := New("test#upstream", Config{UnhealthyThreshold: 1}, []Endpoint{a, b}, nil, nil)

	c.ReportTCPFailure(b.Host, b.Port, b.Hostname)
	c.ReportTCPFailure(b.Host, b.Port, b.Hostname)

	subset := c.HealthySubset([]Endpoint{a, b})
	assert.Equal(t, []Endpoint{a}, subset)
}

func TestChecker_ActiveHTTPProbeDrivesState(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ep := endpointFromServer(t, srv)
	c := New("test#upstream", Config{
		Type:               ProbeHTTP,
		Path:               "/healthz",
		Interval:           5 * time.Millisecond,
		Timeout:            time.Second,
		UnhealthyThreshold: 1,
	}, []Endpoint{ep}, nil, nil)

	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return !c.GetTargetStatus(ep)
	}, time.Second, 5*time.Millisecond)
}

func TestIsExpectedStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, isExpectedStatus(200, nil))
	assert.True(t, isExpectedStatus(304, nil))
	assert.False(t, isExpectedStatus(500, nil))
	assert.True(t, isExpectedStatus(201, []int{200, 201}))
	assert.False(t, isExpectedStatus(202, []int{200, 201}))
}
