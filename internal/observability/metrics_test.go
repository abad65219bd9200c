package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		namespace string
	}{
		{
			name:      "with custom namespace",
			namespace: "custom",
		},
		{
			name:      "with empty namespace uses default",
			namespace: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			metrics := NewMetrics(tt.namespace)

			assert.NotNil(t, metrics)
			assert.NotNil(t, metrics.dispatchesTotal)
			assert.NotNil(t, metrics.dispatchDuration)
			assert.NotNil(t, metrics.activeDispatches)
			assert.NotNil(t, metrics.endpointHealth)
			assert.NotNil(t, metrics.endpointState)
			assert.NotNil(t, metrics.buildInfo)
			assert.NotNil(t, metrics.registry)
		})
	}
}

func TestMetrics_RecordDispatch(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	metrics.RecordDispatch("route-a", "success", 12*time.Millisecond)
	metrics.RecordDispatch("route-a", "timeout", 5*time.Second)
}

func TestMetrics_ActiveDispatches(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	metrics.IncrementActiveDispatches("route-a")
	metrics.DecrementActiveDispatches("route-a")
}

func TestMetrics_SetEndpointHealth(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	metrics.SetEndpointHealth("upstream-a", "10.0.0.1:8080", true)
	metrics.SetEndpointHealth("upstream-a", "10.0.0.2:8080", false)
}

func TestMetrics_SetEndpointState(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	metrics.SetEndpointState("upstream-a", "10.0.0.1:8080", 0)
	metrics.SetEndpointState("upstream-a", "10.0.0.1:8080", 3)
}

func TestMetrics_SetBuildInfo(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	metrics.SetBuildInfo("1.0.0", "abc123", "2026-01-01")
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	handler := metrics.Handler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics_Registry(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	assert.NotNil(t, metrics.Registry())
}

func TestStatusLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "200", statusLabel(200))
	assert.Equal(t, "504", statusLabel(504))
}
