package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLatencyKeepsTotalsOnly(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 0; i < 10000; i++ {
		mc.AddOperationLatency("apply_remote", 2*time.Millisecond)
	}
	mc.AddOperationLatency("get_post", 4*time.Millisecond)

	assert.Equal(t, 10000, mc.OperationCount("apply_remote"))
	assert.Equal(t, 2*time.Millisecond, mc.AverageLatency("apply_remote"))
	assert.Equal(t, 1, mc.OperationCount("get_post"))
	assert.Len(t, mc.operations, 2)

	assert.Zero(t, mc.OperationCount("missing"))
	assert.Zero(t, mc.AverageLatency("missing"))
}

func TestMetricsHandler(t *testing.T) {
	mc := NewMetricsCollector()
	mc.EventApplied("NEW_POST", "local")
	mc.AddOperationLatency("apply_local", time.Millisecond)

	rec := httptest.NewRecorder()
	mc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `feedmesh_events_applied_total{kind="NEW_POST",origin="local"} 1`)
	assert.Contains(t, rec.Body.String(), "feedmesh_operation_seconds")
}
