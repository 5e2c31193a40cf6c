package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/bloxgate/resilience"
	"github.com/itsneelabh/bloxgate/telemetry"
)

func testAdmin(t *testing.T, breakers *resilience.BreakerGroup) (*httptest.Server, *telemetry.Collector) {
	t.Helper()
	collector := telemetry.NewCollector()
	health := telemetry.NewHealthEvaluator(collector, breakers, nil, 0)

	srv := httptest.NewServer(NewServer(collector, health, nil, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, collector
}

func TestIndex(t *testing.T) {
	srv, _ := testAdmin(t, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "bloxgate", body["service"])
	assert.Contains(t, body["endpoints"], "/health")
}

func TestIndexUnknownPath(t *testing.T) {
	srv, _ := testAdmin(t, nil)

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsExposition(t *testing.T) {
	srv, collector := testAdmin(t, nil)
	collector.IncrCounter("rpc_requests_total", map[string]string{"tool": "list_subnets", "status": "success"}, 2)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, `mcp_rpc_requests_total{status="success",tool="list_subnets"} 2`)
	assert.Contains(t, out, "mcp_uptime_seconds")
}

func TestMetricsRefreshHook(t *testing.T) {
	collector := telemetry.NewCollector()
	health := telemetry.NewHealthEvaluator(collector, nil, nil, 0)
	refreshed := false
	srv := httptest.NewServer(NewServer(collector, health, func(c *telemetry.Collector) {
		refreshed = true
		c.SetGauge("cache_entries", nil, 7)
	}, nil).Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics/json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, refreshed)

	var snap telemetry.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	found := false
	for _, g := range snap.Gauges {
		if g.Name == "cache_entries" {
			found = true
			assert.Equal(t, float64(7), g.Value)
		}
	}
	assert.True(t, found)
}

func TestHealthStatusCodes(t *testing.T) {
	t.Run("healthy and degraded answer 200", func(t *testing.T) {
		breakers := resilience.NewBreakerGroup(1, time.Minute, nil)
		srv, _ := testAdmin(t, breakers)

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var report telemetry.HealthReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		assert.Equal(t, telemetry.StatusHealthy, report.Status)

		// An open breaker degrades but still answers 200.
		breakers.Get("ddi").RecordFailure()
		resp2, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp2.Body.Close()
		assert.Equal(t, http.StatusOK, resp2.StatusCode)

		require.NoError(t, json.NewDecoder(resp2.Body).Decode(&report))
		assert.Equal(t, telemetry.StatusDegraded, report.Status)
	})

	t.Run("unhealthy answers 503", func(t *testing.T) {
		srv, collector := testAdmin(t, nil)
		for i := 0; i < 100; i++ {
			collector.Window().Record(i >= 30)
		}

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var report telemetry.HealthReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		assert.Equal(t, telemetry.StatusUnhealthy, report.Status)
		assert.NotEmpty(t, report.Issues)
	})
}
