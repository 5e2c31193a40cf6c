package telemetry

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWritePrometheusCounters(t *testing.T) {
	c := NewCollector()
	c.IncrCounter("rpc_requests_total", map[string]string{"tool": "list_subnets", "status": "success"}, 3)
	c.IncrCounter("cache_hits_total", map[string]string{"tool": "list_subnets"}, 1)

	var buf bytes.Buffer
	WritePrometheus(&buf, c.Snapshot())
	out := buf.String()

	assert.Contains(t, out, "# HELP mcp_rpc_requests_total Total RPC tool calls by tool and status\n")
	assert.Contains(t, out, "# TYPE mcp_rpc_requests_total counter\n")
	assert.Contains(t, out, `mcp_rpc_requests_total{status="success",tool="list_subnets"} 3`)
	assert.Contains(t, out, `mcp_cache_hits_total{tool="list_subnets"} 1`)
}

func TestWritePrometheusGauges(t *testing.T) {
	c := NewCollector()
	c.SetGauge("circuit_breaker_state", map[string]string{"service": "ddi"}, 0.5)
	c.SetGauge("cache_entries", nil, 12)

	var buf bytes.Buffer
	WritePrometheus(&buf, c.Snapshot())
	out := buf.String()

	assert.Contains(t, out, "# TYPE mcp_circuit_breaker_state gauge\n")
	assert.Contains(t, out, `mcp_circuit_breaker_state{service="ddi"} 0.5`)
	assert.Contains(t, out, "mcp_cache_entries 12\n")
	assert.Contains(t, out, "mcp_uptime_seconds")
}

func TestWritePrometheusHistograms(t *testing.T) {
	c := NewCollector()
	c.ObserveUpstream("ddi", "/api/ddi/v1/ipam/subnet", 200, 25*time.Millisecond)

	var buf bytes.Buffer
	WritePrometheus(&buf, c.Snapshot())
	out := buf.String()

	assert.Contains(t, out, "# TYPE mcp_upstream_request_duration_ms gauge\n")
	assert.Contains(t, out, `mcp_upstream_request_duration_ms_count{path="/api/ddi/v1/ipam/subnet",service="ddi"} 1`)
	assert.Contains(t, out, `mcp_upstream_request_duration_ms_p95{path="/api/ddi/v1/ipam/subnet",service="ddi"} 25`)
}

func TestWritePrometheusAllLinesPrefixed(t *testing.T) {
	c := NewCollector()
	c.IncrCounter("rpc_requests_total", map[string]string{"tool": "x", "status": "success"}, 1)
	c.Observe("rpc_request_duration_ms", map[string]string{"tool": "x"}, 5)

	var buf bytes.Buffer
	WritePrometheus(&buf, c.Snapshot())

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		assert.True(t, strings.HasPrefix(line, metricPrefix), "unprefixed series line: %s", line)
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3", formatValue(3))
	assert.Equal(t, "0.5", formatValue(0.5))
	assert.Equal(t, "0", formatValue(0))
}
