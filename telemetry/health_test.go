package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/bloxgate/resilience"
)

func TestHealthHealthyByDefault(t *testing.T) {
	c := NewCollector()
	h := NewHealthEvaluator(c, resilience.NewBreakerGroup(5, time.Minute, nil), nil, 0)

	report := h.Evaluate()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Issues)
	assert.GreaterOrEqual(t, report.UptimeSeconds, float64(0))
}

func TestHealthDegradedOnOpenBreaker(t *testing.T) {
	c := NewCollector()
	breakers := resilience.NewBreakerGroup(1, time.Minute, nil)
	breakers.Get("ddi").RecordFailure()

	h := NewHealthEvaluator(c, breakers, nil, 0)
	report := h.Evaluate()

	assert.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "ddi")
	require.Len(t, report.Breakers, 1)
	assert.Equal(t, "open", report.Breakers[0].State)
}

func TestHealthDegradedOnHalfOpenBreaker(t *testing.T) {
	c := NewCollector()
	breakers := resilience.NewBreakerGroup(1, 10*time.Millisecond, nil)
	cb := breakers.Get("atcfw")
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())

	h := NewHealthEvaluator(c, breakers, nil, 0)
	report := h.Evaluate()

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Issues[0], "half-open")
}

func TestHealthErrorRateBands(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		total    int
		want     string
	}{
		{"quiet", 0, 100, StatusHealthy},
		{"elevated", 10, 100, StatusDegraded},
		{"broken", 30, 100, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector()
			for i := 0; i < tt.total; i++ {
				c.Window().Record(i >= tt.failures)
			}

			h := NewHealthEvaluator(c, nil, nil, 0)
			report := h.Evaluate()
			assert.Equal(t, tt.want, report.Status)
			assert.InDelta(t, float64(tt.failures)/float64(tt.total), report.Metrics["error_rate_5m"], 0.001)
		})
	}
}

func TestHealthCacheHitRateFloor(t *testing.T) {
	c := NewCollector()
	stats := resilience.CacheStats{Hits: 1, Misses: 9, Entries: 10}

	h := NewHealthEvaluator(c, nil, func() resilience.CacheStats { return stats }, 0.5)
	report := h.Evaluate()

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Issues[0], "cache hit rate")
	assert.InDelta(t, 0.1, report.Metrics["cache_hit_rate"], 0.001)

	// No lookups yet: the floor does not apply.
	stats = resilience.CacheStats{}
	report = h.Evaluate()
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestHealthWorstConditionWins(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 100; i++ {
		c.Window().Record(i >= 30)
	}
	breakers := resilience.NewBreakerGroup(1, time.Minute, nil)
	breakers.Get("ddi").RecordFailure()

	h := NewHealthEvaluator(c, breakers, nil, 0)
	report := h.Evaluate()

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Len(t, report.Issues, 2)
}
