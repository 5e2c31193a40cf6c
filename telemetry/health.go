package telemetry

import (
	"fmt"
	"time"

	"github.com/itsneelabh/bloxgate/resilience"
)

// Health status values, ordered by severity.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Error-rate thresholds over the 5-minute window.
const (
	degradedErrorRate  = 0.05
	unhealthyErrorRate = 0.25
	openTooLong        = 60 * time.Second
)

// HealthReport is the body of the /health endpoint.
type HealthReport struct {
	Status        string                   `json:"status"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Issues        []string                 `json:"issues"`
	Metrics       map[string]interface{}   `json:"metrics"`
	Breakers      []resilience.BreakerStats `json:"circuit_breakers"`
}

// HealthEvaluator derives a status from the metric registers and breaker
// states.
type HealthEvaluator struct {
	collector *Collector
	breakers  *resilience.BreakerGroup
	cacheFn   func() resilience.CacheStats
	// hitRateFloor marks the cache hit rate below which the gateway is
	// degraded. Zero disables the check.
	hitRateFloor float64
}

// NewHealthEvaluator wires the evaluator to its data sources. cacheFn may be
// nil when caching is disabled.
func NewHealthEvaluator(collector *Collector, breakers *resilience.BreakerGroup, cacheFn func() resilience.CacheStats, hitRateFloor float64) *HealthEvaluator {
	return &HealthEvaluator{
		collector:    collector,
		breakers:     breakers,
		cacheFn:      cacheFn,
		hitRateFloor: hitRateFloor,
	}
}

// Evaluate computes the current health. Severity escalates; the worst
// contributing condition wins.
func (h *HealthEvaluator) Evaluate() HealthReport {
	report := HealthReport{
		Status:        StatusHealthy,
		UptimeSeconds: time.Since(h.collector.StartTime()).Seconds(),
		Issues:        []string{},
		Metrics:       map[string]interface{}{},
	}

	errorRate, total := h.collector.Window().ErrorRate()
	report.Metrics["error_rate_5m"] = errorRate
	report.Metrics["calls_5m"] = total

	degrade := func(issue string) {
		report.Issues = append(report.Issues, issue)
		if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}
	fail := func(issue string) {
		report.Issues = append(report.Issues, issue)
		report.Status = StatusUnhealthy
	}

	if h.breakers != nil {
		report.Breakers = h.breakers.All()
		for _, b := range report.Breakers {
			switch b.State {
			case "open":
				if b.InStateSeconds > openTooLong.Seconds() {
					fail(fmt.Sprintf("circuit breaker %s open for %.0fs", b.Name, b.InStateSeconds))
				} else {
					degrade(fmt.Sprintf("circuit breaker %s open", b.Name))
				}
			case "half_open":
				degrade(fmt.Sprintf("circuit breaker %s half-open", b.Name))
			}
		}
	}

	if errorRate >= unhealthyErrorRate {
		fail(fmt.Sprintf("error rate %.1f%% over last 5m", errorRate*100))
	} else if errorRate >= degradedErrorRate {
		degrade(fmt.Sprintf("elevated error rate %.1f%% over last 5m", errorRate*100))
	}

	if h.cacheFn != nil {
		stats := h.cacheFn()
		report.Metrics["cache_entries"] = stats.Entries
		hitRate := cacheHitRate(stats)
		report.Metrics["cache_hit_rate"] = hitRate
		if h.hitRateFloor > 0 && stats.Hits+stats.Misses > 0 && hitRate < h.hitRateFloor {
			degrade(fmt.Sprintf("cache hit rate %.1f%% below floor %.1f%%", hitRate*100, h.hitRateFloor*100))
		}
	}

	return report
}

func cacheHitRate(stats resilience.CacheStats) float64 {
	lookups := stats.Hits + stats.Misses
	if lookups == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(lookups)
}
