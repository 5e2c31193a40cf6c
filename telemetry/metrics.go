package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/bloxgate/resilience"
)

// maxSamples is how many latency samples each histogram retains. Percentiles
// are computed over this window at read time.
const maxSamples = 1000

type counter struct {
	name   string
	labels map[string]string
	value  float64
}

type gauge struct {
	name   string
	labels map[string]string
	value  float64
	fn     func() float64 // when set, evaluated at snapshot time
}

type histogram struct {
	name    string
	labels  map[string]string
	samples []float64 // ring buffer
	next    int
	full    bool
	count   int64
	sum     float64
}

func (h *histogram) observe(v float64) {
	if len(h.samples) < maxSamples {
		h.samples = append(h.samples, v)
	} else {
		h.samples[h.next] = v
		h.next = (h.next + 1) % maxSamples
		h.full = true
	}
	h.count++
	h.sum += v
}

// HistogramStats summarizes one histogram's recent samples.
type HistogramStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

func (h *histogram) stats() HistogramStats {
	out := HistogramStats{Count: h.count}
	if len(h.samples) == 0 {
		return out
	}
	sorted := make([]float64, len(h.samples))
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	out.Min = sorted[0]
	out.Max = sorted[len(sorted)-1]
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	out.Avg = sum / float64(len(sorted))
	out.P50 = percentile(sorted, 0.50)
	out.P95 = percentile(sorted, 0.95)
	out.P99 = percentile(sorted, 0.99)
	return out
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Collector is the process-wide metrics register: counters, gauges, and
// last-N histograms, keyed by name and label set, created lazily on first
// observation. It also implements the resilience pipeline's Observer.
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]*counter
	gauges     map[string]*gauge
	histograms map[string]*histogram
	startTime  time.Time

	window *RollingWindow
}

// NewCollector creates an empty collector. The rolling window backs the
// health evaluator's 5-minute error rate.
func NewCollector() *Collector {
	c := &Collector{
		counters:   make(map[string]*counter),
		gauges:     make(map[string]*gauge),
		histograms: make(map[string]*histogram),
		startTime:  time.Now(),
		window:     NewRollingWindow(5 * time.Minute),
	}
	c.RegisterGaugeFunc("uptime_seconds", nil, func() float64 {
		return time.Since(c.startTime).Seconds()
	})
	return c
}

// Window exposes the error-rate window for the health evaluator.
func (c *Collector) Window() *RollingWindow { return c.window }

// StartTime returns when the collector was created (process start for all
// practical purposes).
func (c *Collector) StartTime() time.Time { return c.startTime }

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// IncrCounter adds delta to a counter, creating it on first use.
func (c *Collector) IncrCounter(name string, labels map[string]string, delta float64) {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	cnt, ok := c.counters[key]
	if !ok {
		cnt = &counter{name: name, labels: labels}
		c.counters[key] = cnt
	}
	cnt.value += delta
}

// SetGauge sets a gauge to a value.
func (c *Collector) SetGauge(name string, labels map[string]string, value float64) {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gauges[key]
	if !ok {
		g = &gauge{name: name, labels: labels}
		c.gauges[key] = g
	}
	g.value = value
	g.fn = nil
}

// RegisterGaugeFunc installs a gauge whose value is computed at read time.
func (c *Collector) RegisterGaugeFunc(name string, labels map[string]string, fn func() float64) {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key] = &gauge{name: name, labels: labels, fn: fn}
}

// Observe records one histogram sample.
func (c *Collector) Observe(name string, labels map[string]string, value float64) {
	key := seriesKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histograms[key]
	if !ok {
		h = &histogram{name: name, labels: labels}
		c.histograms[key] = h
	}
	h.observe(value)
}

// ObserveCall implements resilience.Observer. The RPC request counters come
// from the transport via ObserveRPC; pipeline outcomes only feed the
// error-rate window backing the health evaluator.
func (c *Collector) ObserveCall(tool, service, outcome string, cached bool, duration time.Duration) {
	// Cancellations say nothing about upstream health.
	if outcome != "canceled" {
		c.window.Record(outcome == "success")
	}
}

// ObserveRPC records one call_tool request as seen by the transport. An empty
// errorKind means success; otherwise it is the kind serialized into the error
// frame, so client faults like SchemaViolation and UnknownTool are counted
// even though they never reach the upstream pipeline.
func (c *Collector) ObserveRPC(tool, errorKind string, duration time.Duration) {
	status := "success"
	if errorKind != "" {
		status = "error"
		c.IncrCounter("rpc_errors_total", map[string]string{"tool": tool, "error_kind": errorKind}, 1)
	}
	c.IncrCounter("rpc_requests_total", map[string]string{"tool": tool, "status": status}, 1)
	c.Observe("rpc_request_duration_ms", map[string]string{"tool": tool}, float64(duration.Milliseconds()))
}

// ObserveRetry implements resilience.Observer.
func (c *Collector) ObserveRetry(tool, service string) {
	c.IncrCounter("api_retries_total", map[string]string{"tool": tool, "service": service}, 1)
}

// ObserveCache implements resilience.Observer.
func (c *Collector) ObserveCache(tool string, hit bool) {
	if hit {
		c.IncrCounter("cache_hits_total", map[string]string{"tool": tool}, 1)
	} else {
		c.IncrCounter("cache_misses_total", map[string]string{"tool": tool}, 1)
	}
}

// ObserveUpstream records one upstream HTTP request.
func (c *Collector) ObserveUpstream(service, path string, status int, duration time.Duration) {
	c.Observe("upstream_request_duration_ms", map[string]string{"service": service, "path": path}, float64(duration.Milliseconds()))
}

// BreakerListener returns a state-change listener that keeps the breaker
// gauges and counters current.
func (c *Collector) BreakerListener() resilience.StateChangeListener {
	return func(name string, from, to resilience.BreakerState) {
		c.SetGauge("circuit_breaker_state", map[string]string{"service": name}, breakerGaugeValue(to))
		if to == resilience.StateOpen {
			c.IncrCounter("circuit_breaker_open_total", map[string]string{"service": name}, 1)
		}
	}
}

// Gauge convention: 0 closed, 0.5 half-open, 1 open.
func breakerGaugeValue(s resilience.BreakerState) float64 {
	switch s {
	case resilience.StateOpen:
		return 1
	case resilience.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// Snapshot is a point-in-time copy of every register, for the JSON admin
// endpoint and the health evaluator.
type Snapshot struct {
	Counters   []SeriesValue    `json:"counters"`
	Gauges     []SeriesValue    `json:"gauges"`
	Histograms []HistogramValue `json:"histograms"`
}

type SeriesValue struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type HistogramValue struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Stats  HistogramStats    `json:"stats"`
}

// Snapshot copies all series. Gauge functions are evaluated here.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{}
	for _, cnt := range c.counters {
		snap.Counters = append(snap.Counters, SeriesValue{Name: cnt.name, Labels: cnt.labels, Value: cnt.value})
	}
	for _, g := range c.gauges {
		v := g.value
		if g.fn != nil {
			v = g.fn()
		}
		snap.Gauges = append(snap.Gauges, SeriesValue{Name: g.name, Labels: g.labels, Value: v})
	}
	for _, h := range c.histograms {
		snap.Histograms = append(snap.Histograms, HistogramValue{Name: h.name, Labels: h.labels, Stats: h.stats()})
	}

	sortSeries(snap.Counters)
	sortSeries(snap.Gauges)
	sort.Slice(snap.Histograms, func(i, j int) bool {
		return seriesKey(snap.Histograms[i].Name, snap.Histograms[i].Labels) < seriesKey(snap.Histograms[j].Name, snap.Histograms[j].Labels)
	})
	return snap
}

func sortSeries(s []SeriesValue) {
	sort.Slice(s, func(i, j int) bool {
		return seriesKey(s[i].Name, s[i].Labels) < seriesKey(s[j].Name, s[j].Labels)
	})
}

// CounterValue returns the current value of one counter series, mainly for
// tests and the health evaluator.
func (c *Collector) CounterValue(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cnt, ok := c.counters[seriesKey(name, labels)]; ok {
		return cnt.value
	}
	return 0
}

// GaugeValue returns the current value of one gauge series.
func (c *Collector) GaugeValue(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if g, ok := c.gauges[seriesKey(name, labels)]; ok {
		if g.fn != nil {
			return g.fn()
		}
		return g.value
	}
	return 0
}
