package telemetry

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// metricPrefix namespaces every exposed metric.
const metricPrefix = "mcp_"

// WritePrometheus renders the snapshot in the Prometheus text exposition
// format (version 0.0.4): # HELP and # TYPE lines per family, then one line
// per series. Histograms expose their computed summary stats as suffixed
// gauges rather than bucket series.
func WritePrometheus(w io.Writer, snap Snapshot) {
	writeFamily(w, groupSeries(snap.Counters), "counter")
	writeFamily(w, groupSeries(snap.Gauges), "gauge")

	families := map[string][]HistogramValue{}
	var names []string
	for _, h := range snap.Histograms {
		if _, seen := families[h.Name]; !seen {
			names = append(names, h.Name)
		}
		families[h.Name] = append(families[h.Name], h)
	}
	sort.Strings(names)
	for _, name := range names {
		full := metricPrefix + name
		fmt.Fprintf(w, "# HELP %s Latency summary over the last %d samples\n", full, maxSamples)
		fmt.Fprintf(w, "# TYPE %s gauge\n", full)
		for _, h := range families[name] {
			labels := formatLabels(h.Labels)
			fmt.Fprintf(w, "%s_count%s %d\n", full, labels, h.Stats.Count)
			fmt.Fprintf(w, "%s_min%s %s\n", full, labels, formatValue(h.Stats.Min))
			fmt.Fprintf(w, "%s_max%s %s\n", full, labels, formatValue(h.Stats.Max))
			fmt.Fprintf(w, "%s_avg%s %s\n", full, labels, formatValue(h.Stats.Avg))
			fmt.Fprintf(w, "%s_p50%s %s\n", full, labels, formatValue(h.Stats.P50))
			fmt.Fprintf(w, "%s_p95%s %s\n", full, labels, formatValue(h.Stats.P95))
			fmt.Fprintf(w, "%s_p99%s %s\n", full, labels, formatValue(h.Stats.P99))
		}
	}
}

func groupSeries(series []SeriesValue) map[string][]SeriesValue {
	out := map[string][]SeriesValue{}
	for _, s := range series {
		out[s.Name] = append(out[s.Name], s)
	}
	return out
}

func writeFamily(w io.Writer, families map[string][]SeriesValue, kind string) {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		full := metricPrefix + name
		fmt.Fprintf(w, "# HELP %s %s\n", full, helpText(name))
		fmt.Fprintf(w, "# TYPE %s %s\n", full, kind)
		for _, s := range families[name] {
			fmt.Fprintf(w, "%s%s %s\n", full, formatLabels(s.Labels), formatValue(s.Value))
		}
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

var helpTexts = map[string]string{
	"rpc_requests_total":         "Total RPC tool calls by tool and status",
	"rpc_errors_total":           "Total RPC tool call errors by tool and error kind",
	"cache_hits_total":           "Cache hits by tool",
	"cache_misses_total":         "Cache misses by tool",
	"circuit_breaker_open_total": "Times a circuit breaker opened, by service",
	"circuit_breaker_state":      "Circuit breaker state: 0 closed, 0.5 half-open, 1 open",
	"cache_hit_rate":             "Fraction of cache-eligible calls served from cache",
	"cache_entries":              "Current cache entry count",
	"uptime_seconds":             "Seconds since process start",
	"active_sessions":            "Currently open RPC sessions",
}

func helpText(name string) string {
	if h, ok := helpTexts[name]; ok {
		return h
	}
	return name
}
