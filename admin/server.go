package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/telemetry"
)

// Server is the operational HTTP surface, served on its own port so
// scrapers and probes never contend with RPC traffic.
type Server struct {
	collector *telemetry.Collector
	health    *telemetry.HealthEvaluator
	logger    core.Logger
	// refresh runs before each metrics read so derived gauges (cache
	// stats, session counts) are current at scrape time.
	refresh func(*telemetry.Collector)
}

// NewServer wires the admin surface to its data sources. refresh may be nil.
func NewServer(collector *telemetry.Collector, health *telemetry.HealthEvaluator, refresh func(*telemetry.Collector), logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Server{
		collector: collector,
		health:    health,
		logger:    logger,
		refresh:   refresh,
	}
}

// Routes returns the admin listener's mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/json", s.handleMetricsJSON)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":        "bloxgate",
		"uptime_seconds": time.Since(s.collector.StartTime()).Seconds(),
		"endpoints": []string{
			"/metrics",
			"/metrics/json",
			"/health",
		},
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.refresh != nil {
		s.refresh(s.collector)
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	telemetry.WritePrometheus(w, s.collector.Snapshot())
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if s.refresh != nil {
		s.refresh(s.collector)
	}
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

// handleHealth answers 200 for healthy and degraded, 503 for unhealthy, so
// orchestrator probes only evict a replica that genuinely cannot serve.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Evaluate()
	status := http.StatusOK
	if report.Status == telemetry.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
