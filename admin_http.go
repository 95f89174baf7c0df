package synapse

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter builds the operator-facing HTTP surface: health, readiness,
// and a Prometheus /metrics scrape endpoint (spec §9). Grounded on
// 2lar-b2's chi router (RequestID/Recoverer middleware, /health and /ready
// handlers) scoped down to the health/metrics concerns SPEC_FULL.md names —
// this is an admin surface, not the MCP tool transport (cmd/synapse-mcp
// owns that).
func (s *Synapse) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Synapse) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

type readyResponse struct {
	Status          string `json:"status"`
	PendingJobs     int    `json:"pending_coactivation_jobs,omitempty"`
	MetadataBackend string `json:"metadata_backend"`
	CheckedAt       string `json:"checked_at"`
}

// handleReadyz confirms the metadata store answers before declaring the
// service ready — a health check that always returns 200 hides a dead DB
// connection from the load balancer until the first real request fails.
func (s *Synapse) handleReadyz(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.PendingJobCount()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{
			Status:          "unavailable",
			MetadataBackend: string(s.config.MetadataBackend),
			CheckedAt:       time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{
		Status:          "ready",
		PendingJobs:     n,
		MetadataBackend: string(s.config.MetadataBackend),
		CheckedAt:       time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
