// Package testbed hosts the demo stack loadrelay runs against when no real
// target exists: a small product/order API with failure injection, plus the
// alert-ingestion endpoint that assigns incident IDs and persists alerts.
package testbed

import (
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/alert"
)

// FailureMode is the operator-injected degradation applied to target routes.
type FailureMode struct {
	ErrorRatePercent int           `json:"error_rate_percent"`
	ExtraLatency     time.Duration `json:"-"`
	ExtraLatencyMs   int           `json:"extra_latency_ms"`
}

// Server is the demo target API plus alert intake.
type Server struct {
	store  *IncidentStore
	logger *zap.Logger

	mu      sync.Mutex
	failure FailureMode
	orders  int64

	products []product
}

type product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// NewServer wires the testbed around an incident store.
func NewServer(store *IncidentStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:  store,
		logger: logger,
		products: []product{
			{ID: 1, Name: "widget", Price: 9.99},
			{ID: 2, Name: "gadget", Price: 24.50},
			{ID: 3, Name: "doohickey", Price: 3.75},
		},
	}
}

// Router builds the chi route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/api/products", s.handleListProducts)
	r.Get("/api/products/{id}", s.handleGetProduct)
	r.Post("/api/orders", s.handleCreateOrder)

	// Debug routes used by incident-simulation activities and operators.
	r.Get("/api/debug/error", s.handleDebugError)
	r.Get("/api/debug/slow-query", s.handleDebugSlowQuery)
	r.Post("/api/debug/load", s.handleDebugLoad)
	r.Post("/api/debug/failure", s.handleSetFailure)

	// Alert intake, mirrored from the incident orchestrator's contract.
	r.Post("/api/alert", s.handleAlertIntake)
	r.Get("/api/incidents", s.handleListIncidents)
	r.Get("/api/incidents/{id}", s.handleGetIncident)
	r.Get("/api/incidents/summary", s.handleIncidentSummary)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// applyFailure enforces the injected failure mode. Returns true when the
// request was already answered with an injected error.
func (s *Server) applyFailure(w http.ResponseWriter) bool {
	s.mu.Lock()
	mode := s.failure
	s.mu.Unlock()

	if mode.ExtraLatency > 0 {
		time.Sleep(mode.ExtraLatency)
	}
	if mode.ErrorRatePercent > 0 && rand.Intn(100) < mode.ErrorRatePercent {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected_failure"})
		return true
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if s.applyFailure(w) {
		return
	}
	if q := r.URL.Query().Get("q"); q != "" {
		var matched []product
		for _, p := range s.products {
			if p.Name == q {
				matched = append(matched, p)
			}
		}
		s.writeJSON(w, http.StatusOK, matched)
		return
	}
	s.writeJSON(w, http.StatusOK, s.products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	if s.applyFailure(w) {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_product_id"})
		return
	}
	for _, p := range s.products {
		if p.ID == id {
			s.writeJSON(w, http.StatusOK, p)
			return
		}
	}
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "product_not_found"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if s.applyFailure(w) {
		return
	}
	var req struct {
		ProductID int `json:"product_id"`
		Quantity  int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json_body"})
		return
	}
	if req.ProductID < 1 || req.Quantity < 1 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_order"})
		return
	}

	s.mu.Lock()
	s.orders++
	orderID := s.orders
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order_id":   orderID,
		"product_id": req.ProductID,
		"quantity":   req.Quantity,
	})
}

// handleDebugError always fails, giving error-burst activities a reliable
// non-2xx to record.
func (s *Server) handleDebugError(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "simulated_error"})
}

func (s *Server) handleDebugSlowQuery(w http.ResponseWriter, r *http.Request) {
	time.Sleep(150 * time.Millisecond)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "query_completed"})
}

func (s *Server) handleDebugLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json_body"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "load_simulated", "kind": req.Kind})
}

func (s *Server) handleSetFailure(w http.ResponseWriter, r *http.Request) {
	var mode FailureMode
	if err := json.NewDecoder(r.Body).Decode(&mode); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json_body"})
		return
	}
	mode.ExtraLatency = time.Duration(mode.ExtraLatencyMs) * time.Millisecond

	s.mu.Lock()
	s.failure = mode
	s.mu.Unlock()

	s.logger.Info("failure mode updated",
		zap.Int("error_rate_percent", mode.ErrorRatePercent),
		zap.Duration("extra_latency", mode.ExtraLatency))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "failure_mode_set"})
}

// handleAlertIntake accepts one alert candidate, assigns an incident ID,
// and persists it. The response shape is what the relay's deliverer expects.
func (s *Server) handleAlertIntake(w http.ResponseWriter, r *http.Request) {
	var c alert.Candidate
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid_json_body",
		})
		return
	}
	if c.Title == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "missing_title",
		})
		return
	}

	incidentID := uuid.NewString()
	if err := s.store.SaveAlert(r.Context(), incidentID, c); err != nil {
		s.logger.Error("failed to persist alert", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "storage_failure",
		})
		return
	}

	s.logger.Info("alert ingested",
		zap.String("incident_id", incidentID),
		zap.String("title", c.Title),
		zap.String("severity", string(c.Severity)))

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"incident_id": incidentID,
		"message":     "Alert processed successfully",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	incidents, err := s.store.ListIncidents(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list incidents", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_failure"})
		return
	}
	if incidents == nil {
		incidents = []*Incident{}
	}
	s.writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, err := s.store.GetIncident(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident_not_found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to load incident", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_failure"})
		return
	}
	s.writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleIncidentSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountBySeverity(r.Context())
	if err != nil {
		s.logger.Error("failed to summarize incidents", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_failure"})
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}
