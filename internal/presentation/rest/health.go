package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	pkgpostgres "github.com/bibbank/impairment-engine/pkg/postgres"
)

const serviceName = "impairment-engine"

// ModelStatus reports whether the PD model artifact is available.
type ModelStatus interface {
	Loaded() bool
}

// HealthHandler serves liveness, readiness and metrics over HTTP.
type HealthHandler struct {
	db      pkgpostgres.Pinger
	model   ModelStatus
	metrics http.Handler
	logger  *slog.Logger
}

// NewHealthHandler creates a health check HTTP handler. model and metrics may be nil.
func NewHealthHandler(db pkgpostgres.Pinger, model ModelStatus, metrics http.Handler, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, model: model, metrics: metrics, logger: logger}
}

// RegisterRoutes attaches health-check and metrics routes to the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.liveness)
	mux.HandleFunc("GET /readyz", h.readiness)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{
		"service":  serviceName,
		"database": "ok",
	}
	if h.model != nil {
		// A missing model degrades scoring to the default PD; it does not make the service unready.
		body["pd_model"] = "default"
		if h.model.Loaded() {
			body["pd_model"] = "loaded"
		}
	}

	if err := pkgpostgres.HealthCheck(ctx, h.db); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		body["status"] = "unavailable"
		body["database"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "ready"
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}
