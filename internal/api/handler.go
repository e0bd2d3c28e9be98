// Package api exposes registration, profile and history lookups and a
// manual trigger for the mail cycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/pipeline"
	"github.com/nhle/mailmate/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// CycleRunner runs one mail cycle on demand.
type CycleRunner interface {
	RunNow(ctx context.Context) (pipeline.CycleReport, error)
}

// Handler serves the API routes.
type Handler struct {
	store  store.Store
	cycles CycleRunner
	log    *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(s store.Store, cycles CycleRunner, log *zap.Logger) *Handler {
	return &Handler{
		store:  s,
		cycles: cycles,
		log:    log.With(zap.String("component", "api")),
	}
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Index reports that the service is up.
//
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "running",
		Message: "Emotional Support Bot API",
	})
}

// Healthz checks that the store is reachable.
//
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{
			Status:  "unavailable",
			Message: "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "database reachable"})
}

// NotFound handles unknown routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "resource not found")
}

// MethodNotAllowed handles known routes with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}
