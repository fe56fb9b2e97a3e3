package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/gateway"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/model"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          "healthy",
		ModelConfigured: s.modelEndpoint != "",
		Modes:           model.ModeKeys(),
		Time:            time.Now().UTC().Format(time.RFC3339),
	})
}

// modesHandler returns the available inference modes and upload limits.
func (s *Server) modesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, ModesResponse{
		Modes:         model.Modes(),
		DefaultPrompt: s.defaultPrompt,
		MaxImageMB:    s.maxUploadMB,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Message: message})
}

// writeError maps an application error to a status code and JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var vErr *gateway.ValidationError
	var mErr *model.Error
	var nfErr *history.NotFoundError

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: vErr.Message})
	case errors.As(err, &mErr):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Message: "model inference failed",
			Detail:  mErr.Error(),
		})
	case errors.As(err, &nfErr):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: nfErr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Message: "internal server error",
			Detail:  err.Error(),
		})
	}
}
