package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// serviceError maps domain errors so clients can tell bad input from an
// unavailable backend.
func serviceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidConfig):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "not found")
	case errors.Is(err, models.ErrStoreUnavailable):
		logger.Error("Backend unavailable", zap.Error(err))
		httpError(w, http.StatusServiceUnavailable, "backend_unavailable", "%v", err)
	default:
		logger.Error("Request failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}
