package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Subhi2911/LilYapper-backend/internal/auth"
	"github.com/Subhi2911/LilYapper-backend/internal/chat"
	"github.com/Subhi2911/LilYapper-backend/internal/middleware"
)

// writeError maps engine errors onto the HTTP error envelope.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		middleware.WriteJSONError(w, err.Error(), "UNAUTHORIZED", http.StatusUnauthorized)
	case errors.Is(err, chat.ErrForbidden):
		middleware.WriteJSONError(w, err.Error(), "FORBIDDEN", http.StatusForbidden)
	case errors.Is(err, chat.ErrNotFound):
		middleware.WriteJSONError(w, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, chat.ErrInvalidArgument):
		middleware.WriteJSONError(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
	case errors.Is(err, chat.ErrConflict):
		middleware.WriteJSONError(w, err.Error(), "CONFLICT", http.StatusConflict)
	default:
		slog.Error("Internal server error", "error", err)
		middleware.WriteJSONError(w, "Internal server error", "INTERNAL", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteJSONError(w, "Invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return false
	}
	return true
}

// caller returns the authenticated identity, writing a 401 when absent.
func caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		middleware.WriteJSONError(w, "Not authenticated", "UNAUTHORIZED", http.StatusUnauthorized)
	}
	return id, ok
}
