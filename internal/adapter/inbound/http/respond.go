package http

import (
	"context"
	"encoding/json"
	"net/http"
)

// respondJSON writes a JSON response with the given status code.
func respondJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		LoggerFromContext(ctx).Error("failed to encode JSON response", "error", err)
	}
}

// respondFieldErrors writes the {"errors": {...}} body the sign-in form reads.
func respondFieldErrors(ctx context.Context, w http.ResponseWriter, status int, fields map[string]string) {
	respondJSON(ctx, w, status, map[string]any{"errors": fields})
}

// respondError writes {"error": message}.
func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, map[string]string{"error": message})
}
