package handlers

import (
	"encoding/json"
	"net/http"
)

type contextKey string

// userIDKey carries the authenticated user's ID through the request context.
const userIDKey contextKey = "user_id"

func userIDFromRequest(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(userIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
