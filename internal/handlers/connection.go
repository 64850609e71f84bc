package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/driftsync/driftsync-api/internal/repository"
)

type ConnectionHandler struct {
	repo   repository.ConnectionRepository
	logger zerolog.Logger
}

func NewConnectionHandler(repo repository.ConnectionRepository, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{repo: repo, logger: logger}
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	connections, err := h.repo.List(r.Context())
	if err != nil {
		http.Error(w, "Failed to list connections: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, connections)
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	conn, err := h.repo.Get(r.Context(), mux.Vars(r)["connID"])
	if err != nil {
		http.Error(w, "Failed to get connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if conn == nil {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if conn.Name == "" || conn.Host == "" || conn.Username == "" || conn.DBName == "" {
		http.Error(w, "name, host, username and db_name are required", http.StatusBadRequest)
		return
	}
	if conn.Port == 0 {
		conn.Port = 5432
	}
	if conn.Status == "" {
		conn.Status = "untested"
	}
	created, err := h.repo.Create(r.Context(), &conn)
	if err != nil {
		http.Error(w, "Failed to create connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ConnectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	conn.ID = mux.Vars(r)["connID"]
	updated, err := h.repo.Update(r.Context(), &conn)
	if err != nil {
		http.Error(w, "Failed to update connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), mux.Vars(r)["connID"]); err != nil {
		http.Error(w, "Failed to delete connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test opens the connection with the stored credentials and records the
// outcome in the status column.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	connID := mux.Vars(r)["connID"]
	conn, err := h.repo.GetWithPassword(r.Context(), connID)
	if err != nil {
		http.Error(w, "Failed to get connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if conn == nil {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}

	status := "valid"
	var pingErr string
	db, err := sql.Open("postgres", conn.DSN())
	if err == nil {
		err = db.PingContext(r.Context())
		db.Close()
	}
	if err != nil {
		status = "invalid"
		pingErr = err.Error()
		h.logger.Warn().Err(err).Str("connection_id", connID).Msg("connection test failed")
	}
	if err := h.repo.UpdateStatus(r.Context(), connID, status); err != nil {
		http.Error(w, "Failed to update connection status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "error": pingErr})
}
