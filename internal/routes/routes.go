package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/driftsync/driftsync-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(
	auth *handlers.AuthHandler,
	jobs *handlers.JobHandler,
	connections *handlers.ConnectionHandler,
	executions *handlers.ExecutionHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)

	// Everything below requires a valid token.
	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	api.HandleFunc("/connections", connections.List).Methods(http.MethodGet)
	api.HandleFunc("/connections", connections.Create).Methods(http.MethodPost)
	api.HandleFunc("/connections/{connID}", connections.Get).Methods(http.MethodGet)
	api.HandleFunc("/connections/{connID}", connections.Update).Methods(http.MethodPut)
	api.HandleFunc("/connections/{connID}", connections.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{connID}/test", connections.Test).Methods(http.MethodPost)

	api.HandleFunc("/jobs", jobs.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", jobs.CreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}", jobs.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", jobs.UpdateJob).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{jobID}", jobs.DeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{jobID}/run", jobs.RunJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/pause", jobs.PauseJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/resume", jobs.ResumeJob).Methods(http.MethodPost)

	api.HandleFunc("/executions", executions.ListExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/stats", executions.GetExecutionStats).Methods(http.MethodGet)
	api.HandleFunc("/executions/cleanup", executions.CleanupExecutions).Methods(http.MethodPost)
	api.HandleFunc("/executions/{execID}", executions.GetExecution).Methods(http.MethodGet)
	api.HandleFunc("/executions/{execID}/status", executions.GetTaskStatus).Methods(http.MethodGet)
	api.HandleFunc("/executions/{execID}/cancel", executions.CancelExecution).Methods(http.MethodPost)
	api.HandleFunc("/executions/{execID}/progress", executions.StreamProgress).Methods(http.MethodGet)

	return router
}
