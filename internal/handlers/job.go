package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/driftsync/driftsync-api/internal/repository"
)

// JobScheduler is the slice of the scheduler the job handler needs.
type JobScheduler interface {
	EnsureSchedule(ctx context.Context, job *models.SyncJob) error
	RemoveSchedule(ctx context.Context, jobID string) error
	TriggerRun(ctx context.Context, jobID string) (string, error)
}

type JobHandler struct {
	repo      repository.JobRepository
	scheduler JobScheduler
	logger    zerolog.Logger
}

func NewJobHandler(repo repository.JobRepository, scheduler JobScheduler, logger zerolog.Logger) *JobHandler {
	return &JobHandler{repo: repo, scheduler: scheduler, logger: logger}
}

func validateJob(job *models.SyncJob) error {
	if job.Name == "" {
		return fmt.Errorf("name is required")
	}
	if job.SourceConnectionID == "" || job.DestinationConnectionID == "" {
		return fmt.Errorf("source and destination connections are required")
	}
	if job.SourceConnectionID == job.DestinationConnectionID {
		return fmt.Errorf("source and destination connections must differ")
	}
	if len(job.TargetTables) == 0 {
		return fmt.Errorf("at least one target table is required")
	}

	if job.SyncMode == "" {
		job.SyncMode = models.SyncModeFull
	}
	switch job.SyncMode {
	case models.SyncModeFull, models.SyncModeIncremental:
	default:
		return fmt.Errorf("invalid sync_mode %q", job.SyncMode)
	}

	if job.ConflictStrategy == "" {
		job.ConflictStrategy = models.ConflictError
	}
	switch job.ConflictStrategy {
	case models.ConflictError, models.ConflictSkip, models.ConflictReplace, models.ConflictIgnore:
	default:
		return fmt.Errorf("invalid conflict_strategy %q", job.ConflictStrategy)
	}

	if job.TransferMode == "" {
		job.TransferMode = models.TransferAuto
	}
	switch job.TransferMode {
	case models.TransferAuto, models.TransferBulk, models.TransferRow:
	default:
		return fmt.Errorf("invalid transfer_mode %q", job.TransferMode)
	}

	if job.ExecutionMode == "" {
		job.ExecutionMode = models.ExecutionModeImmediate
	}
	switch job.ExecutionMode {
	case models.ExecutionModeImmediate:
	case models.ExecutionModeScheduled:
		if job.CronExpression == "" {
			return fmt.Errorf("scheduled jobs require a cron_expression")
		}
	default:
		return fmt.Errorf("invalid execution_mode %q", job.ExecutionMode)
	}

	if job.Status == "" {
		job.Status = models.JobStatusActive
	}

	for i := range job.TargetTables {
		t := &job.TargetTables[i]
		if t.TableName == "" {
			return fmt.Errorf("target table %d: table_name is required", i)
		}
		if t.SchemaName == "" {
			t.SchemaName = "public"
		}
		if t.IncrementalStrategy == "" {
			t.IncrementalStrategy = models.IncrementalNone
		}
		switch t.IncrementalStrategy {
		case models.IncrementalNone:
		case models.IncrementalAutoID, models.IncrementalTimestamp:
			if t.IncrementalField == "" {
				return fmt.Errorf("table %s: %s requires incremental_field", t.TableName, t.IncrementalStrategy)
			}
		case models.IncrementalCustom:
			if t.CustomCondition == "" {
				return fmt.Errorf("table %s: custom_condition strategy requires a condition", t.TableName)
			}
		default:
			return fmt.Errorf("table %s: invalid incremental_strategy %q", t.TableName, t.IncrementalStrategy)
		}
	}
	return nil
}

func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var job models.SyncJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := validateJob(&job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.repo.CreateJob(r.Context(), &job)
	if err != nil {
		http.Error(w, "Failed to create job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.scheduler.EnsureSchedule(r.Context(), created); err != nil {
		h.logger.Error().Err(err).Str("job_id", created.ID).Msg("failed to register schedule")
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.repo.ListJobs(r.Context())
	if err != nil {
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.repo.GetJob(r.Context(), mux.Vars(r)["jobID"])
	if err != nil {
		http.Error(w, "Failed to get job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var job models.SyncJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	job.ID = mux.Vars(r)["jobID"]
	if err := validateJob(&job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	updated, err := h.repo.UpdateJob(r.Context(), &job)
	if err != nil {
		http.Error(w, "Failed to update job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.scheduler.EnsureSchedule(r.Context(), updated); err != nil {
		h.logger.Error().Err(err).Str("job_id", updated.ID).Msg("failed to update schedule")
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if err := h.scheduler.RemoveSchedule(r.Context(), jobID); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to remove schedule")
	}
	if err := h.repo.DeleteJob(r.Context(), jobID); err != nil {
		http.Error(w, "Failed to delete job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseJob stops future scheduled runs; the current run, if any, continues.
func (h *JobHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.JobStatusPaused)
}

func (h *JobHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.JobStatusActive)
}

func (h *JobHandler) setStatus(w http.ResponseWriter, r *http.Request, status models.JobStatus) {
	jobID := mux.Vars(r)["jobID"]
	if err := h.repo.SetJobStatus(r.Context(), jobID, status); err != nil {
		http.Error(w, "Failed to update job status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	job, err := h.repo.GetJob(r.Context(), jobID)
	if err != nil || job == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err := h.scheduler.EnsureSchedule(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to reconcile schedule")
	}
	writeJSON(w, http.StatusOK, job)
}

// RunJob triggers an immediate run through a one-off workflow. The run is
// asynchronous; progress is available on the executions API.
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := h.repo.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, "Failed to get job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.IsRunning {
		http.Error(w, "Job is already running", http.StatusConflict)
		return
	}

	workflowID, err := h.scheduler.TriggerRun(r.Context(), jobID)
	if err != nil {
		http.Error(w, "Failed to trigger run: "+err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "workflow_id": workflowID})
}
