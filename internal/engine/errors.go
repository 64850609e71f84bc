package engine

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrCancellationRequested is returned by a transfer strategy that stopped at
// a batch boundary because the run's cancellation flag was set. It is not a
// failure; the orchestrator finalizes the run as cancelled.
var ErrCancellationRequested = errors.New("cancellation requested")

// ErrJobAlreadyRunning is returned when a run is requested for a job whose
// run lock is held by an in-flight execution.
var ErrJobAlreadyRunning = errors.New("job is already running")

// ErrJobNotFound is returned when a run is requested for an unknown job.
var ErrJobNotFound = errors.New("job not found")

// ConfigurationError marks an invalid incremental configuration on a target
// table. Fatal for that table only; sibling tables keep processing.
type ConfigurationError struct {
	Table  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("table %s: %s", e.Table, e.Reason)
}

// BulkLoadError wraps any failure on the COPY path. The selector decides
// whether it triggers a row-transfer fallback or a table-level failure.
type BulkLoadError struct {
	Table string
	Err   error
}

func (e *BulkLoadError) Error() string {
	return fmt.Sprintf("bulk load failed for %s: %v", e.Table, e.Err)
}

func (e *BulkLoadError) Unwrap() error { return e.Err }

// ConflictError is raised only under the "error" conflict strategy when a
// primary-key collision is hit. Fatal for the affected table.
type ConflictError struct {
	Table string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %v", e.Table, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ConnectionError marks an unreachable source or destination database.
// Fatal for the whole run; no per-table continuation is possible.
type ConnectionError struct {
	Role string // "source" or "destination"
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s database unreachable: %v", e.Role, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
