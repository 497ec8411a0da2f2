package handlers

import (
	"errors"
	"net/http"

	"github.com/crazysandman/air-quality/internal/scheduler"
)

// Scheduler is what the handlers need from the run scheduler.
type Scheduler interface {
	TriggerManual() (int64, error)
	Status() scheduler.Status
}

// NewSchedulerRunHandler returns POST /scheduler/run handler. The run
// executes in the background; the response only reflects acceptance.
func NewSchedulerRunHandler(sched Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := sched.TriggerManual()
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "already running")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to trigger run")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "accepted",
			"run_id": runID,
		})
	}
}

// NewSchedulerStatusHandler returns GET /scheduler/status handler.
func NewSchedulerStatusHandler(sched Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sched.Status())
	}
}
