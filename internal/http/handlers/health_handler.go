package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/crazysandman/air-quality/internal/scheduler"
)

const healthPingTimeout = 2 * time.Second

// NewHealthHandler returns GET /health handler. It probes database
// connectivity and reports scheduler state; the endpoint itself stays
// 200 so keep-alive monitors can read the detail.
func NewHealthHandler(db *sql.DB, sched Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbStatus := "connected"
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "error: " + err.Error()
		}

		schedState := scheduler.StateIdle
		if sched != nil {
			schedState = sched.Status().State
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"database":  dbStatus,
			"scheduler": schedState,
		})
	}
}
