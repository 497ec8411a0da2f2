package handlers

import "net/http"

const serviceVersion = "1.0.0"

// NewRootHandler returns GET / handler with basic service info.
func NewRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Air Quality API - station monitoring service",
			"status":  "healthy",
			"version": serviceVersion,
		})
	}
}
