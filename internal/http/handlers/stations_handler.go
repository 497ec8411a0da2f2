package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/crazysandman/air-quality/internal/service"
)

const regionPathPrefix = "/stations/region/"

// NewLatestStationsHandler returns GET /stations/latest handler.
// Accepts an optional ?limit=N query parameter.
func NewLatestStationsHandler(svc *service.StationsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		stations, err := svc.GetLatest(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch stations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stations": stations,
			"count":    len(stations),
		})
	}
}

// NewRegionStationsHandler returns GET /stations/region/{region} handler.
func NewRegionStationsHandler(svc *service.StationsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		region := strings.TrimPrefix(r.URL.Path, regionPathPrefix)
		region = strings.Trim(region, "/")
		if region == "" || strings.Contains(region, "/") {
			writeError(w, http.StatusBadRequest, "region is required")
			return
		}

		stations, err := svc.GetByRegion(r.Context(), region)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch stations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stations": stations,
			"count":    len(stations),
			"region":   region,
		})
	}
}
