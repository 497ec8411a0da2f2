package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Root            http.HandlerFunc
	Health          http.HandlerFunc
	LatestStations  http.HandlerFunc
	RegionStations  http.HandlerFunc
	SchedulerStatus http.HandlerFunc
	SchedulerRun    http.HandlerFunc
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Root != nil {
		mux.Handle("/", method(http.MethodGet, routes.Root))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.LatestStations != nil {
		mux.Handle("/stations/latest", method(http.MethodGet, routes.LatestStations))
	}
	if routes.RegionStations != nil {
		mux.Handle("/stations/region/", method(http.MethodGet, routes.RegionStations))
	}
	if routes.SchedulerStatus != nil {
		mux.Handle("/scheduler/status", method(http.MethodGet, routes.SchedulerStatus))
	}
	if routes.SchedulerRun != nil {
		mux.Handle("/scheduler/run", method(http.MethodPost, routes.SchedulerRun))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
