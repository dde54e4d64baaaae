package httpserver

import "net/http"

// DefaultIngestPath is where devices POST readings
const DefaultIngestPath = "/telemetry-ingest"

// Routes defines HTTP endpoints.
type Routes struct {
	IngestPath string
	Ingest     http.Handler
	Health     http.Handler
	Ready      http.Handler
}

// NewRouter sets up HTTP routing.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Ingest != nil {
		path := routes.IngestPath
		if path == "" {
			path = DefaultIngestPath
		}
		mux.Handle(path, method(http.MethodPost, routes.Ingest.ServeHTTP))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health.ServeHTTP))
	}
	if routes.Ready != nil {
		mux.Handle("/ready", method(http.MethodGet, routes.Ready.ServeHTTP))
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
