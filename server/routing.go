package server

import (
	"net/http"
)

// setupHTTPRoutes configures all HTTP handlers
func (s *TabwatchServer) setupHTTPRoutes() {
	s.mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket)) // Status stream (watch lifecycle events)
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	s.mux.HandleFunc("/api/watch/start", s.corsMiddleware(s.HandleWatchStart)) // Register a recurring watch (POST)
	s.mux.HandleFunc("/api/watch/stop", s.corsMiddleware(s.HandleWatchStop))   // Remove a watch (POST)
	s.mux.HandleFunc("/api/region", s.corsMiddleware(s.HandleRegion))          // Capture region (PUT/DELETE)
	s.mux.HandleFunc("/api/status", s.corsMiddleware(s.HandleStatus))          // Alarms + per-tab phases (GET)
	s.mux.HandleFunc("/api/tabs", s.corsMiddleware(s.HandleTabs))              // Open tabs in the browser (GET)
	s.mux.HandleFunc("/api/executions", s.corsMiddleware(s.HandleExecutions))  // Execution history for a tab (GET)
}

// corsMiddleware applies the configured origin allowlist to API responses
func (s *TabwatchServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// checkOrigin validates the Origin header against the configured allowlist.
// Origins are compared by prefix so port suffixes on localhost pass.
func (s *TabwatchServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no origin
		return true
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed || hasOriginPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// hasOriginPrefix matches "http://localhost:8820" against "http://localhost"
func hasOriginPrefix(origin, allowed string) bool {
	if len(origin) <= len(allowed) {
		return false
	}
	return origin[:len(allowed)] == allowed && origin[len(allowed)] == ':'
}
