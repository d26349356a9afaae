package httpapi

import "net/http"

// handleHealthz reports basic process liveness, unconditionally ok — used
// by orchestrators as the coarsest possible check.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports whether the server can currently admit new session
// creations, i.e. whether the store and scheduler are wired up.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLivez is distinct from healthz for orchestrators that page on a
// livez failure but merely reroute traffic on a readyz failure.
func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
