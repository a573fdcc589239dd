package api

import "net/http"

// healthz is a simple health check endpoint for load balancer probes.
// Returns 200 OK with {"ok": true}.
func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
