package handler

import (
	"net/http"
)

// HealthCheckHandler returns 200 OK while the session can still trade and
// 503 once the opening range could not be built.
func (h *StatusHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if h.source.SessionFailed() {
		http.Error(w, "session failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
