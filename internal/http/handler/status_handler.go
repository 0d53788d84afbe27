// Package handler serves the operator HTTP endpoints.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/orb-options-bot/internal/engine"
)

// SnapshotSource returns the current engine state. SessionFailed must not block
// behind tick processing.
type SnapshotSource interface {
	Snapshot() engine.Snapshot
	SessionFailed() bool
}

// StatusHandler は稼働状況に関するHTTPリクエストを処理します。
type StatusHandler struct {
	source SnapshotSource
}

// NewStatusHandler は新しいStatusHandlerを作成します。
func NewStatusHandler(source SnapshotSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// RegisterRoutes はchiルーターにステータス関連のルートを登録します。
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HealthCheckHandler)
	r.Get("/status", h.GetStatus)
}

// GetStatus はエンジンのスナップショットをJSONで返します。
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.source.Snapshot()); err != nil {
		http.Error(w, "Failed to encode status to JSON", http.StatusInternalServerError)
	}
}

// NewRouter returns the operator router with status routes and the metrics endpoint.
// events may be nil, in which case /report is not served.
func NewRouter(source SnapshotSource, events EventSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	NewStatusHandler(source).RegisterRoutes(r)
	if events != nil {
		NewReportHandler(events).RegisterRoutes(r)
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
