package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/your-org/orb-options-bot/internal/dbwriter"
	"github.com/your-org/orb-options-bot/internal/report"
)

// EventSource returns the journal events recorded so far in this process.
type EventSource interface {
	TradeEvents() []dbwriter.TradeEvent
}

// ReportHandler はセッションレポートのHTTPリクエストを処理します。
type ReportHandler struct {
	events EventSource
}

// NewReportHandler は新しいReportHandlerを作成します。
func NewReportHandler(events EventSource) *ReportHandler {
	return &ReportHandler{events: events}
}

// RegisterRoutes はchiルーターにレポート関連のルートを登録します。
func (h *ReportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/report", h.GetReport)
}

// GetReport は当日の完了済み取引の分析結果を返します。
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := report.Analyze(h.events.TradeEvents())
	if err != nil && !errors.Is(err, report.ErrNoTrades) {
		http.Error(w, "Failed to build report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, "Failed to encode report to JSON", http.StatusInternalServerError)
	}
}
