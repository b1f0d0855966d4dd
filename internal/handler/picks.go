package handler

import (
	"net/http"

	"github.com/tradesignal/billing-server-go/internal/middleware"
	"github.com/tradesignal/billing-server-go/internal/service"
)

type PicksHandler struct {
	picks       *service.PicksService
	trackRecord *service.TrackRecordService
}

func NewPicksHandler(picks *service.PicksService, trackRecord *service.TrackRecordService) *PicksHandler {
	return &PicksHandler{
		picks:       picks,
		trackRecord: trackRecord,
	}
}

// GET /daily-picks
func (h *PicksHandler) DailyPicks(w http.ResponseWriter, r *http.Request) {
	result, err := h.picks.Today(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /track-record
// Public; optional symbol and status filters.
func (h *PicksHandler) TrackRecord(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)
	q := r.URL.Query()

	result, err := h.trackRecord.Get(r.Context(), service.TrackRecordQuery{
		Limit:  page.Limit,
		Offset: page.Offset,
		Symbol: q.Get("symbol"),
		Status: q.Get("status"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
